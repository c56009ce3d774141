package graph

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"sharedash/internal/database"
	"sharedash/internal/fs"
)

func countingSource(calls *atomic.Int32) Source {
	return func(ctx context.Context, current *oauth2.Token) (*oauth2.Token, error) {
		n := calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &oauth2.Token{
			AccessToken:  "tok-" + string(rune('0'+n)),
			RefreshToken: "refresh",
			Expiry:       time.Now().Add(time.Hour),
		}, nil
	}
}

func TestCachedProviderFetchesOnceForConcurrentCallers(t *testing.T) {
	var calls atomic.Int32
	p := NewCachedProvider(countingSource(&calls), nil, "k")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok, err := p.Token(context.Background()); err != nil || tok != "tok-1" {
				t.Errorf("Token = %q, %v", tok, err)
			}
		}()
	}
	wg.Wait()
	if calls.Load() != 1 {
		t.Errorf("source called %d times, want 1", calls.Load())
	}
}

func TestCachedProviderFirstCallerCancelDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	src := func(ctx context.Context, current *oauth2.Token) (*oauth2.Token, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &oauth2.Token{AccessToken: "shared", Expiry: time.Now().Add(time.Hour)}, nil
	}
	p := NewCachedProvider(src, nil, "k")

	ctx1, cancel1 := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := p.Token(ctx1)
		first <- err
	}()
	<-started

	second := make(chan string, 1)
	go func() {
		tok, err := p.Token(context.Background())
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		second <- tok
	}()

	cancel1()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller err = %v, want context.Canceled", err)
	}
	close(release)

	select {
	case tok := <-second:
		if tok != "shared" {
			t.Errorf("second caller token = %q, want shared", tok)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never returned")
	}
}

func TestCachedProviderPersistsAcrossInstances(t *testing.T) {
	db, err := database.NewBoltDB(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var calls atomic.Int32
	first := NewCachedProvider(countingSource(&calls), db, "tenant:client:mode")
	if _, err := first.Token(context.Background()); err != nil {
		t.Fatal(err)
	}

	second := NewCachedProvider(countingSource(&calls), db, "tenant:client:mode")
	tok, err := second.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "tok-1" || calls.Load() != 1 {
		t.Errorf("second provider got %q after %d fetches, want cached tok-1", tok, calls.Load())
	}
}

func TestCachedProviderInvalidateRefetches(t *testing.T) {
	var calls atomic.Int32
	var seen *oauth2.Token
	p := NewCachedProvider(func(ctx context.Context, current *oauth2.Token) (*oauth2.Token, error) {
		seen = current
		calls.Add(1)
		return &oauth2.Token{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, nil
	}, nil, "k")
	p.Seed(&oauth2.Token{AccessToken: "old", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)})

	if tok, _ := p.Token(context.Background()); tok != "old" {
		t.Fatalf("Token = %q, want seeded token", tok)
	}
	p.Invalidate()
	tok, err := p.Token(context.Background())
	if err != nil || tok != "fresh" {
		t.Fatalf("Token = %q, %v", tok, err)
	}
	if seen == nil || seen.RefreshToken != "r1" {
		t.Errorf("source saw %+v, want refresh token r1", seen)
	}
	// refresh token 没有轮换时保留旧值
	if p.token.RefreshToken != "r1" {
		t.Errorf("refresh token = %q, want r1", p.token.RefreshToken)
	}
}

func TestCachedProviderWrapsSourceErrors(t *testing.T) {
	p := NewCachedProvider(func(context.Context, *oauth2.Token) (*oauth2.Token, error) {
		return nil, errors.New("invalid_client")
	}, nil, "k")
	if _, err := p.Token(context.Background()); !errors.Is(err, fs.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}

func TestRefreshSourceWithoutRefreshToken(t *testing.T) {
	src := RefreshSource(&oauth2.Config{})
	if _, err := src(context.Background(), nil); err == nil {
		t.Fatal("expected error without a refresh token")
	}
}

func newTokenServer(t *testing.T, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Error(err)
		}
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":3600,"refresh_token":"rt"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientCredentialsEndToEnd(t *testing.T) {
	loginSrv := newTokenServer(t, func(r *http.Request) {
		if r.URL.Path != "/tenant-1/oauth2/v2.0/token" {
			t.Errorf("token path = %q", r.URL.Path)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" || r.PostForm.Get("scope") != DefaultScope {
			t.Errorf("form = %v", r.PostForm)
		}
	})
	graphSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte("data"))
	}))
	defer graphSrv.Close()

	cc := &clientcredentials.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     Endpoint(loginSrv.URL, "tenant-1").TokenURL,
		Scopes:       []string{DefaultScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokens := NewCachedProvider(ClientCredentialsSource(cc), nil, CacheKey("tenant-1", "client", "cc"))
	client := NewClient(&Options{BaseURL: graphSrv.URL, Tokens: tokens})

	body, err := client.Download(context.Background(), "d1", "X")
	if err != nil || string(body) != "data" {
		t.Fatalf("Download = %q, %v", body, err)
	}
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestLoginExchangesCode(t *testing.T) {
	loginSrv := newTokenServer(t, func(r *http.Request) {
		if r.PostForm.Get("code") != "the-code" {
			t.Errorf("code = %q", r.PostForm.Get("code"))
		}
	})
	conf := &oauth2.Config{
		ClientID:    "client",
		Endpoint:    Endpoint(loginSrv.URL, "tenant-1"),
		RedirectURL: "http://" + freePort(t) + "/callback",
		Scopes:      DelegatedScopes,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tok, err := Login(ctx, conf, func(authURL string) {
		u, err := url.Parse(authURL)
		if err != nil {
			t.Error(err)
			return
		}
		state := u.Query().Get("state")
		go func() {
			resp, err := http.Get(conf.RedirectURL + "?code=the-code&state=" + url.QueryEscape(state))
			if err == nil {
				resp.Body.Close()
			}
		}()
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok.AccessToken != "abc" || tok.RefreshToken != "rt" {
		t.Errorf("token = %+v", tok)
	}
}

func TestLoginRejectsWrongState(t *testing.T) {
	conf := &oauth2.Config{
		ClientID:    "client",
		Endpoint:    Endpoint("http://127.0.0.1:1", "tenant-1"),
		RedirectURL: "http://" + freePort(t) + "/callback",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Login(ctx, conf, func(string) {
		go func() {
			resp, err := http.Get(conf.RedirectURL + "?code=c&state=forged")
			if err == nil {
				resp.Body.Close()
			}
		}()
	})
	if !errors.Is(err, fs.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}

func TestInvalidateDropsStoredAccessToken(t *testing.T) {
	db, err := database.NewBoltDB(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	p := NewCachedProvider(nil, db, "k")
	p.Seed(&oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)})
	p.Invalidate()

	rec, err := db.GetToken("k")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.AccessToken != "" || rec.RefreshToken != "r" {
		t.Errorf("record after Invalidate = %+v, want refresh token only", rec)
	}

	cc := NewCachedProvider(nil, db, "cc")
	cc.Seed(&oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)})
	cc.Invalidate()
	if rec, _ := db.GetToken("cc"); rec != nil {
		t.Errorf("client-credentials record should be deleted, got %+v", rec)
	}
}
