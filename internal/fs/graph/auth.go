package graph

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"sharedash/internal/database"
	"sharedash/internal/fs"
	"sharedash/internal/metrics"
)

// DefaultScope 应用权限 (client_credentials) 使用的 scope
const DefaultScope = "https://graph.microsoft.com/.default"

// DelegatedScopes 用户登录 (authorization_code) 默认申请的权限
var DelegatedScopes = []string{"Files.ReadWrite.All", "Sites.ReadWrite.All", "offline_access"}

// Source 获取新令牌，current 为当前 (可能已过期) 的令牌，可能为 nil
type Source func(ctx context.Context, current *oauth2.Token) (*oauth2.Token, error)

// Endpoint Azure AD v2 端点
func Endpoint(loginURL, tenantID string) oauth2.Endpoint {
	base := strings.TrimSuffix(loginURL, "/") + "/" + url.PathEscape(tenantID) + "/oauth2/v2.0"
	return oauth2.Endpoint{
		AuthURL:   base + "/authorize",
		TokenURL:  base + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// ClientCredentialsSource 应用身份获取令牌，没有 refresh token
func ClientCredentialsSource(cc *clientcredentials.Config) Source {
	return func(ctx context.Context, _ *oauth2.Token) (*oauth2.Token, error) {
		return cc.Token(ctx)
	}
}

// RefreshSource 使用登录后保存的 refresh token 续期
func RefreshSource(conf *oauth2.Config) Source {
	return func(ctx context.Context, current *oauth2.Token) (*oauth2.Token, error) {
		if current == nil || current.RefreshToken == "" {
			return nil, errors.New("没有可用的 refresh token，请先执行 sharedash login")
		}
		return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	}
}

// CachedProvider 实现 fs.TokenProvider
// 内存缓存 + bbolt 持久化，并发的过期请求只触发一次获取
type CachedProvider struct {
	source Source
	db     *database.DB // 可为 nil
	key    string

	mu    sync.Mutex
	token *oauth2.Token
	group singleflight.Group
}

var _ fs.TokenProvider = (*CachedProvider)(nil)

// NewCachedProvider key 用于区分不同的 tenant/client/认证方式
func NewCachedProvider(source Source, db *database.DB, key string) *CachedProvider {
	return &CachedProvider{source: source, db: db, key: key}
}

// CacheKey 生成令牌缓存的 Key
func CacheKey(tenantID, clientID, mode string) string {
	return tenantID + ":" + clientID + ":" + mode
}

// Token 返回有效的 access token，临近过期时自动获取新的
func (p *CachedProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	tok := p.token
	p.mu.Unlock()
	if tok.Valid() {
		return tok.AccessToken, nil
	}

	// 共享的获取不跟随某一个调用方的取消，各调用方只放弃自己的等待
	shared := context.WithoutCancel(ctx)
	ch := p.group.DoChan("token", func() (interface{}, error) {
		return p.fetch(shared)
	})
	var v interface{}
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		v = res.Val
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return v.(string), nil
}

func (p *CachedProvider) fetch(ctx context.Context) (string, error) {
	p.mu.Lock()
	current := p.token
	p.mu.Unlock()
	if current.Valid() {
		return current.AccessToken, nil
	}

	// 1. 首次使用时先看数据库里有没有上次保存的令牌
	if current == nil && p.db != nil {
		rec, err := p.db.GetToken(p.key)
		if err != nil {
			slog.Warn("读取令牌缓存失败", "err", err)
		} else if rec != nil {
			stored := &oauth2.Token{
				AccessToken:  rec.AccessToken,
				TokenType:    rec.TokenType,
				RefreshToken: rec.RefreshToken,
				Expiry:       rec.Expiry,
			}
			// 快过期的令牌不再使用，避免请求途中失效
			if stored.Valid() && !rec.ExpiresWithin(time.Minute) {
				p.setToken(stored)
				slog.Debug("使用缓存的令牌", "expiry", rec.Expiry)
				return stored.AccessToken, nil
			}
			current = stored
		}
	}

	// 2. 向认证服务器获取
	tok, err := p.source(ctx, current)
	metrics.ObserveTokenFetch(err)
	if err != nil {
		return "", fmt.Errorf("%w: %w", fs.ErrAuth, err)
	}
	if tok.RefreshToken == "" && current != nil {
		tok.RefreshToken = current.RefreshToken
	}
	slog.Info("获取新令牌成功", "expiry", tok.Expiry)

	// 3. 写回缓存
	p.setToken(tok)
	p.persist(tok)
	return tok.AccessToken, nil
}

// Seed 写入登录流程得到的令牌
func (p *CachedProvider) Seed(tok *oauth2.Token) {
	p.setToken(tok)
	p.persist(tok)
}

// Invalidate 丢弃 access token (远端返回 401 时调用)，保留 refresh token
func (p *CachedProvider) Invalidate() {
	p.mu.Lock()
	refresh := ""
	if p.token != nil {
		refresh = p.token.RefreshToken
	}
	p.token = &oauth2.Token{RefreshToken: refresh}
	p.mu.Unlock()

	if p.db == nil {
		return
	}
	var err error
	if refresh == "" {
		err = p.db.DeleteToken(p.key)
	} else {
		err = p.db.PutToken(&database.TokenRecord{Key: p.key, RefreshToken: refresh})
	}
	if err != nil {
		slog.Warn("更新令牌缓存失败", "err", err)
	}
}

func (p *CachedProvider) setToken(tok *oauth2.Token) {
	p.mu.Lock()
	p.token = tok
	p.mu.Unlock()
}

func (p *CachedProvider) persist(tok *oauth2.Token) {
	if p.db == nil {
		return
	}
	rec := &database.TokenRecord{
		Key:          p.key,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if err := p.db.PutToken(rec); err != nil {
		slog.Warn("保存令牌失败", "err", err)
	}
}

// Login 授权码登录：在 redirectURL 上临时监听回调，校验 state 后换取令牌
// prompt 负责把授权地址展示给用户
func Login(ctx context.Context, conf *oauth2.Config, prompt func(authURL string)) (*oauth2.Token, error) {
	redirect, err := url.Parse(conf.RedirectURL)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("%w: 无效的回调地址 %q", fs.ErrAuth, conf.RedirectURL)
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("监听回调地址失败: %w", err)
	}

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res result
		switch {
		case q.Get("error") != "":
			res.err = fmt.Errorf("%w: %s: %s", fs.ErrAuth, q.Get("error"), q.Get("error_description"))
		case q.Get("state") != state:
			res.err = fmt.Errorf("%w: state 不匹配", fs.ErrAuth)
		case q.Get("code") == "":
			res.err = fmt.Errorf("%w: 回调中没有 code", fs.ErrAuth)
		default:
			res.code = q.Get("code")
		}
		if res.err != nil {
			http.Error(w, "登录失败，请返回终端查看", http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "登录成功，可以关闭此窗口。")
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("回调服务异常退出", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	prompt(conf.AuthCodeURL(state))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		tok, err := conf.Exchange(ctx, res.code)
		metrics.ObserveTokenFetch(err)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fs.ErrAuth, err)
		}
		return tok, nil
	}
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
