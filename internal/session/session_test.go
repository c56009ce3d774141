package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sharedash/internal/fs"
	"sharedash/internal/process"
)

// treeStore 内存中的文件夹树，上传记录到 uploads
type treeStore struct {
	mu       sync.Mutex
	children map[string][]fs.Entry
	files    map[string][]byte
	uploads  map[string][]byte // key: folderPath + "|" + name

	started chan struct{} // 非 nil 时 Download 通知并等待 release
	release chan struct{}
}

func newTreeStore() *treeStore {
	return &treeStore{
		children: map[string][]fs.Entry{
			"":   {folder("F1", "Reports"), folder("F2", "Archive"), file("A1", "a.csv")},
			"F1": {folder("S1", "Q1"), file("B1", "b.csv")},
			"S1": {},
			"F2": {},
		},
		files:   map[string][]byte{"A1": []byte("a"), "B1": []byte("b")},
		uploads: map[string][]byte{},
	}
}

func folder(id, name string) fs.Entry { return fs.Entry{ID: id, Name: name, Kind: fs.KindFolder} }
func file(id, name string) fs.Entry   { return fs.Entry{ID: id, Name: name, Kind: fs.KindFile} }

func (s *treeStore) ListChildren(_ context.Context, _ string, folderID string) ([]fs.Entry, error) {
	return s.children[folderID], nil
}

func (s *treeStore) Download(ctx context.Context, _ string, fileID string) ([]byte, error) {
	if s.started != nil {
		s.started <- struct{}{}
		<-s.release
	}
	return s.files[fileID], nil
}

func (s *treeStore) Upload(_ context.Context, _ string, folderPath, name string, content []byte) (fs.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[folderPath+"|"+name] = content
	return fs.Entry{ID: "up-" + name, Name: name, Kind: fs.KindFile}, nil
}

func newSession(store fs.Store) *Session {
	return New(&Options{Store: store, ContainerID: "drive"})
}

func mustListing(t *testing.T, s *Session) {
	t.Helper()
	if _, err := s.Listing(context.Background()); err != nil {
		t.Fatalf("Listing: %v", err)
	}
}

func TestRunUploadsToChosenDestination(t *testing.T) {
	store := newTreeStore()
	s := newSession(store)

	// 选择 /a.csv 和 /Reports/b.csv
	mustListing(t, s)
	if _, err := s.Toggle(file("A1", "a.csv")); err != nil {
		t.Fatal(err)
	}
	if err := s.Enter(folder("F1", "Reports")); err != nil {
		t.Fatal(err)
	}
	mustListing(t, s)
	if _, err := s.Toggle(file("B1", "b.csv")); err != nil {
		t.Fatal(err)
	}

	// 上传目录: /Reports/Q1
	if err := s.BeginDestination(); err != nil {
		t.Fatal(err)
	}
	if s.Path() != "/" {
		t.Errorf("destination browser should start at root, got %q", s.Path())
	}
	mustListing(t, s)
	if err := s.Enter(folder("F1", "Reports")); err != nil {
		t.Fatal(err)
	}
	mustListing(t, s)
	if err := s.Enter(folder("S1", "Q1")); err != nil {
		t.Fatal(err)
	}
	path, err := s.ConfirmDestination()
	if err != nil || path != "/Reports/Q1" {
		t.Fatalf("ConfirmDestination = %q, %v", path, err)
	}
	if s.BrowsePath() != "/Reports" {
		t.Errorf("browse path changed to %q", s.BrowsePath())
	}

	run, err := s.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if run.Succeeded() != 2 || run.Destination != "Reports/Q1" {
		t.Errorf("run = %+v", run)
	}
	if string(store.uploads["Reports/Q1|processed_a.csv"]) != "a" {
		t.Errorf("uploads = %v", store.uploads)
	}
	if len(s.Selection()) != 2 {
		t.Error("selection should be kept after a run")
	}
}

func TestCancelDestinationRestoresPreviousChoice(t *testing.T) {
	s := newSession(newTreeStore())

	_ = s.BeginDestination()
	mustListing(t, s)
	if err := s.Enter(folder("F2", "Archive")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConfirmDestination(); err != nil {
		t.Fatal(err)
	}

	_ = s.BeginDestination()
	if _, err := s.Back(); err != nil {
		t.Fatal(err)
	}
	mustListing(t, s)
	if err := s.Enter(folder("F1", "Reports")); err != nil {
		t.Fatal(err)
	}
	if err := s.CancelDestination(); err != nil {
		t.Fatal(err)
	}

	if got := s.DestinationPath(); got != "/Archive" {
		t.Errorf("DestinationPath = %q, want /Archive", got)
	}
	if s.Choosing() {
		t.Error("still choosing after cancel")
	}
}

func TestSelectionDisabledWhileChoosing(t *testing.T) {
	s := newSession(newTreeStore())
	_ = s.BeginDestination()
	if _, err := s.Toggle(file("A1", "a.csv")); !errors.Is(err, ErrChoosing) {
		t.Fatalf("Toggle err = %v, want ErrChoosing", err)
	}
	if _, err := s.Run(context.Background(), nil); !errors.Is(err, ErrChoosing) {
		t.Fatalf("Run err = %v, want ErrChoosing", err)
	}
}

func TestRunRequiresSelection(t *testing.T) {
	s := newSession(newTreeStore())
	if _, err := s.Run(context.Background(), nil); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("err = %v, want ErrEmptySelection", err)
	}
}

func TestCommandsRejectedWhileRunning(t *testing.T) {
	store := newTreeStore()
	store.started = make(chan struct{})
	store.release = make(chan struct{})
	s := newSession(store)

	mustListing(t, s)
	if _, err := s.Toggle(file("A1", "a.csv")); err != nil {
		t.Fatal(err)
	}

	done := make(chan *process.Run)
	go func() {
		run, err := s.Run(context.Background(), nil)
		if err != nil {
			t.Error(err)
		}
		done <- run
	}()
	<-store.started

	if !s.Running() {
		t.Error("Running() = false during a run")
	}
	if _, err := s.Toggle(file("A1", "a.csv")); !errors.Is(err, ErrBusy) {
		t.Errorf("Toggle err = %v, want ErrBusy", err)
	}
	if err := s.Enter(folder("F1", "Reports")); !errors.Is(err, ErrBusy) {
		t.Errorf("Enter err = %v, want ErrBusy", err)
	}
	if _, err := s.Run(context.Background(), nil); !errors.Is(err, ErrBusy) {
		t.Errorf("second Run err = %v, want ErrBusy", err)
	}

	close(store.release)
	run := <-done
	if run.Succeeded() != 1 {
		t.Errorf("run = %+v", run)
	}
	if s.Running() {
		t.Error("Running() = true after the run finished")
	}
	if _, err := s.Toggle(file("A1", "a.csv")); err != nil {
		t.Errorf("Toggle after run: %v", err)
	}
}

func TestDownloadRejectsFolders(t *testing.T) {
	s := newSession(newTreeStore())
	if _, err := s.Download(context.Background(), folder("F1", "Reports")); !errors.Is(err, fs.ErrSelection) {
		t.Fatalf("err = %v, want ErrSelection", err)
	}
}
