package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"sharedash/internal/explorer"
	"sharedash/internal/fs"
	"sharedash/internal/process"
)

var (
	// ErrBusy 批处理进行中，导航/选择/再次运行都被拒绝
	ErrBusy = errors.New("a processing run is in progress")
	// ErrEmptySelection 没有选中任何文件
	ErrEmptySelection = errors.New("no files selected")
	// ErrChoosing 正在选择上传目录，需要先 ok 或 cancel
	ErrChoosing = errors.New("finish choosing the upload destination first")
)

// Options 会话参数，处理相关字段原样传给 process.Processor
type Options struct {
	Store        fs.Store
	ContainerID  string
	OutputPrefix string
	Transform    process.TransformFunc
	MaxWorkers   int
}

// Session 一个用户会话：浏览器和上传目录浏览器互相独立，命令与批处理互斥
type Session struct {
	opts *Options

	mu       sync.Mutex
	browse   *explorer.FolderExplorer
	dest     *explorer.FolderExplorer
	choosing bool
	saved    []explorer.Crumb // 开始选择上传目录时的位置，cancel 时恢复

	running atomic.Bool
}

func New(opts *Options) *Session {
	return &Session{
		opts:   opts,
		browse: explorer.NewFolderExplorer(opts.Store, opts.ContainerID),
		dest:   explorer.NewFolderExplorer(opts.Store, opts.ContainerID),
	}
}

// lock 获取命令锁，批处理进行中返回 ErrBusy
func (s *Session) lock() error {
	s.mu.Lock()
	if s.running.Load() {
		s.mu.Unlock()
		return ErrBusy
	}
	return nil
}

// active 当前命令作用的浏览器
func (s *Session) active() *explorer.FolderExplorer {
	if s.choosing {
		return s.dest
	}
	return s.browse
}

// Listing 列出当前浏览器 (选择上传目录时为目标浏览器) 所在文件夹
func (s *Session) Listing(ctx context.Context) (explorer.Listing, error) {
	if err := s.lock(); err != nil {
		return explorer.Listing{}, err
	}
	defer s.mu.Unlock()
	return s.active().CurrentListing(ctx)
}

// Enter 进入当前列表中的子文件夹
func (s *Session) Enter(entry fs.Entry) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.active().EnterFolder(entry)
}

// Back 返回上一级，根目录时返回 false
func (s *Session) Back() (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.active().GoBack(), nil
}

// Root 回到根目录，用于远端文件夹失效后的手动恢复
func (s *Session) Root() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.active().Reset()
	return nil
}

// Toggle 切换文件选中状态，只在浏览模式下可用
func (s *Session) Toggle(entry fs.Entry) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	if s.choosing {
		return false, ErrChoosing
	}
	return s.browse.ToggleFileSelection(entry)
}

func (s *Session) IsSelected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browse.IsSelected(id)
}

func (s *Session) ClearSelection() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.browse.ClearSelection()
	return nil
}

// Selection 选中文件的快照，按选中顺序
func (s *Session) Selection() []explorer.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browse.Selection()
}

// BeginDestination 进入上传目录选择模式，已在选择中时为空操作
func (s *Session) BeginDestination() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.choosing {
		return nil
	}
	s.saved = s.dest.Crumbs()
	s.choosing = true
	return nil
}

// ConfirmDestination 采用当前位置作为上传目录
func (s *Session) ConfirmDestination() (string, error) {
	if err := s.lock(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	s.choosing = false
	s.saved = nil
	slog.Info("上传目录已设置", "path", s.dest.Path())
	return s.dest.Path(), nil
}

// CancelDestination 放弃选择，上传目录恢复为开始选择前的位置
func (s *Session) CancelDestination() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if !s.choosing {
		return nil
	}
	s.dest.RestoreCrumbs(s.saved)
	s.choosing = false
	s.saved = nil
	return nil
}

func (s *Session) Choosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.choosing
}

// Path 当前浏览器的显示路径
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active().Path()
}

// BrowsePath 浏览器的显示路径
func (s *Session) BrowsePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browse.Path()
}

// DestinationPath 上传目录的显示路径
func (s *Session) DestinationPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dest.Path()
}

// Download 读取文件内容 (用于 stats 等只读命令)
func (s *Session) Download(ctx context.Context, entry fs.Entry) ([]byte, error) {
	if !entry.IsFile() {
		return nil, fmt.Errorf("%w: %q 不是文件", fs.ErrSelection, entry.Name)
	}
	return s.opts.Store.Download(ctx, s.opts.ContainerID, entry.ID)
}

// Running 是否有批处理在进行
func (s *Session) Running() bool {
	return s.running.Load()
}

// Run 对选中文件执行批处理，上传到上传目录；同一会话同时只能有一个批处理
// 选择集在处理后保留，由用户决定是否清空
func (s *Session) Run(ctx context.Context, onStatus func(process.FileResult)) (*process.Run, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	if s.choosing {
		s.mu.Unlock()
		return nil, ErrChoosing
	}
	files := s.browse.Selection()
	if len(files) == 0 {
		s.mu.Unlock()
		return nil, ErrEmptySelection
	}
	destination := s.dest.APIPath()
	// 持锁置位，之后的命令都会看到 running
	s.running.Store(true)
	s.mu.Unlock()
	defer s.running.Store(false)

	processor := process.NewProcessor(&process.Options{
		Store:           s.opts.Store,
		ContainerID:     s.opts.ContainerID,
		DestinationPath: destination,
		OutputPrefix:    s.opts.OutputPrefix,
		Transform:       s.opts.Transform,
		MaxWorkers:      s.opts.MaxWorkers,
		OnStatus:        onStatus,
	})
	return processor.Run(ctx, files), nil
}
