package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sharedash/internal/explorer"
	"sharedash/internal/fs"
	"sharedash/internal/metrics"
)

const DefaultOutputPrefix = "processed_"

// Options 初始化选项
type Options struct {
	Store           fs.Store
	ContainerID     string
	DestinationPath string // 上传目标 NavigationStack 的 API 路径，根目录为空串
	OutputPrefix    string
	Transform       TransformFunc
	MaxWorkers      int // <=1 时顺序处理

	// OnStatus 每次状态变化时调用，调用被串行化
	OnStatus func(FileResult)
}

// Processor 依次对选中文件执行 下载 -> 处理 -> 上传
type Processor struct {
	opts *Options
	mu   sync.Mutex // 串行化 OnStatus
}

func NewProcessor(opts *Options) *Processor {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.OutputPrefix == "" {
		opts.OutputPrefix = DefaultOutputPrefix
	}
	if opts.Transform == nil {
		opts.Transform = Identity
	}
	return &Processor{opts: opts}
}

// Run 处理全部文件。单个文件失败不会中断批处理；ctx 取消后尚未完成的文件标记为 Failed
func (p *Processor) Run(ctx context.Context, files []explorer.Item) *Run {
	run := &Run{
		Destination: p.opts.DestinationPath,
		Results:     make([]FileResult, len(files)),
		Started:     time.Now(),
	}
	for i, f := range files {
		run.Results[i] = FileResult{Name: f.Name, ID: f.ID, Status: StatusPending}
	}

	slog.Info("开始处理",
		"files", len(files),
		"destination", "/"+p.opts.DestinationPath,
		"workers", p.opts.MaxWorkers,
	)

	if p.opts.MaxWorkers == 1 {
		for i := range run.Results {
			p.processFile(ctx, &run.Results[i])
		}
	} else {
		// 每个 goroutine 只写自己的 Results[i]
		var g errgroup.Group
		g.SetLimit(p.opts.MaxWorkers)
		for i := range run.Results {
			res := &run.Results[i]
			g.Go(func() error {
				p.processFile(ctx, res)
				return nil
			})
		}
		_ = g.Wait()
	}

	run.Finished = time.Now()
	slog.Info("处理结束",
		"done", run.Succeeded(),
		"failed", run.Failed(),
		"elapsed", run.Finished.Sub(run.Started).Round(time.Millisecond),
	)
	return run
}

// processFile 单个文件的状态机，错误作为数据记录在 res 中
func (p *Processor) processFile(ctx context.Context, res *FileResult) {
	// 1. 下载
	if !p.advance(ctx, res, StatusDownloading) {
		return
	}
	data, err := p.opts.Store.Download(ctx, p.opts.ContainerID, res.ID)
	if err != nil {
		p.fail(res, remoteErr("下载", err))
		return
	}

	// 2. 处理
	if !p.advance(ctx, res, StatusTransforming) {
		return
	}
	out, err := p.transform(data)
	if err != nil {
		p.fail(res, err)
		return
	}

	// 3. 上传
	if !p.advance(ctx, res, StatusUploading) {
		return
	}
	name := OutputName(p.opts.OutputPrefix, res.Name)
	entry, err := p.opts.Store.Upload(ctx, p.opts.ContainerID, p.opts.DestinationPath, name, out)
	if err != nil {
		p.fail(res, remoteErr("上传", err))
		return
	}

	res.Output = entry
	p.set(res, StatusDone)
	metrics.ObserveFile(StatusDone.String())
	slog.Info("文件处理完成", "file", res.Name, "output", name, "bytes", len(out))
}

// advance 在每一步之前检查取消，已取消则直接失败
func (p *Processor) advance(ctx context.Context, res *FileResult, next Status) bool {
	if err := ctx.Err(); err != nil {
		p.fail(res, err)
		return false
	}
	p.set(res, next)
	return true
}

// transform 调用注入的处理函数，panic 也视为处理失败
func (p *Processor) transform(data []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", fs.ErrTransform, r)
		}
	}()
	out, err = p.opts.Transform(data)
	if err != nil && !errors.Is(err, fs.ErrTransform) {
		err = fmt.Errorf("%w: %w", fs.ErrTransform, err)
	}
	return out, err
}

func (p *Processor) fail(res *FileResult, err error) {
	res.Err = err
	p.set(res, StatusFailed)
	metrics.ObserveFile(StatusFailed.String())
	slog.Error("文件处理失败", "file", res.Name, "id", res.ID, "err", err)
}

func (p *Processor) set(res *FileResult, s Status) {
	res.Status = s
	if p.opts.OnStatus == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.OnStatus(*res)
}

func remoteErr(op string, err error) error {
	if errors.Is(err, fs.ErrRemoteFetch) {
		return fmt.Errorf("%s失败: %w", op, err)
	}
	return fmt.Errorf("%s失败: %w: %w", op, fs.ErrRemoteFetch, err)
}
