package process

import (
	"errors"
	"fmt"
	"time"

	"sharedash/internal/fs"
)

// Status 单个文件在处理流程中的状态
// Pending -> Downloading -> Transforming -> Uploading -> Done，任一步失败进入 Failed
type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusTransforming
	StatusUploading
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDownloading:
		return "downloading"
	case StatusTransforming:
		return "transforming"
	case StatusUploading:
		return "uploading"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal Done 和 Failed 为终态
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// TransformFunc 注入的数据处理函数，同步执行
type TransformFunc func(data []byte) ([]byte, error)

// Identity 原样返回输入
func Identity(data []byte) ([]byte, error) {
	return data, nil
}

// FileResult 单个文件的处理状态，各文件之间不共享任何可变数据
type FileResult struct {
	Name   string
	ID     string
	Status Status
	Err    error    // 仅 Failed 时非空
	Output fs.Entry // 仅 Done 时有效，上传后远端返回的节点
}

// Run 一次批处理的结果，顺序与选择集一致
type Run struct {
	Destination string // 上传目标路径 (API 格式)
	Results     []FileResult
	Started     time.Time
	Finished    time.Time
}

func (r *Run) Succeeded() int {
	return r.count(StatusDone)
}

func (r *Run) Failed() int {
	return r.count(StatusFailed)
}

func (r *Run) count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Err 汇总所有失败文件的错误，全部成功时返回 nil
func (r *Run) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}

// OutputName 上传文件名 = 固定前缀 + 原文件名
func OutputName(prefix, name string) string {
	return prefix + name
}
