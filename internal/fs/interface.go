package fs

import (
	"context"
	"time"
)

// Kind 区分远端节点类型，抓取时确定，之后不再变化
type Kind int

const (
	KindFolder Kind = iota
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Entry 远端存储中的一个节点 (文件夹或文件)
type Entry struct {
	ID      string    // 远端分配的稳定 ID，容器内唯一
	Name    string    // 显示名称，同一文件夹内唯一
	Kind    Kind      // 抓取时确定
	Size    int64     // 文件大小，文件夹为 0
	ModTime time.Time // 最后修改时间 (可能为零值)
}

func (e Entry) IsFolder() bool { return e.Kind == KindFolder }

func (e Entry) IsFile() bool { return e.Kind == KindFile }

// Store 是对远端文档存储的统一抽象 (Graph 网盘或本地目录)
type Store interface {
	// ListChildren 列出文件夹的直接子节点，folderID 为空表示容器根目录
	ListChildren(ctx context.Context, containerID, folderID string) ([]Entry, error)

	// Download 读取文件的全部内容
	Download(ctx context.Context, containerID, fileID string) ([]byte, error)

	// Upload 将内容写入 folderPath/name，folderPath 为 "/" 拼接的名称，空串表示根目录
	Upload(ctx context.Context, containerID, folderPath, name string, content []byte) (Entry, error)
}

// TokenProvider 提供 Bearer 凭证，过期与刷新由实现内部管理
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}
