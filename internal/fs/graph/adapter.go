package graph

import (
	"context"
	"log/slog"

	"sharedash/internal/fs"
)

// Adapter 实现了 fs.Store 接口，容器 ID 即 Graph 的 drive ID
type Adapter struct {
	client *Client
}

var _ fs.Store = (*Adapter)(nil)

func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// ListChildren 在边界处把 DriveItem 转换成 fs.Entry
func (a *Adapter) ListChildren(ctx context.Context, containerID, folderID string) ([]fs.Entry, error) {
	items, err := a.client.ListChildren(ctx, containerID, folderID)
	if err != nil {
		return nil, err
	}

	entries := make([]fs.Entry, 0, len(items))
	for _, item := range items {
		entry, ok := toEntry(item)
		if !ok {
			// 例如 OneNote 笔记本等 package 节点
			slog.Debug("忽略既不是文件也不是文件夹的节点", "name", item.Name, "id", item.ID)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (a *Adapter) Download(ctx context.Context, containerID, fileID string) ([]byte, error) {
	return a.client.Download(ctx, containerID, fileID)
}

func (a *Adapter) Upload(ctx context.Context, containerID, folderPath, name string, content []byte) (fs.Entry, error) {
	item, err := a.client.Upload(ctx, containerID, folderPath, name, content)
	if err != nil {
		return fs.Entry{}, err
	}
	entry, ok := toEntry(*item)
	if !ok {
		// 上传接口只会返回文件
		entry = fs.Entry{ID: item.ID, Name: item.Name, Kind: fs.KindFile, Size: item.Size, ModTime: item.LastModifiedDateTime}
	}
	return entry, nil
}

// toEntry 根据 facet 判断类型，类型只在这里确定一次
func toEntry(item DriveItem) (fs.Entry, bool) {
	entry := fs.Entry{
		ID:      item.ID,
		Name:    item.Name,
		Size:    item.Size,
		ModTime: item.LastModifiedDateTime,
	}
	switch {
	case item.Folder != nil:
		entry.Kind = fs.KindFolder
		entry.Size = 0
	case item.File != nil:
		entry.Kind = fs.KindFile
	default:
		return fs.Entry{}, false
	}
	return entry, true
}
