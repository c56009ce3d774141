package local

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sharedash/internal/fs"
)

// tmpPrefix 上传中的临时文件前缀，列表时跳过
const tmpPrefix = ".sharedash-tmp-"

// Adapter 本地目录适配器，实现 fs.Store
// 容器 ID 是根目录下的子目录 (空串表示根目录本身)，节点 ID 是容器内 "/" 分隔的相对路径
type Adapter struct {
	rootDir string // 本地绝对路径根目录
}

var _ fs.Store = (*Adapter)(nil)

// NewAdapter 创建一个新的本地适配器
func NewAdapter(rootDir string) *Adapter {
	// 确保 rootDir 是绝对路径
	absDir, err := filepath.Abs(rootDir)
	if err != nil {
		absDir = rootDir
	}
	return &Adapter{rootDir: absDir}
}

// Root 返回根目录
func (a *Adapter) Root() string {
	return a.rootDir
}

// toSysPath 将容器 + 相对路径转换为本地系统绝对路径
// 输入: ("teamA", "docs/file.txt") -> 输出 (Windows): "D:\Data\teamA\docs\file.txt"
func (a *Adapter) toSysPath(containerID, relPath string) (string, error) {
	joined := strings.Trim(containerID+"/"+relPath, "/")
	if joined == "" {
		return a.rootDir, nil
	}
	local := filepath.FromSlash(joined)
	// 拒绝 .. 和绝对路径，防止逃出根目录
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: 非法路径 %q", fs.ErrSelection, joined)
	}
	return filepath.Join(a.rootDir, local), nil
}

// ListChildren 列出目录的直接子节点，文件夹在前，同类按名称排序
func (a *Adapter) ListChildren(ctx context.Context, containerID, folderID string) ([]fs.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := a.toSysPath(containerID, folderID)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, wrapErr("list", err)
	}

	entries := make([]fs.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), tmpPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// 列表和 stat 之间被删除
			slog.Debug("跳过无法读取的节点", "name", de.Name(), "err", err)
			continue
		}

		entry := fs.Entry{
			ID:      strings.TrimPrefix(strings.Trim(folderID, "/")+"/"+de.Name(), "/"),
			Name:    de.Name(),
			ModTime: info.ModTime(),
		}
		switch {
		case info.IsDir():
			entry.Kind = fs.KindFolder
		case info.Mode().IsRegular():
			entry.Kind = fs.KindFile
			entry.Size = info.Size()
		default:
			// 符号链接、设备文件等
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind == fs.KindFolder
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Download 读取文件全部内容
func (a *Adapter) Download(ctx context.Context, containerID, fileID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := a.toSysPath(containerID, fileID)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, wrapErr("download", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s 是文件夹", fs.ErrSelection, fileID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapErr("download", err)
	}
	return data, nil
}

// Upload 写入 folderPath/name，先写临时文件再 rename，已存在则覆盖
func (a *Adapter) Upload(ctx context.Context, containerID, folderPath, name string, content []byte) (fs.Entry, error) {
	if err := ctx.Err(); err != nil {
		return fs.Entry{}, err
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fs.Entry{}, fmt.Errorf("%w: 非法文件名 %q", fs.ErrSelection, name)
	}

	relPath := strings.TrimPrefix(strings.Trim(folderPath, "/")+"/"+name, "/")
	fullPath, err := a.toSysPath(containerID, relPath)
	if err != nil {
		return fs.Entry{}, err
	}

	// 1. 确保父目录存在
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fs.Entry{}, wrapErr("upload", fmt.Errorf("创建目录失败: %w", err))
	}

	// 2. 写入临时文件
	f, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fs.Entry{}, wrapErr("upload", err)
	}
	tmpName := f.Name()
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fs.Entry{}, wrapErr("upload", fmt.Errorf("写入数据失败: %w", err))
	}
	// 关闭文件以刷入磁盘
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return fs.Entry{}, wrapErr("upload", err)
	}

	// 3. 原子替换
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return fs.Entry{}, wrapErr("upload", err)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return fs.Entry{}, wrapErr("upload", err)
	}
	return fs.Entry{
		ID:      relPath,
		Name:    name,
		Kind:    fs.KindFile,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// wrapErr 把本地 IO 错误映射为 RemoteError，使上层分类与 Graph 后端一致
func wrapErr(op string, err error) error {
	re := &fs.RemoteError{Op: op, Err: err}
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		re.Status = http.StatusNotFound
	case errors.Is(err, iofs.ErrPermission):
		re.Status = http.StatusForbidden
	}
	return re
}
