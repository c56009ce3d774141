package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sharedash/internal/fs"
)

// ErrNotListed 要进入的文件夹不在当前文件夹最近一次的列表结果中
var ErrNotListed = errors.New("folder was not returned by the current listing")

// Listing 当前文件夹的内容，按类型分组
type Listing struct {
	Folders []fs.Entry
	Files   []fs.Entry
}

// FolderByName 按名称查找子文件夹
func (l Listing) FolderByName(name string) (fs.Entry, bool) {
	return findByName(l.Folders, name)
}

// FileByName 按名称查找文件
func (l Listing) FileByName(name string) (fs.Entry, bool) {
	return findByName(l.Files, name)
}

func findByName(entries []fs.Entry, name string) (fs.Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return fs.Entry{}, false
}

// FolderExplorer 将 NavigationStack 和 SelectionSet 绑定到一个远端存储
// 不做缓存: 每次 CurrentListing 都会重新请求
type FolderExplorer struct {
	store       fs.Store
	containerID string
	stack       *NavigationStack
	selection   *SelectionSet

	// 当前文件夹最近一次列表中出现的子文件夹 ID，导航后失效
	listed map[string]struct{}
}

// NewFolderExplorer 创建一个独立的浏览器实例，导航栈和选择集都是新建的
func NewFolderExplorer(store fs.Store, containerID string) *FolderExplorer {
	return &FolderExplorer{
		store:       store,
		containerID: containerID,
		stack:       NewNavigationStack(),
		selection:   NewSelectionSet(),
	}
}

// CurrentListing 拉取当前文件夹内容并按类型分组
// 失败时返回的错误包装 fs.ErrRemoteFetch，导航栈和选择集保持不变
func (e *FolderExplorer) CurrentListing(ctx context.Context) (Listing, error) {
	folderID, _ := e.stack.CurrentFolderID()

	entries, err := e.store.ListChildren(ctx, e.containerID, folderID)
	if err != nil {
		if !errors.Is(err, fs.ErrRemoteFetch) {
			err = fmt.Errorf("%w: %w", fs.ErrRemoteFetch, err)
		}
		return Listing{}, fmt.Errorf("列出 %s 失败: %w", e.stack.CurrentPath(), err)
	}

	var listing Listing
	listed := make(map[string]struct{})
	for _, entry := range entries {
		switch entry.Kind {
		case fs.KindFolder:
			listing.Folders = append(listing.Folders, entry)
			listed[entry.ID] = struct{}{}
		case fs.KindFile:
			listing.Files = append(listing.Files, entry)
		}
	}
	e.listed = listed

	slog.Debug("列表完成",
		"path", e.stack.CurrentPath(),
		"folders", len(listing.Folders),
		"files", len(listing.Files),
	)
	return listing, nil
}

// EnterFolder 进入子文件夹。entry 必须是文件夹，且出现在当前文件夹最近一次的列表中
func (e *FolderExplorer) EnterFolder(entry fs.Entry) error {
	if !entry.IsFolder() {
		return fmt.Errorf("%w: 无法进入文件 %q", fs.ErrSelection, entry.Name)
	}
	if _, ok := e.listed[entry.ID]; !ok {
		return fmt.Errorf("%w: %q (%s)", ErrNotListed, entry.Name, entry.ID)
	}
	e.stack.Push(entry.Name, entry.ID)
	e.listed = nil
	slog.Debug("进入文件夹", "path", e.stack.CurrentPath(), "id", entry.ID)
	return nil
}

// GoBack 返回上一级，根目录时为空操作
func (e *FolderExplorer) GoBack() bool {
	if !e.stack.Pop() {
		return false
	}
	e.listed = nil
	return true
}

// Reset 回到容器根目录，选择集不受影响
func (e *FolderExplorer) Reset() {
	e.stack.Reset()
	e.listed = nil
}

// ToggleFileSelection 切换文件的选中状态，返回操作后是否选中
func (e *FolderExplorer) ToggleFileSelection(entry fs.Entry) (bool, error) {
	if !entry.IsFile() {
		return false, fmt.Errorf("%w: 文件夹 %q 不能被选中", fs.ErrSelection, entry.Name)
	}
	return e.selection.Toggle(entry.ID, entry.Name), nil
}

func (e *FolderExplorer) IsSelected(id string) bool {
	return e.selection.Contains(id)
}

func (e *FolderExplorer) ClearSelection() {
	e.selection.Clear()
}

// Selection 按选中顺序返回已选文件
func (e *FolderExplorer) Selection() []Item {
	return e.selection.List()
}

func (e *FolderExplorer) CurrentFolderID() (string, bool) {
	return e.stack.CurrentFolderID()
}

// Path 显示用路径，根目录为 "/"
func (e *FolderExplorer) Path() string {
	return e.stack.CurrentPath()
}

// APIPath 上传接口使用的路径，根目录为空串
func (e *FolderExplorer) APIPath() string {
	return e.stack.APIPath()
}

func (e *FolderExplorer) Crumbs() []Crumb {
	return e.stack.Entries()
}

// RestoreCrumbs 恢复之前通过 Crumbs 保存的路径
func (e *FolderExplorer) RestoreCrumbs(crumbs []Crumb) {
	e.stack.restore(crumbs)
	e.listed = nil
}
