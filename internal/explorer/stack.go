package explorer

import "strings"

// Crumb 导航路径中的一个文件夹
type Crumb struct {
	Name string
	ID   string
}

// NavigationStack 记录从根目录到当前文件夹的路径，空栈表示根目录
// 浏览视图和上传目标视图各持有一个独立实例
type NavigationStack struct {
	crumbs []Crumb
}

func NewNavigationStack() *NavigationStack {
	return &NavigationStack{}
}

// CurrentFolderID 返回栈顶文件夹 ID，根目录时 ok 为 false
func (s *NavigationStack) CurrentFolderID() (id string, ok bool) {
	if len(s.crumbs) == 0 {
		return "", false
	}
	return s.crumbs[len(s.crumbs)-1].ID, true
}

// CurrentPath 返回显示用路径: 根目录为 "/"，否则为 "/A/B"
func (s *NavigationStack) CurrentPath() string {
	return "/" + s.APIPath()
}

// APIPath 返回远端 API 使用的路径: 无前导 "/"，根目录为空串
func (s *NavigationStack) APIPath() string {
	names := make([]string, len(s.crumbs))
	for i, c := range s.crumbs {
		names[i] = c.Name
	}
	return strings.Join(names, "/")
}

// Push 进入子文件夹。不做任何远端校验，ID 必须来自上一次列表结果 (由调用方保证)
func (s *NavigationStack) Push(name, id string) {
	s.crumbs = append(s.crumbs, Crumb{Name: name, ID: id})
}

// Pop 返回上一级，根目录时不做任何事并返回 false
func (s *NavigationStack) Pop() bool {
	if len(s.crumbs) == 0 {
		return false
	}
	s.crumbs = s.crumbs[:len(s.crumbs)-1]
	return true
}

func (s *NavigationStack) Depth() int {
	return len(s.crumbs)
}

// Entries 返回路径副本，调用方修改不会影响栈
func (s *NavigationStack) Entries() []Crumb {
	out := make([]Crumb, len(s.crumbs))
	copy(out, s.crumbs)
	return out
}

// Reset 回到根目录
func (s *NavigationStack) Reset() {
	s.crumbs = nil
}

// restore 用快照替换当前路径 (取消选择上传目标时使用)
func (s *NavigationStack) restore(crumbs []Crumb) {
	s.crumbs = append([]Crumb(nil), crumbs...)
}
