package explorer

// Item 已选中的文件，身份由 ID 决定，Name 仅用于显示
type Item struct {
	Name string
	ID   string
}

// SelectionSet 待处理文件集合，与导航无关，按插入顺序保存
type SelectionSet struct {
	items []Item
	index map[string]struct{}
}

func NewSelectionSet() *SelectionSet {
	return &SelectionSet{index: make(map[string]struct{})}
}

// Toggle 不存在则加入，存在则移除 (集合异或)。返回操作后是否处于选中状态
func (s *SelectionSet) Toggle(id, name string) bool {
	if s.Contains(id) {
		s.Remove(id)
		return false
	}
	s.items = append(s.items, Item{Name: name, ID: id})
	s.index[id] = struct{}{}
	return true
}

func (s *SelectionSet) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Remove 移除指定 ID，返回是否存在
func (s *SelectionSet) Remove(id string) bool {
	if !s.Contains(id) {
		return false
	}
	delete(s.index, id)
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return true
}

func (s *SelectionSet) Clear() {
	s.items = nil
	s.index = make(map[string]struct{})
}

// List 按插入顺序返回副本
func (s *SelectionSet) List() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

func (s *SelectionSet) Len() int {
	return len(s.items)
}
