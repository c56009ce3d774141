package transform

import (
	"fmt"
	"log/slog"

	"sharedash/internal/fs"
)

// 支持的清洗步骤
const (
	OpNormalizeColumns = "normalize_columns"
	OpRenameColumn     = "rename_column"
	OpDropDuplicates   = "drop_duplicates"
	OpDropNulls        = "drop_nulls"
	OpFillNulls        = "fill_nulls"
	OpSort             = "sort"
)

// Step 对应配置文件 processing.steps 中的一项
type Step struct {
	Op         string   `yaml:"op"`
	Columns    []string `yaml:"columns,omitempty"`    // drop_duplicates / drop_nulls / sort
	Column     string   `yaml:"column,omitempty"`     // fill_nulls
	Value      string   `yaml:"value,omitempty"`      // fill_nulls
	From       string   `yaml:"from,omitempty"`       // rename_column
	To         string   `yaml:"to,omitempty"`         // rename_column
	Descending bool     `yaml:"descending,omitempty"` // sort
}

// Validate 只检查步骤本身的参数，列是否存在要等到拿到数据才知道
func (s Step) Validate() error {
	switch s.Op {
	case OpNormalizeColumns, OpDropDuplicates, OpDropNulls:
		return nil
	case OpRenameColumn:
		if s.From == "" || s.To == "" {
			return fmt.Errorf("%s: 需要 from 和 to", s.Op)
		}
	case OpFillNulls:
		if s.Column == "" {
			return fmt.Errorf("%s: 需要 column", s.Op)
		}
	case OpSort:
		if len(s.Columns) == 0 {
			return fmt.Errorf("%s: 需要 columns", s.Op)
		}
	default:
		return fmt.Errorf("未知的清洗步骤: %q", s.Op)
	}
	return nil
}

func (s Step) apply(t *Table) error {
	switch s.Op {
	case OpNormalizeColumns:
		t.NormalizeColumns()
		return nil
	case OpRenameColumn:
		return t.RenameColumn(s.From, s.To)
	case OpDropDuplicates:
		return t.DropDuplicates(s.Columns)
	case OpDropNulls:
		return t.DropNullRows(s.Columns)
	case OpFillNulls:
		return t.FillNulls(s.Column, s.Value)
	case OpSort:
		return t.SortBy(s.Columns, s.Descending)
	}
	return fmt.Errorf("未知的清洗步骤: %q", s.Op)
}

// Pipeline 按顺序执行的清洗步骤
type Pipeline struct {
	steps []Step
}

func NewPipeline(steps []Step) (*Pipeline, error) {
	for i, s := range steps {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("processing.steps[%d]: %w", i, err)
		}
	}
	return &Pipeline{steps: steps}, nil
}

func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Apply 就地修改表格
func (p *Pipeline) Apply(t *Table) error {
	for i, s := range p.steps {
		if err := s.apply(t); err != nil {
			return fmt.Errorf("步骤 %d (%s): %w", i+1, s.Op, err)
		}
	}
	return nil
}

// Hook 返回批处理使用的处理函数。没有步骤时原样返回输入，不要求是 CSV
func (p *Pipeline) Hook() func([]byte) ([]byte, error) {
	if len(p.steps) == 0 {
		return func(data []byte) ([]byte, error) { return data, nil }
	}
	return func(data []byte) ([]byte, error) {
		t, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fs.ErrTransform, err)
		}
		rowsIn := len(t.Rows)
		if err := p.Apply(t); err != nil {
			return nil, fmt.Errorf("%w: %w", fs.ErrTransform, err)
		}
		out, err := t.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fs.ErrTransform, err)
		}
		slog.Debug("清洗完成", "rows_in", rowsIn, "rows_out", len(t.Rows), "steps", len(p.steps))
		return out, nil
	}
}
