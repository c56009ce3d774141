// Package transform 对 CSV/xlsx 表格做简单清洗，作为批处理中的处理函数
package transform

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrMissingColumn 引用了不存在的列
var ErrMissingColumn = errors.New("missing column")

// nullTokens 视为空值的单元格内容 (不区分大小写)
var nullTokens = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true, "null": true, "none": true, "#n/a": true,
}

// IsNull 判断单元格是否为空值
func IsNull(cell string) bool {
	return nullTokens[strings.ToLower(strings.TrimSpace(cell))]
}

// Format 表格的原始文件格式，清洗后按原格式写回
type Format int

const (
	FormatCSV Format = iota
	FormatXLSX
)

// Table 内存中的表格，第一行为表头
type Table struct {
	Columns []string
	Rows    [][]string
	Format  Format
	Sheet   string // 仅 xlsx: 读取的工作表名
}

var (
	// utf8BOM Excel 导出的 CSV 常带此前缀
	utf8BOM = []byte("\xef\xbb\xbf")
	// xlsxMagic xlsx 是 ZIP 容器
	xlsxMagic = []byte("PK\x03\x04")
)

// Parse 解析 CSV 或 xlsx (按内容识别，取第一个工作表)，短行补空，长行报错
func Parse(data []byte) (*Table, error) {
	if bytes.HasPrefix(data, xlsxMagic) {
		return parseXLSX(data)
	}

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析 CSV 失败: %w", err)
	}
	return fromRecords(records)
}

// fromRecords 第一条记录为表头，跳过完全空白的记录
func fromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 || len(records[0]) == 0 {
		return nil, errors.New("表格为空: 缺少表头")
	}

	t := &Table{Columns: records[0]}
	for i, rec := range records[1:] {
		if len(rec) == 0 {
			continue
		}
		if len(rec) > len(t.Columns) {
			return nil, fmt.Errorf("第 %d 行有 %d 列，表头只有 %d 列", i+2, len(rec), len(t.Columns))
		}
		row := make([]string, len(t.Columns))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Bytes 按原格式序列化
func (t *Table) Bytes() ([]byte, error) {
	if t.Format == FormatXLSX {
		return t.xlsxBytes()
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *Table) HasColumn(name string) bool {
	_, err := t.columnIndex(name)
	return err == nil
}

// ValidateColumns 所有列都必须存在
func (t *Table) ValidateColumns(names []string) error {
	var missing []string
	for _, n := range names {
		if !t.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

func (t *Table) columnIndex(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrMissingColumn, name)
}

// indexes 把列名转换为下标，names 为空时返回全部列
func (t *Table) indexes(names []string) ([]int, error) {
	if len(names) == 0 {
		idx := make([]int, len(t.Columns))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	if err := t.ValidateColumns(names); err != nil {
		return nil, err
	}
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i], _ = t.columnIndex(n)
	}
	return idx, nil
}

func (t *Table) RenameColumn(from, to string) error {
	i, err := t.columnIndex(from)
	if err != nil {
		return err
	}
	t.Columns[i] = to
	return nil
}

// NormalizeColumns 列名去首尾空白、转小写、空格替换为下划线
func (t *Table) NormalizeColumns() {
	for i, c := range t.Columns {
		t.Columns[i] = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c)), " ", "_")
	}
}

// DropDuplicates 删除重复行，保留第一次出现的行；subset 为空时比较整行
func (t *Table) DropDuplicates(subset []string) error {
	idx, err := t.indexes(subset)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(t.Rows))
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		key := rowKey(row, idx)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, row)
	}
	t.Rows = kept
	return nil
}

func rowKey(row []string, idx []int) string {
	parts := make([]string, len(idx))
	for i, c := range idx {
		parts[i] = row[c]
	}
	return strings.Join(parts, "\x00")
}

// DropNullRows 删除在 subset 任一列为空值的行；subset 为空时检查全部列
func (t *Table) DropNullRows(subset []string) error {
	idx, err := t.indexes(subset)
	if err != nil {
		return err
	}
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		hasNull := false
		for _, c := range idx {
			if IsNull(row[c]) {
				hasNull = true
				break
			}
		}
		if !hasNull {
			kept = append(kept, row)
		}
	}
	t.Rows = kept
	return nil
}

// FillNulls 用 value 填充某列的空值
func (t *Table) FillNulls(column, value string) error {
	c, err := t.columnIndex(column)
	if err != nil {
		return err
	}
	for _, row := range t.Rows {
		if IsNull(row[c]) {
			row[c] = value
		}
	}
	return nil
}

// SortBy 稳定排序。数值按数值比较，数值排在文本之前，空值始终排在最后
func (t *Table) SortBy(columns []string, descending bool) error {
	if len(columns) == 0 {
		return errors.New("sort: 至少需要一列")
	}
	idx, err := t.indexes(columns)
	if err != nil {
		return err
	}
	sort.SliceStable(t.Rows, func(i, j int) bool {
		for _, c := range idx {
			a, b := t.Rows[i][c], t.Rows[j][c]
			an, bn := IsNull(a), IsNull(b)
			switch {
			case an && bn:
				continue
			case an:
				return false
			case bn:
				return true
			}
			cmp := compareCells(a, b)
			if cmp == 0 {
				continue
			}
			if descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

func compareCells(a, b string) int {
	af, aok := parseNumber(a)
	bf, bok := parseNumber(b)
	switch {
	case aok && bok:
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(a, b)
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// numbers 返回某列中所有可解析为数值的单元格
func (t *Table) numbers(column string) ([]float64, error) {
	c, err := t.columnIndex(column)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, row := range t.Rows {
		if f, ok := parseNumber(row[c]); ok {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("列 %s 没有数值", column)
	}
	return out, nil
}

func (t *Table) Min(column string) (float64, error) {
	nums, err := t.numbers(column)
	if err != nil {
		return 0, err
	}
	m := nums[0]
	for _, n := range nums[1:] {
		m = math.Min(m, n)
	}
	return m, nil
}

func (t *Table) Max(column string) (float64, error) {
	nums, err := t.numbers(column)
	if err != nil {
		return 0, err
	}
	m := nums[0]
	for _, n := range nums[1:] {
		m = math.Max(m, n)
	}
	return m, nil
}

func (t *Table) Mean(column string) (float64, error) {
	nums, err := t.numbers(column)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return sum / float64(len(nums)), nil
}
