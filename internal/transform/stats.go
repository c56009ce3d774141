package transform

import "math"

// ColumnStats 单列的脏数据比例 (百分比，保留一位小数)
type ColumnStats struct {
	Column            string
	NullPct           float64
	UnexpectedTypePct float64 // 数值列中的非数值单元格
	OutOfRangePct     float64 // 数值列中超出 [0, 100] 的单元格
}

// Dirtiness 计算每列的空值、类型异常、越界比例，分母为总行数
// 非空单元格中超过一半可解析为数值的列视为数值列，否则后两项为 0
func Dirtiness(t *Table) []ColumnStats {
	stats := make([]ColumnStats, len(t.Columns))
	total := float64(len(t.Rows))

	for c, name := range t.Columns {
		s := ColumnStats{Column: name}
		if total == 0 {
			stats[c] = s
			continue
		}

		var nulls, numeric, nonNumeric, outOfRange int
		for _, row := range t.Rows {
			cell := row[c]
			if IsNull(cell) {
				nulls++
				continue
			}
			f, ok := parseNumber(cell)
			if !ok {
				nonNumeric++
				continue
			}
			numeric++
			if f < 0 || f > 100 {
				outOfRange++
			}
		}

		s.NullPct = pct(nulls, total)
		if numeric > nonNumeric {
			s.UnexpectedTypePct = pct(nonNumeric, total)
			s.OutOfRangePct = pct(outOfRange, total)
		}
		stats[c] = s
	}
	return stats
}

func pct(n int, total float64) float64 {
	return math.Round(float64(n)/total*1000) / 10
}
