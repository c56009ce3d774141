package transform

import (
	"errors"
	"reflect"
	"testing"
)

const sample = `Name, Score ,City
alice,90,Paris
bob,,Rome
alice,90,Paris
carol,NaN,
dave,105,Oslo
`

func mustParse(t *testing.T, s string) *Table {
	t.Helper()
	tbl, err := Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tbl
}

func column(t *Table, name string) []string {
	c, _ := t.columnIndex(name)
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[c]
	}
	return out
}

func TestParsePadsShortRows(t *testing.T) {
	tbl := mustParse(t, "a,b,c\n1,2\n")
	if !reflect.DeepEqual(tbl.Rows, [][]string{{"1", "2", ""}}) {
		t.Errorf("Rows = %v", tbl.Rows)
	}
	if _, err := Parse([]byte("a\n1,2\n")); err == nil {
		t.Error("expected error for row wider than header")
	}
	if _, err := Parse(nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestParseStripsBOM(t *testing.T) {
	tbl := mustParse(t, "\xef\xbb\xbfid,amount\n1,\n")
	if !reflect.DeepEqual(tbl.Columns, []string{"id", "amount"}) {
		t.Fatalf("Columns = %q", tbl.Columns)
	}
	if tbl.Format != FormatCSV {
		t.Errorf("Format = %v, want CSV", tbl.Format)
	}

	p, err := NewPipeline([]Step{{Op: OpFillNulls, Column: "amount", Value: "0"}, {Op: OpFillNulls, Column: "id", Value: "x"}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Hook()([]byte("\xef\xbb\xbfid,amount\n1,\n"))
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	if string(out) != "id,amount\n1,0\n" {
		t.Errorf("output = %q", out)
	}
}

func TestNormalizeAndRename(t *testing.T) {
	tbl := mustParse(t, sample)
	tbl.NormalizeColumns()
	if !reflect.DeepEqual(tbl.Columns, []string{"name", "score", "city"}) {
		t.Fatalf("Columns = %v", tbl.Columns)
	}
	if err := tbl.RenameColumn("score", "points"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.RenameColumn("missing", "x"); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("RenameColumn(missing) = %v, want ErrMissingColumn", err)
	}
	if !tbl.HasColumn("points") {
		t.Error("renamed column not found")
	}
}

func TestDropDuplicatesAndNulls(t *testing.T) {
	tbl := mustParse(t, sample)
	tbl.NormalizeColumns()

	if err := tbl.DropDuplicates(nil); err != nil {
		t.Fatal(err)
	}
	if len(tbl.Rows) != 4 {
		t.Fatalf("rows after DropDuplicates = %d, want 4", len(tbl.Rows))
	}

	if err := tbl.DropNullRows([]string{"score"}); err != nil {
		t.Fatal(err)
	}
	if got := column(tbl, "name"); !reflect.DeepEqual(got, []string{"alice", "dave"}) {
		t.Errorf("names after DropNullRows = %v", got)
	}
}

func TestDropDuplicatesSubset(t *testing.T) {
	tbl := mustParse(t, "k,v\n1,a\n1,b\n2,c\n")
	if err := tbl.DropDuplicates([]string{"k"}); err != nil {
		t.Fatal(err)
	}
	if got := column(tbl, "v"); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("v = %v", got)
	}
	if err := tbl.DropDuplicates([]string{"nope"}); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("err = %v", err)
	}
}

func TestFillNulls(t *testing.T) {
	tbl := mustParse(t, sample)
	tbl.NormalizeColumns()
	if err := tbl.FillNulls("score", "0"); err != nil {
		t.Fatal(err)
	}
	want := []string{"90", "0", "90", "0", "105"}
	if got := column(tbl, "score"); !reflect.DeepEqual(got, want) {
		t.Errorf("score = %v, want %v", got, want)
	}
}

func TestSortBy(t *testing.T) {
	// csv 会跳过空行，用 "" 表示空单元格
	tbl := mustParse(t, "n\n10\n9\n\"\"\nabc\n100\n")

	if err := tbl.SortBy([]string{"n"}, false); err != nil {
		t.Fatal(err)
	}
	if got := column(tbl, "n"); !reflect.DeepEqual(got, []string{"9", "10", "100", "abc", ""}) {
		t.Errorf("ascending = %v", got)
	}

	if err := tbl.SortBy([]string{"n"}, true); err != nil {
		t.Fatal(err)
	}
	if got := column(tbl, "n"); !reflect.DeepEqual(got, []string{"abc", "100", "10", "9", ""}) {
		t.Errorf("descending = %v", got)
	}
}

func TestColumnStats(t *testing.T) {
	tbl := mustParse(t, "v\n4\nx\n\n-2\n10\n")

	min, err := tbl.Min("v")
	if err != nil || min != -2 {
		t.Errorf("Min = %v, %v", min, err)
	}
	max, _ := tbl.Max("v")
	if max != 10 {
		t.Errorf("Max = %v", max)
	}
	mean, _ := tbl.Mean("v")
	if mean != 4 {
		t.Errorf("Mean = %v", mean)
	}
	if _, err := tbl.Mean("missing"); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("Mean(missing) = %v", err)
	}
}

func TestDirtiness(t *testing.T) {
	tbl := mustParse(t, sample)
	tbl.NormalizeColumns()

	got := Dirtiness(tbl)
	want := []ColumnStats{
		{Column: "name"},
		{Column: "score", NullPct: 40, OutOfRangePct: 20},
		{Column: "city", NullPct: 20},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dirtiness = %+v, want %+v", got, want)
	}
}

func TestDirtinessUnexpectedTypes(t *testing.T) {
	tbl := mustParse(t, "v\n1\n2\nthree\n")
	got := Dirtiness(tbl)[0]
	if got.UnexpectedTypePct != 33.3 {
		t.Errorf("UnexpectedTypePct = %v, want 33.3", got.UnexpectedTypePct)
	}
}

func TestDirtinessMixedColumnCountsAsText(t *testing.T) {
	// 数值与文本各占一半时按文本列处理，不报告类型异常
	tbl := mustParse(t, "v\n1\nx\n200\ny\n")
	got := Dirtiness(tbl)[0]
	if got.UnexpectedTypePct != 0 || got.OutOfRangePct != 0 {
		t.Errorf("Dirtiness = %+v, want zero type/range pct", got)
	}
}
