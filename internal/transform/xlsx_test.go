package transform

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
)

// newWorkbook 生成一个工作表名为 sheet 的 xlsx
func newWorkbook(t *testing.T, sheet string, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		t.Fatal(err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParseXLSX(t *testing.T) {
	data := newWorkbook(t, "Data", [][]interface{}{
		{"id", "score", "city"},
		{1, 10.5, "Paris"},
		{2, nil, "Rome"},
	})

	tbl, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tbl.Format != FormatXLSX || tbl.Sheet != "Data" {
		t.Errorf("Format = %v, Sheet = %q", tbl.Format, tbl.Sheet)
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"id", "score", "city"}) {
		t.Errorf("Columns = %v", tbl.Columns)
	}
	want := [][]string{{"1", "10.5", "Paris"}, {"2", "", "Rome"}}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("Rows = %v, want %v", tbl.Rows, want)
	}
	if mean, err := tbl.Mean("score"); err != nil || mean != 10.5 {
		t.Errorf("Mean(score) = %v, %v", mean, err)
	}
}

func TestHookKeepsXLSXFormat(t *testing.T) {
	data := newWorkbook(t, "Data", [][]interface{}{
		{"id", "amount"},
		{1, nil},
		{2, 5},
	})
	p, err := NewPipeline([]Step{{Op: OpFillNulls, Column: "amount", Value: "0"}})
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Hook()(data)
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	if !bytes.HasPrefix(out, xlsxMagic) {
		t.Fatalf("output is not an xlsx workbook: %q", out[:min(len(out), 8)])
	}

	tbl, err := Parse(out)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Sheet != "Data" {
		t.Errorf("Sheet = %q, want Data", tbl.Sheet)
	}
	if got := column(tbl, "amount"); !reflect.DeepEqual(got, []string{"0", "5"}) {
		t.Errorf("amount = %v", got)
	}
}

func TestParseXLSXCorrupt(t *testing.T) {
	if _, err := Parse([]byte("PK\x03\x04not really a zip")); err == nil {
		t.Error("expected error for a truncated workbook")
	}
}
