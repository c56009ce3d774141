package transform

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// parseXLSX 读取第一个工作表；单元格取原始值，数值不带显示格式
func parseXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解析 xlsx 失败: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("xlsx 中没有工作表")
	}

	records, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("读取工作表 %s 失败: %w", sheets[0], err)
	}
	t, err := fromRecords(records)
	if err != nil {
		return nil, err
	}
	t.Format = FormatXLSX
	t.Sheet = sheets[0]
	return t, nil
}

// xlsxBytes 写成单工作表的 xlsx，可解析为数值的单元格写为数值
func (t *Table) xlsxBytes() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := t.Sheet
	if sheet == "" {
		sheet = "Sheet1"
	}
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return nil, err
		}
	}

	writeRow := func(r int, cells []interface{}) error {
		start, err := excelize.CoordinatesToCellName(1, r)
		if err != nil {
			return err
		}
		return f.SetSheetRow(sheet, start, &cells)
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := writeRow(1, header); err != nil {
		return nil, err
	}

	for i, row := range t.Rows {
		cells := make([]interface{}, len(row))
		for j, c := range row {
			if n, ok := parseNumber(c); ok {
				cells[j] = n
			} else {
				cells[j] = c
			}
		}
		if err := writeRow(i+2, cells); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("生成 xlsx 失败: %w", err)
	}
	return buf.Bytes(), nil
}
