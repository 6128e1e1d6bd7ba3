// Package spreadsheet renders workbooks as one CSV block per sheet.
package spreadsheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

type XLSXExtractor struct{}

func NewXLSXExtractor() *XLSXExtractor {
	return &XLSXExtractor{}
}

func (e *XLSXExtractor) ExtractText(ctx context.Context, raw []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer book.Close()

	sheets := make([]sheetText, 0, len(book.GetSheetList()))
	for _, name := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := book.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", name, err)
		}
		sheets = append(sheets, sheetText{name: name, rows: rows})
	}
	return renderSheets(sheets)
}

type sheetText struct {
	name string
	rows [][]string
}

// renderSheets writes "Sheet: <name>" followed by CSV rows, sheets separated
// by a blank line.
func renderSheets(sheets []sheetText) (string, error) {
	blocks := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		var buf bytes.Buffer
		buf.WriteString("Sheet: " + sheet.name + "\n")
		w := csv.NewWriter(&buf)
		if err := w.WriteAll(sheet.rows); err != nil {
			return "", fmt.Errorf("render sheet %q: %w", sheet.name, err)
		}
		blocks = append(blocks, strings.TrimRight(buf.String(), "\n"))
	}
	return strings.Join(blocks, "\n\n"), nil
}
