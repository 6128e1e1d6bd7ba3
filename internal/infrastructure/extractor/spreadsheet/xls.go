package spreadsheet

import (
	"bytes"
	"context"
	"fmt"

	"github.com/extrame/xls"
)

type XLSExtractor struct{}

func NewXLSExtractor() *XLSExtractor {
	return &XLSExtractor{}
}

func (e *XLSExtractor) ExtractText(ctx context.Context, raw []byte) (string, error) {
	book, err := xls.OpenReader(bytes.NewReader(raw), "utf-8")
	if err != nil {
		return "", fmt.Errorf("open xls: %w", err)
	}

	sheets := make([]sheetText, 0, book.NumSheets())
	for i := 0; i < book.NumSheets(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		sheet := book.GetSheet(i)
		if sheet == nil {
			continue
		}
		rows := make([][]string, 0, int(sheet.MaxRow)+1)
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				continue
			}
			cells := make([]string, 0, row.LastCol()+1)
			for c := 0; c < row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, sheetText{name: sheet.Name, rows: rows})
	}
	return renderSheets(sheets)
}
