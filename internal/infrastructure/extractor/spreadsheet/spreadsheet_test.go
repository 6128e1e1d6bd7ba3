package spreadsheet

import (
	"context"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestXLSXRendersEverySheetAsCSV(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()

	if err := book.SetSheetName("Sheet1", "Budget"); err != nil {
		t.Fatalf("rename sheet: %v", err)
	}
	mustSet(t, book, "Budget", "A1", "Item")
	mustSet(t, book, "Budget", "B1", "Cost")
	mustSet(t, book, "Budget", "A2", "Rails, spare")
	mustSet(t, book, "Budget", "B2", 1200)

	if _, err := book.NewSheet("Staff"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	mustSet(t, book, "Staff", "A1", "Name")
	mustSet(t, book, "Staff", "A2", "Priya")

	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	text, err := NewXLSXExtractor().ExtractText(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("ExtractText returned error: %v", err)
	}
	want := "Sheet: Budget\nItem,Cost\n\"Rails, spare\",1200\n\nSheet: Staff\nName\nPriya"
	if text != want {
		t.Fatalf("unexpected text:\n%q\nwant\n%q", text, want)
	}
}

func TestXLSXRejectsGarbage(t *testing.T) {
	if _, err := NewXLSXExtractor().ExtractText(context.Background(), []byte("nope")); err == nil {
		t.Fatalf("expected error for non workbook input")
	}
}

func TestRenderSheetsEmptyWorkbook(t *testing.T) {
	text, err := renderSheets(nil)
	if err != nil {
		t.Fatalf("renderSheets returned error: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty text, got %q", text)
	}
}

func mustSet(t *testing.T, book *excelize.File, sheet, cell string, value any) {
	t.Helper()
	if err := book.SetCellValue(sheet, cell, value); err != nil {
		t.Fatalf("set %s!%s: %v", sheet, cell, err)
	}
}
