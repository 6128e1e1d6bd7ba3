package spreadsheet

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestXLSRendersSheetRowsInOrder(t *testing.T) {
	raw, err := os.ReadFile("testdata/table.xls")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	text, err := NewXLSExtractor().ExtractText(context.Background(), raw)
	if err != nil {
		t.Fatalf("ExtractText returned error: %v", err)
	}

	lines := []string{"Sheet: Table", "Code,Name,Description"}
	for i := 1; i <= 11; i++ {
		lines = append(lines, fmt.Sprintf("code%d,name%d,description%d", i, i, i))
	}
	want := strings.Join(lines, "\n")
	if text != want {
		t.Fatalf("unexpected text:\n%q\nwant\n%q", text, want)
	}
}

func TestXLSRejectsGarbage(t *testing.T) {
	if _, err := NewXLSExtractor().ExtractText(context.Background(), []byte("not a workbook")); err == nil {
		t.Fatalf("expected error for non-xls input")
	}
}
