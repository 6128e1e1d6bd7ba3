package pdf

import (
	"bytes"
	"context"
	"fmt"
	"testing"
)

// buildPDF writes an uncompressed PDF with one text line per page and a
// correct xref table.
func buildPDF(pages ...string) []byte {
	var objects []string
	kids := ""
	fontID := 3 + 2*len(pages)
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(pages)),
	)
	for i := range pages {
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			fontID, 3+len(pages)+i,
		))
	}
	for _, text := range pages {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtractTextKeepsPageOrder(t *testing.T) {
	raw := buildPDF("First page", "Second page", "Third page")

	text, err := NewExtractor().ExtractText(context.Background(), raw)
	if err != nil {
		t.Fatalf("ExtractText returned error: %v", err)
	}
	want := "First page\n\nSecond page\n\nThird page"
	if text != want {
		t.Fatalf("unexpected text:\n%q\nwant\n%q", text, want)
	}
}

func TestExtractTextRejectsTruncatedFile(t *testing.T) {
	raw := buildPDF("Only page")
	if _, err := NewExtractor().ExtractText(context.Background(), raw[:len(raw)/2]); err == nil {
		t.Fatalf("expected error for truncated pdf")
	}
}

func TestExtractTextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewExtractor().ExtractText(ctx, buildPDF("Page")); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
