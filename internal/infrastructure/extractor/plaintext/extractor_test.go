package plaintext

import (
	"context"
	"testing"
)

func TestExtractTextPassesUTF8Through(t *testing.T) {
	text, err := NewExtractor().ExtractText(context.Background(), []byte("\xEF\xBB\xBF  Safety circular\r\nപരിശോധന  \n"))
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	if text != "Safety circular\nപരിശോധന" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractTextRejectsBinary(t *testing.T) {
	_, err := NewExtractor().ExtractText(context.Background(), []byte{0xff, 0xfe, 0x00, 0x81})
	if err == nil {
		t.Fatalf("expected error for invalid utf-8")
	}
}
