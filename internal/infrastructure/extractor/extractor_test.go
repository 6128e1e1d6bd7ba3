package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/docintake/internal/core/domain"
)

type panickingExtractor struct{}

func (panickingExtractor) ExtractText(context.Context, []byte) (string, error) {
	panic("index out of range")
}

type failingExtractor struct{}

func (failingExtractor) ExtractText(context.Context, []byte) (string, error) {
	return "", errors.New("bad header")
}

func TestExtractUnsupportedMimeType(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), []byte("PK\x03\x04"), "application/zip")
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExtractPlainTextWithCharsetParameter(t *testing.T) {
	got, err := NewRegistry().Extract(context.Background(), []byte("Shift change at 06:00\r\n"), "text/plain; charset=utf-8")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got.Text != "Shift change at 06:00" {
		t.Fatalf("unexpected text: %q", got.Text)
	}
	if got.MimeType != domain.MimeText {
		t.Fatalf("unexpected mime type: %q", got.MimeType)
	}
	if got.SizeBytes != 23 {
		t.Fatalf("unexpected size: %d", got.SizeBytes)
	}
}

func TestExtractCorruptPDFIsExtractionFailure(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), []byte("%PDF-1.4\ntruncated"), domain.MimePDF)
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
}

func TestExtractRecoversParserPanic(t *testing.T) {
	registry := NewRegistry()
	registry.Register(domain.MimeDOC, panickingExtractor{})

	_, err := registry.Extract(context.Background(), []byte{0xD0, 0xCF}, domain.MimeDOC)
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
}

func TestExtractWrapsParserError(t *testing.T) {
	registry := NewRegistry()
	registry.Register(domain.MimeXLS, failingExtractor{})

	_, err := registry.Extract(context.Background(), []byte{1}, domain.MimeXLS)
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
}
