// Package extractor dispatches raw document bytes to a format-specific text
// extractor.
package extractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/infrastructure/extractor/office"
	"github.com/kirillkom/docintake/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/docintake/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/docintake/internal/infrastructure/extractor/spreadsheet"
)

// FormatExtractor reads text out of a single file format.
type FormatExtractor interface {
	ExtractText(ctx context.Context, raw []byte) (string, error)
}

type Registry struct {
	byMimeType map[string]FormatExtractor
}

// NewRegistry returns a registry covering every supported mime type.
func NewRegistry() *Registry {
	text := plaintext.NewExtractor()
	return &Registry{
		byMimeType: map[string]FormatExtractor{
			domain.MimePDF:  pdf.NewExtractor(),
			domain.MimeDOC:  office.NewDocExtractor(),
			domain.MimeDOCX: office.NewDocxExtractor(),
			domain.MimeXLS:  spreadsheet.NewXLSExtractor(),
			domain.MimeXLSX: spreadsheet.NewXLSXExtractor(),
			domain.MimeText: text,
			domain.MimeCSV:  text,
		},
	}
}

// Register overrides or adds the extractor for a mime type.
func (r *Registry) Register(mimeType string, extractor FormatExtractor) {
	r.byMimeType[domain.NormalizeMimeType(mimeType, "")] = extractor
}

func (r *Registry) Extract(ctx context.Context, data []byte, mimeType string) (result domain.ExtractedDocument, err error) {
	const op = "extractor.extract"

	normalized := domain.NormalizeMimeType(mimeType, "")
	format, ok := r.byMimeType[normalized]
	if !ok {
		return domain.ExtractedDocument{}, domain.WrapError(domain.ErrUnsupportedFormat, op, fmt.Errorf("mime type %q", mimeType))
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result = domain.ExtractedDocument{}
			err = domain.WrapError(domain.ErrExtractionFailed, op, fmt.Errorf("%s parser panic: %v", normalized, recovered))
		}
	}()

	text, extractErr := format.ExtractText(ctx, data)
	if extractErr != nil {
		if errors.Is(extractErr, context.Canceled) || errors.Is(extractErr, context.DeadlineExceeded) {
			return domain.ExtractedDocument{}, extractErr
		}
		return domain.ExtractedDocument{}, domain.WrapError(domain.ErrExtractionFailed, op, extractErr)
	}

	return domain.ExtractedDocument{
		Text:      text,
		MimeType:  normalized,
		SizeBytes: int64(len(data)),
	}, nil
}
