package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")

	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrPayloadTooLarge   = errors.New("payload too large")

	ErrModelUnavailable         = errors.New("model unavailable")
	ErrModelQuotaExceeded       = errors.New("model quota exceeded")
	ErrModelResponseUnparseable = errors.New("model response unparseable")

	ErrChannelConnection = errors.New("channel connection error")
	ErrAttachmentSave    = errors.New("attachment save error")
	ErrUnknownChannel    = errors.New("unknown channel")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPartialBatch      = errors.New("partial batch")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
