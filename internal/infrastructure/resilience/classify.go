package resilience

import (
	"context"
	"errors"
	"net"

	"github.com/kirillkom/docintake/internal/core/domain"
)

// ClassifyModelError decides how a language model failure counts against
// the breaker. Quota and availability errors trip it; caller cancellation
// does not.
func ClassifyModelError(err error) ErrorClassification {
	switch {
	case err == nil:
		return ErrorClassification{}
	case errors.Is(err, context.Canceled):
		return ErrorClassification{Retryable: false, RecordFailure: false}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{Retryable: false, RecordFailure: true}
	case IsCircuitOpen(err):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case domain.IsKind(err, domain.ErrModelQuotaExceeded), domain.IsKind(err, domain.ErrModelUnavailable):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{Retryable: false, RecordFailure: false}
}
