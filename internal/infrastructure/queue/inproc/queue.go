// Package inproc is a single-process MessageQueue backed by a buffered
// channel, used when no NATS server is configured.
package inproc

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kirillkom/docintake/internal/core/domain"
)

type Queue struct {
	jobs    chan string
	workers int
	logger  *slog.Logger
}

func New(capacity, workers int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:    make(chan string, capacity),
		workers: workers,
		logger:  logger,
	}
}

// PublishDocumentIngested never blocks; a full buffer is a temporary error.
func (q *Queue) PublishDocumentIngested(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.jobs <- documentID:
		return nil
	default:
		return domain.WrapError(domain.ErrTemporary, "inproc publish", errors.New("queue is full"))
	}
}

// SubscribeDocumentIngested runs the handler on a fixed worker pool until
// ctx is done and every worker has returned.
func (q *Queue) SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case documentID := <-q.jobs:
					if err := handler(ctx, documentID); err != nil {
						q.logger.Error("document_process_failed", "document_id", documentID, "error", err)
					}
				}
			}
		}()
	}
	wg.Wait()
	return nil
}
