package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/docintake/internal/observability/metrics"
)

// RunProcessing consumes ingested document ids until ctx is done. Each
// document gets cfg.ProcessTimeout to finish.
func (a *App) RunProcessing(ctx context.Context, service string, workerMetrics *metrics.WorkerMetrics, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	return a.Queue.SubscribeDocumentIngested(ctx, func(handlerCtx context.Context, documentID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, a.Config.ProcessTimeout)
		defer cancel()

		if workerMetrics != nil {
			if doc, err := a.Documents.GetByID(processCtx, documentID); err == nil {
				workerMetrics.ObserveQueueLag(service, time.Since(doc.CreatedAt))
			}
			workerMetrics.StartDocument()
		}

		started := time.Now()
		err := a.ProcessUC.ProcessByID(processCtx, documentID)
		if workerMetrics != nil {
			workerMetrics.FinishDocument(service, time.Since(started), err)
		}
		if err != nil {
			return err
		}
		logger.Info("document_processed", "document_id", documentID, "duration_ms", time.Since(started).Milliseconds())
		return nil
	})
}
