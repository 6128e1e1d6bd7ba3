package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
)

// PipelineCreator is recorded as the author of derived tasks.
const PipelineCreator = "ai-pipeline"

type ProcessDocumentUseCase struct {
	repo       ports.DocumentRepository
	storage    ports.ObjectStorage
	extractor  ports.TextExtractor
	summarizer ports.Summarizer
	deriver    ports.TaskDeriver
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	summarizer ports.Summarizer,
	deriver ports.TaskDeriver,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:       repo,
		storage:    storage,
		extractor:  extractor,
		summarizer: summarizer,
		deriver:    deriver,
	}
}

// ProcessByID runs extraction, summarization and task derivation for one
// stored document. A degraded summary still completes the document; a
// partial task batch is recorded on the document without failing it.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return uc.fail(ctx, documentID, err)
	}

	extracted, err := uc.extractText(ctx, doc)
	if err != nil {
		return uc.fail(ctx, documentID, err)
	}

	summary, usedFallback := uc.summarizer.Summarize(ctx, extracted.Text)

	note := ""
	tasks, err := uc.deriver.DeriveTasks(ctx, summary.ActionItems, doc.ID, PipelineCreator)
	if err != nil {
		if !domain.IsKind(err, domain.ErrPartialBatch) {
			return uc.fail(ctx, documentID, fmt.Errorf("derive tasks: %w", err))
		}
		note = err.Error()
	}

	if err := uc.repo.SaveSummary(ctx, doc.ID, summary, usedFallback, len(tasks)); err != nil {
		return uc.fail(ctx, documentID, fmt.Errorf("save summary: %w", err))
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusReady, note); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) loadDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

func (uc *ProcessDocumentUseCase) extractText(ctx context.Context, doc *domain.Document) (domain.ExtractedDocument, error) {
	reader, err := uc.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return domain.ExtractedDocument{}, fmt.Errorf("open stored document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return domain.ExtractedDocument{}, fmt.Errorf("read stored document: %w", err)
	}

	extracted, err := uc.extractor.Extract(ctx, raw, doc.MimeType)
	if err != nil {
		return domain.ExtractedDocument{}, fmt.Errorf("extract text: %w", err)
	}
	return extracted, nil
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) fail(ctx context.Context, documentID string, processErr error) error {
	if failErr := uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error()); failErr != nil {
		return fmt.Errorf("%w; mark failed status: %v", processErr, failErr)
	}
	return processErr
}
