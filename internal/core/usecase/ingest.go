package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
)

const DefaultMaxUploadBytes int64 = 10 << 20

type IngestDocumentUseCase struct {
	repo     ports.DocumentRepository
	storage  ports.ObjectStorage
	queue    ports.MessageQueue
	maxBytes int64
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	maxBytes int64,
) *IngestDocumentUseCase {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &IngestDocumentUseCase{
		repo:     repo,
		storage:  storage,
		queue:    queue,
		maxBytes: maxBytes,
	}
}

// Upload rejects unsupported types before reading the body and bodies over
// the configured limit before anything is stored.
func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	const op = "upload document"

	normalized := domain.NormalizeMimeType(mimeType, filename)
	if !domain.IsSupportedMimeType(normalized) {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, op, fmt.Errorf("mime type %q", mimeType))
	}

	raw, err := io.ReadAll(io.LimitReader(body, uc.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if int64(len(raw)) > uc.maxBytes {
		return nil, domain.WrapError(domain.ErrPayloadTooLarge, op, fmt.Errorf("limit is %d bytes", uc.maxBytes))
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("empty file"))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, domain.SanitizeFilename(filename))
	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	return uc.register(ctx, id, filename, normalized, int64(len(raw)), storageKey, domain.DocumentOrigin{Channel: domain.ChannelUpload})
}

// IngestAttachment registers an attachment received by a watcher. Bytes
// already persisted by the watcher are reused through StorageKey.
func (uc *IngestDocumentUseCase) IngestAttachment(
	ctx context.Context,
	attachment domain.Attachment,
	origin domain.DocumentOrigin,
) (*domain.Document, error) {
	const op = "ingest attachment"

	normalized := domain.NormalizeMimeType(attachment.MimeType, attachment.Filename)
	if !domain.IsSupportedMimeType(normalized) {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, op, fmt.Errorf("mime type %q", attachment.MimeType))
	}

	id := uuid.NewString()
	storageKey := attachment.StorageKey
	size := attachment.SizeBytes
	if storageKey == "" {
		if len(attachment.Data) == 0 {
			return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("attachment has no content"))
		}
		if int64(len(attachment.Data)) > uc.maxBytes {
			return nil, domain.WrapError(domain.ErrPayloadTooLarge, op, fmt.Errorf("limit is %d bytes", uc.maxBytes))
		}
		storageKey = fmt.Sprintf("%s_%s", id, domain.SanitizeFilename(attachment.Filename))
		if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(attachment.Data)); err != nil {
			return nil, domain.WrapError(domain.ErrAttachmentSave, op, err)
		}
		size = int64(len(attachment.Data))
	}

	return uc.register(ctx, id, attachment.Filename, normalized, size, storageKey, origin)
}

func (uc *IngestDocumentUseCase) register(
	ctx context.Context,
	id, filename, mimeType string,
	size int64,
	storageKey string,
	origin domain.DocumentOrigin,
) (*domain.Document, error) {
	now := time.Now().UTC()
	doc := &domain.Document{
		ID:          id,
		Filename:    filename,
		MimeType:    mimeType,
		SizeBytes:   size,
		StoragePath: storageKey,
		Origin:      origin,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}
	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		// Nothing will pick the document up, so it must not stay uploaded.
		reason := "enqueue for processing failed: " + err.Error()
		if statusErr := uc.repo.UpdateStatus(context.WithoutCancel(ctx), doc.ID, domain.StatusFailed, reason); statusErr != nil {
			return nil, fmt.Errorf("publish ingestion event: %w (mark failed: %v)", err, statusErr)
		}
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}
	return doc, nil
}
