package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docintake/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// AttachmentIngestor registers attachments received by a watcher for processing.
type AttachmentIngestor interface {
	IngestAttachment(ctx context.Context, attachment domain.Attachment, origin domain.DocumentOrigin) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// TaskService creates and transitions tasks.
type TaskService interface {
	CreateBatch(ctx context.Context, items []domain.ActionItem, documentID, createdBy string) ([]domain.Task, error)
	List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error)
	UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus) (*domain.Task, error)
}

// IngestionController owns the channel watchers and their notification buffers.
type IngestionController interface {
	Start(ctx context.Context, channel domain.Channel) (domain.ChannelStatus, error)
	Stop(ctx context.Context, channel domain.Channel) (domain.ChannelStatus, error)
	Status(channel domain.Channel) domain.ChannelStatus
	ClearNotifications(channel domain.Channel, ids []string) int
}
