package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docintake/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveSummary(ctx context.Context, id string, summary domain.Summary, usedFallback bool, taskCount int) error
}

// TaskStore persists and retrieves tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error)
	GetTaskByID(ctx context.Context, taskID string) (*domain.Task, error)
	UpdateTask(ctx context.Context, task *domain.Task) error
}

// ObjectStorage stores source documents and attachments.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor converts binary document content into text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (domain.ExtractedDocument, error)
}

// TextCompleter sends one prompt to a language model and returns its raw text.
type TextCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Summarizer turns document text into a structured summary. It never fails;
// usedFallback reports a degraded result.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (summary domain.Summary, usedFallback bool)
}

// TaskDeriver materializes action items into stored tasks.
type TaskDeriver interface {
	DeriveTasks(ctx context.Context, items []domain.ActionItem, documentID, createdBy string) ([]domain.Task, error)
}

// DedupFilter remembers processed source items.
type DedupFilter interface {
	IsNew(ctx context.Context, key string) (bool, error)
}

// ChannelWatcher monitors one external channel and reports new content on
// its event channel. No event is delivered after Stop returns.
type ChannelWatcher interface {
	Channel() domain.Channel
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan domain.WatcherEvent
	Status() domain.WatcherStatus
}

// WatcherFactory builds a fresh watcher instance for each start.
type WatcherFactory func() (ChannelWatcher, error)

// PipelineMetrics records pipeline outcomes. Implementations must be safe
// for concurrent use.
type PipelineMetrics interface {
	ObserveSummary(model string, usedFallback bool, reason string)
	ObserveTasksDerived(count int, failed int)
	ObserveWatcherEvent(channel domain.Channel, kind domain.WatcherEventKind)
}
