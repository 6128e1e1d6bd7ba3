package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/docintake/internal/core/domain"
)

type ingestRepoFake struct {
	created      *domain.Document
	err          error
	status       domain.DocumentStatus
	statusReason string
}

func (f *ingestRepoFake) Create(_ context.Context, doc *domain.Document) error {
	if f.err != nil {
		return f.err
	}
	copyDoc := *doc
	f.created = &copyDoc
	return nil
}

func (f *ingestRepoFake) GetByID(context.Context, string) (*domain.Document, error) {
	return nil, errors.New("not implemented")
}
func (f *ingestRepoFake) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, reason string) error {
	f.status = status
	f.statusReason = reason
	return nil
}
func (f *ingestRepoFake) SaveSummary(context.Context, string, domain.Summary, bool, int) error {
	return errors.New("not implemented")
}

type ingestStorageFake struct {
	savedKey  string
	savedBody string
	saves     int
	err       error
}

func (f *ingestStorageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.saves++
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *ingestStorageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.savedBody)), nil
}

type ingestQueueFake struct {
	documentID string
	err        error
}

func (f *ingestQueueFake) PublishDocumentIngested(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.documentID = documentID
	return nil
}

func (f *ingestQueueFake) SubscribeDocumentIngested(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type readerSpy struct {
	reads int
}

func (r *readerSpy) Read([]byte) (int, error) {
	r.reads++
	return 0, io.EOF
}

func TestIngestUploadSuccess(t *testing.T) {
	repo := &ingestRepoFake{}
	storage := &ingestStorageFake{}
	queue := &ingestQueueFake{}
	uc := NewIngestDocumentUseCase(repo, storage, queue, 0)

	doc, err := uc.Upload(context.Background(), "report 1.txt", "text/plain; charset=utf-8", bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.ID == "" {
		t.Fatalf("expected document id")
	}
	if doc.Status != domain.StatusUploaded {
		t.Fatalf("expected status uploaded, got %s", doc.Status)
	}
	if doc.MimeType != domain.MimeText || doc.SizeBytes != 5 || doc.Origin.Channel != domain.ChannelUpload {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if repo.created == nil {
		t.Fatalf("expected repo.Create call")
	}
	if queue.documentID != doc.ID {
		t.Fatalf("expected queued doc id %s, got %s", doc.ID, queue.documentID)
	}
	if !strings.Contains(storage.savedKey, "_report_1.txt") {
		t.Fatalf("expected sanitized key suffix, got %s", storage.savedKey)
	}
	if storage.savedBody != "hello" {
		t.Fatalf("expected saved body hello, got %s", storage.savedBody)
	}
}

func TestIngestUploadRejectsUnsupportedBeforeReading(t *testing.T) {
	spy := &readerSpy{}
	uc := NewIngestDocumentUseCase(&ingestRepoFake{}, &ingestStorageFake{}, &ingestQueueFake{}, 0)

	_, err := uc.Upload(context.Background(), "bundle.zip", "application/zip", spy)
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if spy.reads != 0 {
		t.Fatalf("body must not be read for unsupported types")
	}
}

func TestIngestUploadEnforcesSizeLimit(t *testing.T) {
	storage := &ingestStorageFake{}
	uc := NewIngestDocumentUseCase(&ingestRepoFake{}, storage, &ingestQueueFake{}, 4)

	_, err := uc.Upload(context.Background(), "notes.txt", "text/plain", bytes.NewBufferString("hello"))
	if !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if storage.saves != 0 {
		t.Fatalf("oversized upload must not be stored")
	}
}

func TestIngestUploadResolvesOctetStreamByExtension(t *testing.T) {
	uc := NewIngestDocumentUseCase(&ingestRepoFake{}, &ingestStorageFake{}, &ingestQueueFake{}, 0)

	doc, err := uc.Upload(context.Background(), "roster.xlsx", "application/octet-stream", bytes.NewBufferString("PK"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.MimeType != domain.MimeXLSX {
		t.Fatalf("expected xlsx mime type, got %q", doc.MimeType)
	}
}

func TestIngestUploadQueueError(t *testing.T) {
	repo := &ingestRepoFake{}
	queueErr := domain.WrapError(domain.ErrTemporary, "inproc publish", errors.New("queue is full"))
	uc := NewIngestDocumentUseCase(repo, &ingestStorageFake{}, &ingestQueueFake{err: queueErr}, 0)

	_, err := uc.Upload(context.Background(), "report.txt", "text/plain", bytes.NewBufferString("hello"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "publish ingestion event") || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary publish error, got %v", err)
	}
	if repo.status != domain.StatusFailed {
		t.Fatalf("expected document marked failed, got %q", repo.status)
	}
	if !strings.Contains(repo.statusReason, "queue is full") {
		t.Fatalf("unexpected failure reason: %q", repo.statusReason)
	}
}

func TestIngestAttachmentReusesStoredBytes(t *testing.T) {
	repo := &ingestRepoFake{}
	storage := &ingestStorageFake{}
	uc := NewIngestDocumentUseCase(repo, storage, &ingestQueueFake{}, 0)

	origin := domain.DocumentOrigin{Channel: domain.ChannelEmail, SourceID: "42", Sender: "ops@example.com"}
	doc, err := uc.IngestAttachment(context.Background(), domain.Attachment{
		Filename:   "circular.pdf",
		MimeType:   "application/pdf",
		SizeBytes:  2048,
		StorageKey: "abc_circular.pdf",
	}, origin)
	if err != nil {
		t.Fatalf("IngestAttachment() error = %v", err)
	}
	if storage.saves != 0 {
		t.Fatalf("stored attachment must not be saved twice")
	}
	if doc.StoragePath != "abc_circular.pdf" || doc.SizeBytes != 2048 || doc.Origin != origin {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestIngestAttachmentSavesInlineData(t *testing.T) {
	storage := &ingestStorageFake{}
	uc := NewIngestDocumentUseCase(&ingestRepoFake{}, storage, &ingestQueueFake{}, 0)

	doc, err := uc.IngestAttachment(context.Background(), domain.Attachment{
		Filename: "note.txt",
		MimeType: "text/plain",
		Data:     []byte("inline"),
	}, domain.DocumentOrigin{Channel: domain.ChannelChat})
	if err != nil {
		t.Fatalf("IngestAttachment() error = %v", err)
	}
	if storage.saves != 1 || storage.savedBody != "inline" || doc.SizeBytes != 6 {
		t.Fatalf("unexpected save: saves=%d body=%q size=%d", storage.saves, storage.savedBody, doc.SizeBytes)
	}
}

func TestIngestAttachmentSaveFailure(t *testing.T) {
	uc := NewIngestDocumentUseCase(&ingestRepoFake{}, &ingestStorageFake{err: errors.New("disk full")}, &ingestQueueFake{}, 0)

	_, err := uc.IngestAttachment(context.Background(), domain.Attachment{
		Filename: "note.txt",
		MimeType: "text/plain",
		Data:     []byte("inline"),
	}, domain.DocumentOrigin{Channel: domain.ChannelChat})
	if !errors.Is(err, domain.ErrAttachmentSave) {
		t.Fatalf("expected ErrAttachmentSave, got %v", err)
	}
}
