package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/docintake/internal/core/domain"
)

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

type processRepoFake struct {
	doc           *domain.Document
	getErr        error
	saveErr       error
	failStatusErr error
	statusCalls   []statusCall
	summary       domain.Summary
	usedFallback  bool
	taskCount     int
}

func (f *processRepoFake) Create(context.Context, *domain.Document) error { return nil }

func (f *processRepoFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	copyDoc := *f.doc
	return &copyDoc, nil
}

func (f *processRepoFake) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, errMessage string) error {
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	if status == domain.StatusFailed && f.failStatusErr != nil {
		return f.failStatusErr
	}
	return nil
}

func (f *processRepoFake) SaveSummary(_ context.Context, _ string, summary domain.Summary, usedFallback bool, taskCount int) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.summary = summary
	f.usedFallback = usedFallback
	f.taskCount = taskCount
	return nil
}

type processStorageFake struct {
	body string
	err  error
}

func (f *processStorageFake) Save(context.Context, string, io.Reader) error { return nil }

func (f *processStorageFake) Open(context.Context, string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

type extractorFake struct {
	text string
	err  error
	mime string
}

func (f *extractorFake) Extract(_ context.Context, data []byte, mimeType string) (domain.ExtractedDocument, error) {
	f.mime = mimeType
	if f.err != nil {
		return domain.ExtractedDocument{}, f.err
	}
	return domain.ExtractedDocument{Text: f.text, MimeType: mimeType, SizeBytes: int64(len(data))}, nil
}

type summarizerFake struct {
	summary      domain.Summary
	usedFallback bool
	text         string
}

func (f *summarizerFake) Summarize(_ context.Context, text string) (domain.Summary, bool) {
	f.text = text
	return f.summary, f.usedFallback
}

type deriverFake struct {
	tasks      []domain.Task
	err        error
	documentID string
	createdBy  string
}

func (f *deriverFake) DeriveTasks(_ context.Context, _ []domain.ActionItem, documentID, createdBy string) ([]domain.Task, error) {
	f.documentID = documentID
	f.createdBy = createdBy
	return f.tasks, f.err
}

func newProcessFixture() (*processRepoFake, *extractorFake, *summarizerFake, *deriverFake, *ProcessDocumentUseCase) {
	repo := &processRepoFake{doc: &domain.Document{ID: "doc-1", MimeType: domain.MimeText, StoragePath: "doc-1_a.txt"}}
	extractor := &extractorFake{text: "extracted"}
	summarizer := &summarizerFake{summary: domain.Summary{ExecutiveSummary: "ok", ActionItems: []domain.ActionItem{{Task: "A"}}}}
	deriver := &deriverFake{tasks: []domain.Task{{ID: "t1"}}}
	uc := NewProcessDocumentUseCase(repo, &processStorageFake{body: "raw"}, extractor, summarizer, deriver)
	return repo, extractor, summarizer, deriver, uc
}

func TestProcessByIDSuccess(t *testing.T) {
	repo, extractor, summarizer, deriver, uc := newProcessFixture()

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if extractor.mime != domain.MimeText || summarizer.text != "extracted" {
		t.Fatalf("pipeline inputs not forwarded: mime=%q text=%q", extractor.mime, summarizer.text)
	}
	if deriver.documentID != "doc-1" || deriver.createdBy != PipelineCreator {
		t.Fatalf("unexpected deriver call: %q %q", deriver.documentID, deriver.createdBy)
	}
	if repo.summary.ExecutiveSummary != "ok" || repo.taskCount != 1 || repo.usedFallback {
		t.Fatalf("unexpected saved summary: %+v count=%d", repo.summary, repo.taskCount)
	}
	last := repo.statusCalls[len(repo.statusCalls)-1]
	if last.status != domain.StatusReady {
		t.Fatalf("expected ready status, got %+v", repo.statusCalls)
	}
}

func TestProcessByIDExtractionFailureMarksFailed(t *testing.T) {
	repo, extractor, _, _, uc := newProcessFixture()
	extractor.err = domain.WrapError(domain.ErrExtractionFailed, "extract", errors.New("corrupt"))

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	last := repo.statusCalls[len(repo.statusCalls)-1]
	if last.status != domain.StatusFailed || !strings.Contains(last.errMsg, "corrupt") {
		t.Fatalf("expected failed status with message, got %+v", last)
	}
}

func TestProcessByIDFallbackSummaryStillCompletes(t *testing.T) {
	repo, _, summarizer, _, uc := newProcessFixture()
	summarizer.summary = domain.FallbackSummary("prose")
	summarizer.usedFallback = true

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if !repo.usedFallback {
		t.Fatalf("expected fallback flag to be persisted")
	}
}

func TestProcessByIDPartialBatchIsRecorded(t *testing.T) {
	repo, _, _, deriver, uc := newProcessFixture()
	deriver.err = domain.WrapError(domain.ErrPartialBatch, "create task batch", errors.New("item 1: disk full"))

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	last := repo.statusCalls[len(repo.statusCalls)-1]
	if last.status != domain.StatusReady || !strings.Contains(last.errMsg, "disk full") {
		t.Fatalf("expected ready with note, got %+v", last)
	}
}

func TestProcessByIDReturnsCombinedErrorWhenMarkFailedFails(t *testing.T) {
	repo, _, _, _, uc := newProcessFixture()
	repo.getErr = domain.ErrDocumentNotFound
	repo.failStatusErr = errors.New("db down")

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !errors.Is(err, domain.ErrDocumentNotFound) || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected combined error, got %v", err)
	}
}
