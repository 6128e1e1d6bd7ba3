package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/docintake/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, filename, mime_type, size_bytes, storage_path, origin_channel, origin_source_id, origin_sender,
	status, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		doc.ID, doc.Filename, doc.MimeType, doc.SizeBytes, doc.StoragePath,
		string(doc.Origin.Channel), doc.Origin.SourceID, doc.Origin.Sender,
		string(doc.Status), doc.Error, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, mime_type, size_bytes, storage_path, origin_channel, origin_source_id, origin_sender,
	summary, used_fallback, task_count, status, error_message, created_at, updated_at
FROM documents
WHERE id = $1
`, id)

	var doc domain.Document
	var channel, status string
	var summaryRaw []byte

	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.MimeType, &doc.SizeBytes, &doc.StoragePath,
		&channel, &doc.Origin.SourceID, &doc.Origin.Sender,
		&summaryRaw, &doc.UsedFallback, &doc.TaskCount, &status, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	if len(summaryRaw) > 0 {
		var summary domain.Summary
		if err := json.Unmarshal(summaryRaw, &summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
		doc.Summary = &summary
	}
	doc.Origin.Channel = domain.Channel(channel)
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return expectOneRow(result, domain.ErrDocumentNotFound, "update document status", id)
}

func (r *DocumentRepository) SaveSummary(ctx context.Context, id string, summary domain.Summary, usedFallback bool, taskCount int) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET summary = $2, used_fallback = $3, task_count = $4, updated_at = $5
WHERE id = $1
`, id, summaryJSON, usedFallback, taskCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return expectOneRow(result, domain.ErrDocumentNotFound, "save summary", id)
}

func expectOneRow(result sql.Result, notFound error, op, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return domain.WrapError(notFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
