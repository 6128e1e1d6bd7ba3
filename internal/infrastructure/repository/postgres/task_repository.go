package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/docintake/internal/core/domain"
)

const taskColumns = `id, title, description, priority, status, assignee, department, category, tags,
	deadline, estimated_hours, document_id, created_by, created_at, updated_at`

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) CreateTask(ctx context.Context, task *domain.Task) error {
	tagsJSON, err := json.Marshal(task.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		task.ID, task.Title, task.Description, string(task.Priority), string(task.Status),
		task.Assignee, task.Department, task.Category, tagsJSON, task.Deadline,
		task.EstimatedHours, task.DocumentID, task.CreatedBy, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		where = append(where, fmt.Sprintf("document_id = $%d", len(args)))
	}

	query := "SELECT " + taskColumns + "\nFROM tasks\n"
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += "ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

func (r *TaskRepository) GetTaskByID(ctx context.Context, taskID string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+taskColumns+"\nFROM tasks\nWHERE id = $1", taskID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrTaskNotFound, "get task", fmt.Errorf("id=%s", taskID))
		}
		return nil, fmt.Errorf("get task by id: %w", err)
	}
	return &task, nil
}

func (r *TaskRepository) UpdateTask(ctx context.Context, task *domain.Task) error {
	tagsJSON, err := json.Marshal(task.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET title = $2, description = $3, priority = $4, status = $5, assignee = $6, department = $7,
	category = $8, tags = $9, deadline = $10, estimated_hours = $11, updated_at = $12
WHERE id = $1
`, task.ID, task.Title, task.Description, string(task.Priority), string(task.Status), task.Assignee,
		task.Department, task.Category, tagsJSON, task.Deadline, task.EstimatedHours, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectOneRow(result, domain.ErrTaskNotFound, "update task", task.ID)
}

type taskScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row taskScanner) (domain.Task, error) {
	var task domain.Task
	var priority, status string
	var tagsRaw []byte
	var deadline sql.NullTime
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&priority,
		&status,
		&task.Assignee,
		&task.Department,
		&task.Category,
		&tagsRaw,
		&deadline,
		&task.EstimatedHours,
		&task.DocumentID,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return domain.Task{}, err
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &task.Tags); err != nil {
			return domain.Task{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}
	if deadline.Valid {
		d := deadline.Time.UTC()
		task.Deadline = &d
	}
	task.Priority = domain.Priority(priority)
	task.Status = domain.TaskStatus(status)
	return task, nil
}
