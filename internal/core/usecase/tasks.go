package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
)

const (
	defaultTaskAssignee = "Unassigned"
	defaultTaskCategory = "AI Generated"
	defaultTaskTag      = "ai-generated"
)

var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

type TaskUseCase struct {
	store   ports.TaskStore
	metrics ports.PipelineMetrics
	now     func() time.Time
}

func NewTaskUseCase(store ports.TaskStore, metrics ports.PipelineMetrics) *TaskUseCase {
	if metrics == nil {
		metrics = noopPipelineMetrics{}
	}
	return &TaskUseCase{
		store:   store,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (uc *TaskUseCase) DeriveTasks(ctx context.Context, items []domain.ActionItem, documentID, createdBy string) ([]domain.Task, error) {
	return uc.CreateBatch(ctx, items, documentID, createdBy)
}

// CreateBatch stores one task per action item in order. When a store call
// fails the tasks created so far are returned with ErrPartialBatch.
func (uc *TaskUseCase) CreateBatch(ctx context.Context, items []domain.ActionItem, documentID, createdBy string) ([]domain.Task, error) {
	created := make([]domain.Task, 0, len(items))
	var failures []error

	for i, item := range items {
		if strings.TrimSpace(item.Task) == "" {
			failures = append(failures, fmt.Errorf("item %d: empty task", i))
			continue
		}
		task := uc.buildTask(item, documentID, createdBy)
		if err := uc.store.CreateTask(ctx, &task); err != nil {
			failures = append(failures, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		created = append(created, task)
	}

	uc.metrics.ObserveTasksDerived(len(created), len(failures))
	if len(failures) > 0 {
		return created, domain.WrapError(domain.ErrPartialBatch, "create task batch", errors.Join(failures...))
	}
	return created, nil
}

func (uc *TaskUseCase) buildTask(item domain.ActionItem, documentID, createdBy string) domain.Task {
	now := uc.now()

	priority, ok := domain.ParsePriority(string(item.Priority))
	if !ok {
		priority = domain.PriorityMedium
	}
	assignee := firstNonEmpty(item.Assignee, item.Department, defaultTaskAssignee)
	category := firstNonEmpty(item.Category, defaultTaskCategory)
	tags := item.Tags
	if len(tags) == 0 {
		tags = []string{defaultTaskTag}
	}
	var hours float64
	if item.EstimatedHours != nil && *item.EstimatedHours > 0 {
		hours = *item.EstimatedHours
	}

	return domain.Task{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(item.Task),
		Description:    firstNonEmpty(item.Description, item.Task),
		Priority:       priority,
		Status:         domain.TaskStatusPending,
		Assignee:       assignee,
		Department:     strings.TrimSpace(item.Department),
		Category:       category,
		Tags:           append([]string(nil), tags...),
		Deadline:       parseDeadline(item.Deadline),
		EstimatedHours: hours,
		DocumentID:     documentID,
		CreatedBy:      firstNonEmpty(createdBy, "system"),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (uc *TaskUseCase) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list tasks", fmt.Errorf("unknown status %q", filter.Status))
	}
	tasks, err := uc.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (uc *TaskUseCase) UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus) (*domain.Task, error) {
	if !status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update task status", fmt.Errorf("unknown status %q", status))
	}
	task, err := uc.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("fetch task by id: %w", err)
	}
	if task.Status == status {
		return task, nil
	}
	if !task.Status.CanTransition(status) {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "update task status", fmt.Errorf("%s -> %s", task.Status, status))
	}

	task.Status = status
	task.UpdatedAt = uc.now()
	if err := uc.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return task, nil
}

// parseDeadline returns nil for empty or unparseable input.
func parseDeadline(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range deadlineLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
