package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/docintake/internal/core/domain"
)

type taskStoreFake struct {
	mu      sync.Mutex
	tasks   map[string]*domain.Task
	order   []string
	failOn  map[string]error
	updated int
}

func newTaskStoreFake() *taskStoreFake {
	return &taskStoreFake{tasks: map[string]*domain.Task{}, failOn: map[string]error{}}
}

func (f *taskStoreFake) CreateTask(_ context.Context, task *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[task.Title]; ok {
		return err
	}
	copyTask := *task
	f.tasks[task.ID] = &copyTask
	f.order = append(f.order, task.ID)
	return nil
}

func (f *taskStoreFake) ListTasks(_ context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Task{}
	for _, id := range f.order {
		task := f.tasks[id]
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		out = append(out, *task)
	}
	return out, nil
}

func (f *taskStoreFake) GetTaskByID(_ context.Context, id string) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	copyTask := *task
	return &copyTask, nil
}

func (f *taskStoreFake) UpdateTask(_ context.Context, task *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyTask := *task
	f.tasks[task.ID] = &copyTask
	f.updated++
	return nil
}

func TestDeriveTasksAppliesDefaults(t *testing.T) {
	store := newTaskStoreFake()
	uc := NewTaskUseCase(store, nil)

	items := []domain.ActionItem{
		{Task: "A"},
		{Task: "B", Priority: "high", Deadline: "not-a-date"},
	}
	tasks, err := uc.DeriveTasks(context.Background(), items, "doc-1", "ai-pipeline")
	if err != nil {
		t.Fatalf("DeriveTasks returned error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Title != "A" || tasks[1].Title != "B" {
		t.Fatalf("order not preserved: %q, %q", tasks[0].Title, tasks[1].Title)
	}
	if tasks[0].Priority != domain.PriorityMedium {
		t.Fatalf("expected default medium priority, got %q", tasks[0].Priority)
	}
	if tasks[1].Priority != domain.PriorityHigh {
		t.Fatalf("expected high priority, got %q", tasks[1].Priority)
	}
	if tasks[1].Deadline != nil {
		t.Fatalf("expected nil deadline for malformed input, got %v", tasks[1].Deadline)
	}
	for _, task := range tasks {
		if len(task.Tags) != 1 || task.Tags[0] != "ai-generated" {
			t.Fatalf("unexpected tags: %v", task.Tags)
		}
		if task.Assignee != "Unassigned" || task.Category != "AI Generated" {
			t.Fatalf("unexpected defaults: assignee=%q category=%q", task.Assignee, task.Category)
		}
		if task.Status != domain.TaskStatusPending || task.DocumentID != "doc-1" || task.CreatedBy != "ai-pipeline" {
			t.Fatalf("unexpected task: %+v", task)
		}
		if task.ID == "" {
			t.Fatalf("expected generated id")
		}
	}
	if len(store.order) != 2 {
		t.Fatalf("expected 2 stored tasks, got %d", len(store.order))
	}
}

func TestDeriveTasksAssigneeFallsBackToDepartment(t *testing.T) {
	uc := NewTaskUseCase(newTaskStoreFake(), nil)
	tasks, err := uc.DeriveTasks(context.Background(), []domain.ActionItem{
		{Task: "Replace signal relay", Department: "Signalling", Deadline: "2026-03-15"},
	}, "", "user-7")
	if err != nil {
		t.Fatalf("DeriveTasks returned error: %v", err)
	}
	if tasks[0].Assignee != "Signalling" {
		t.Fatalf("expected department as assignee, got %q", tasks[0].Assignee)
	}
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if tasks[0].Deadline == nil || !tasks[0].Deadline.Equal(want) {
		t.Fatalf("unexpected deadline: %v", tasks[0].Deadline)
	}
}

func TestCreateBatchReportsPartialFailure(t *testing.T) {
	store := newTaskStoreFake()
	store.failOn["B"] = errors.New("disk full")
	metrics := &metricsFake{}
	uc := NewTaskUseCase(store, metrics)

	tasks, err := uc.CreateBatch(context.Background(), []domain.ActionItem{{Task: "A"}, {Task: "B"}, {Task: "C"}}, "doc", "user")
	if !errors.Is(err, domain.ErrPartialBatch) {
		t.Fatalf("expected ErrPartialBatch, got %v", err)
	}
	if len(tasks) != 2 || tasks[0].Title != "A" || tasks[1].Title != "C" {
		t.Fatalf("unexpected created subset: %+v", tasks)
	}
	if metrics.derived != 2 || metrics.failed != 1 {
		t.Fatalf("unexpected metrics: derived=%d failed=%d", metrics.derived, metrics.failed)
	}
}

func TestUpdateStatusEnforcesTransitions(t *testing.T) {
	store := newTaskStoreFake()
	uc := NewTaskUseCase(store, nil)
	tasks, err := uc.CreateBatch(context.Background(), []domain.ActionItem{{Task: "A"}}, "", "user")
	if err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}
	id := tasks[0].ID

	updated, err := uc.UpdateStatus(context.Background(), id, domain.TaskStatusCompleted)
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if updated.Status != domain.TaskStatusCompleted {
		t.Fatalf("unexpected status: %q", updated.Status)
	}

	if _, err := uc.UpdateStatus(context.Background(), id, domain.TaskStatusPending); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := uc.UpdateStatus(context.Background(), id, "archived"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := uc.UpdateStatus(context.Background(), "missing", domain.TaskStatusCompleted); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	uc := NewTaskUseCase(newTaskStoreFake(), nil)
	if _, err := uc.List(context.Background(), domain.TaskFilter{Status: "archived"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
