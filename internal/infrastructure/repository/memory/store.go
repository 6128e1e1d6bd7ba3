// Package memory keeps documents and tasks in process memory. State is lost
// on restart; use the postgres repositories for durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/docintake/internal/core/domain"
)

type Store struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	tasks     map[string]domain.Task
	taskSeq   map[string]int
	seq       int
}

func NewStore() *Store {
	return &Store{
		documents: make(map[string]domain.Document),
		tasks:     make(map[string]domain.Task),
		taskSeq:   make(map[string]int),
	}
}

func (s *Store) Create(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[doc.ID]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "create document", fmt.Errorf("duplicate id %s", doc.ID))
	}
	s.documents[doc.ID] = *doc
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	return &doc, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document status", fmt.Errorf("id=%s", id))
	}
	doc.Status = status
	doc.Error = errMessage
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	return nil
}

func (s *Store) SaveSummary(_ context.Context, id string, summary domain.Summary, usedFallback bool, taskCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "save summary", fmt.Errorf("id=%s", id))
	}
	doc.Summary = &summary
	doc.UsedFallback = usedFallback
	doc.TaskCount = taskCount
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	return nil
}

func (s *Store) CreateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "create task", fmt.Errorf("duplicate id %s", task.ID))
	}
	s.seq++
	s.taskSeq[task.ID] = s.seq
	s.tasks[task.ID] = cloneTask(*task)
	return nil
}

// ListTasks returns matching tasks in creation order.
func (s *Store) ListTasks(_ context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.DocumentID != "" && task.DocumentID != filter.DocumentID {
			continue
		}
		out = append(out, cloneTask(task))
	}
	sort.Slice(out, func(i, j int) bool {
		return s.taskSeq[out[i].ID] < s.taskSeq[out[j].ID]
	})
	return out, nil
}

func (s *Store) GetTaskByID(_ context.Context, taskID string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.WrapError(domain.ErrTaskNotFound, "get task", fmt.Errorf("id=%s", taskID))
	}
	out := cloneTask(task)
	return &out, nil
}

func (s *Store) UpdateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return domain.WrapError(domain.ErrTaskNotFound, "update task", fmt.Errorf("id=%s", task.ID))
	}
	s.tasks[task.ID] = cloneTask(*task)
	return nil
}

func cloneTask(task domain.Task) domain.Task {
	task.Tags = append([]string{}, task.Tags...)
	if task.Deadline != nil {
		d := *task.Deadline
		task.Deadline = &d
	}
	return task
}
