package usecase

import (
	"sync"

	"github.com/kirillkom/docintake/internal/core/domain"
)

const DefaultNotificationLimit = 50

// NotificationFeed is a bounded newest-first buffer of recent activity for
// one channel.
type NotificationFeed struct {
	mu    sync.Mutex
	limit int
	items []domain.Notification
}

func NewNotificationFeed(limit int) *NotificationFeed {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	return &NotificationFeed{limit: limit, items: make([]domain.Notification, 0, limit)}
}

// Add prepends n and drops the oldest entries beyond the limit.
func (f *NotificationFeed) Add(n domain.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = append(f.items, domain.Notification{})
	copy(f.items[1:], f.items)
	f.items[0] = n
	if len(f.items) > f.limit {
		f.items = f.items[:f.limit]
	}
}

func (f *NotificationFeed) List() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Notification{}, f.items...)
}

// Clear removes the given ids, or everything when ids is empty. It returns
// the number of removed notifications.
func (f *NotificationFeed) Clear(ids []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(ids) == 0 {
		cleared := len(f.items)
		f.items = f.items[:0]
		return cleared
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := f.items[:0]
	for _, n := range f.items {
		if _, ok := drop[n.ID]; !ok {
			kept = append(kept, n)
		}
	}
	cleared := len(f.items) - len(kept)
	f.items = kept
	return cleared
}
