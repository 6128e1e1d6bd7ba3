package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
)

type watcherFake struct {
	channel    domain.Channel
	events     chan domain.WatcherEvent
	startErr   error
	started    atomic.Bool
	stopped    atomic.Bool
	panicOnGet bool
	lastCheck  time.Time
}

func newWatcherFake(channel domain.Channel) *watcherFake {
	return &watcherFake{channel: channel, events: make(chan domain.WatcherEvent, 16)}
}

func (w *watcherFake) Channel() domain.Channel { return w.channel }

func (w *watcherFake) Start(context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.started.Store(true)
	w.lastCheck = time.Now().UTC()
	return nil
}

func (w *watcherFake) Stop() error {
	w.stopped.Store(true)
	return nil
}

func (w *watcherFake) Events() <-chan domain.WatcherEvent { return w.events }

func (w *watcherFake) Status() domain.WatcherStatus {
	if w.panicOnGet {
		panic("session gone")
	}
	lastCheck := w.lastCheck
	return domain.WatcherStatus{State: domain.StateReady, LastCheck: &lastCheck}
}

func (w *watcherFake) emit(msg domain.RawMessage) {
	msg.Channel = w.channel
	w.events <- domain.WatcherEvent{Kind: domain.EventNewMessage, Channel: w.channel, Message: &msg, At: time.Now()}
}

type watcherPool struct {
	mu        sync.Mutex
	instances []*watcherFake
	startErr  error
	buildErr  error
}

func (p *watcherPool) factory(channel domain.Channel) ports.WatcherFactory {
	return func() (ports.ChannelWatcher, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.buildErr != nil {
			return nil, p.buildErr
		}
		w := newWatcherFake(channel)
		w.startErr = p.startErr
		p.instances = append(p.instances, w)
		return w, nil
	}
}

func (p *watcherPool) get(i int) *watcherFake {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instances[i]
}

type attachmentIngestorFake struct {
	mu    sync.Mutex
	calls []domain.Attachment
	fail  map[string]error
}

func (f *attachmentIngestorFake) IngestAttachment(_ context.Context, attachment domain.Attachment, origin domain.DocumentOrigin) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, attachment)
	if err, ok := f.fail[attachment.Filename]; ok {
		return nil, err
	}
	return &domain.Document{ID: "doc-" + attachment.Filename, Origin: origin}, nil
}

func (f *attachmentIngestorFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type dedupFake struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (f *dedupFake) IsNew(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestCoordinator(pool *watcherPool, ingestor ports.AttachmentIngestor, dedup ports.DedupFilter) *IngestionCoordinator {
	return NewIngestionCoordinator(map[domain.Channel]ports.WatcherFactory{
		domain.ChannelEmail: pool.factory(domain.ChannelEmail),
		domain.ChannelChat:  pool.factory(domain.ChannelChat),
	}, ingestor, CoordinatorOptions{Dedup: dedup})
}

func TestCoordinatorStartIsIdempotent(t *testing.T) {
	pool := &watcherPool{}
	coord := newTestCoordinator(pool, nil, &dedupFake{})
	defer coord.Close()

	if _, err := coord.Start(context.Background(), domain.ChannelEmail); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	status, err := coord.Start(context.Background(), domain.ChannelEmail)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if !status.Running {
		t.Fatalf("expected running status")
	}

	first, second := pool.get(0), pool.get(1)
	if !first.stopped.Load() {
		t.Fatalf("previous watcher must be stopped on restart")
	}
	if second.stopped.Load() {
		t.Fatalf("current watcher must stay live")
	}

	msg := domain.RawMessage{SourceID: "m-1", Subject: "Shift roster", From: "hr@example.com"}
	first.emit(msg)
	second.emit(msg)
	second.emit(msg)

	waitFor(t, "notification", func() bool { return len(coord.Status(domain.ChannelEmail).Notifications) >= 1 })
	time.Sleep(30 * time.Millisecond)
	if got := len(coord.Status(domain.ChannelEmail).Notifications); got != 1 {
		t.Fatalf("expected exactly one notification, got %d", got)
	}
}

func TestCoordinatorStopThenEventIsSilent(t *testing.T) {
	pool := &watcherPool{}
	ingestor := &attachmentIngestorFake{}
	coord := newTestCoordinator(pool, ingestor, nil)
	defer coord.Close()

	if _, err := coord.Start(context.Background(), domain.ChannelChat); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status, err := coord.Stop(context.Background(), domain.ChannelChat)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if status.Running || status.State != domain.StateStopped {
		t.Fatalf("expected stopped status, got %+v", status)
	}

	pool.get(0).emit(domain.RawMessage{
		SourceID:    "late",
		Attachments: []domain.Attachment{{Filename: "late.pdf", MimeType: domain.MimePDF}},
	})
	time.Sleep(50 * time.Millisecond)

	if got := len(coord.Status(domain.ChannelChat).Notifications); got != 0 {
		t.Fatalf("expected no notifications after stop, got %d", got)
	}
	if ingestor.count() != 0 {
		t.Fatalf("expected no pipeline hand-off after stop")
	}

	if _, err := coord.Stop(context.Background(), domain.ChannelChat); err != nil {
		t.Fatalf("second Stop() must be a no-op, got %v", err)
	}
}

func TestCoordinatorHandsOffEveryAttachment(t *testing.T) {
	pool := &watcherPool{}
	ingestor := &attachmentIngestorFake{fail: map[string]error{"bad.zip": domain.ErrUnsupportedFormat}}
	coord := newTestCoordinator(pool, ingestor, nil)

	if _, err := coord.Start(context.Background(), domain.ChannelEmail); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pool.get(0).emit(domain.RawMessage{
		SourceID: "m-2",
		Body:     "Please see attached",
		Attachments: []domain.Attachment{
			{Filename: "bad.zip", MimeType: "application/zip"},
			{Filename: "minutes.docx", MimeType: domain.MimeDOCX},
		},
	})

	waitFor(t, "attachment hand-off", func() bool { return ingestor.count() == 2 })
	coord.Close()

	items := coord.Status(domain.ChannelEmail).Notifications
	if len(items) != 1 || items[0].AttachmentCount != 2 || !items[0].HasMedia || items[0].Preview != "Please see attached" {
		t.Fatalf("unexpected notifications: %+v", items)
	}
}

func TestCoordinatorDedupFailsOpen(t *testing.T) {
	pool := &watcherPool{}
	coord := newTestCoordinator(pool, nil, &dedupFake{err: errors.New("redis down")})
	defer coord.Close()

	if _, err := coord.Start(context.Background(), domain.ChannelEmail); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pool.get(0).emit(domain.RawMessage{SourceID: "m-3"})

	waitFor(t, "notification", func() bool { return len(coord.Status(domain.ChannelEmail).Notifications) == 1 })
}

func TestCoordinatorStatusNeverFails(t *testing.T) {
	pool := &watcherPool{}
	coord := newTestCoordinator(pool, nil, nil)
	defer coord.Close()

	idle := coord.Status(domain.ChannelEmail)
	if idle.Running || idle.State != domain.StateStopped || idle.Notifications == nil {
		t.Fatalf("unexpected idle status: %+v", idle)
	}
	if idle.LastCheck != nil || idle.TimeSinceLastCheckMs != nil || idle.LastError != nil || idle.PairingCode != nil {
		t.Fatalf("idle status must carry null defaults: %+v", idle)
	}

	unknown := coord.Status("fax")
	if unknown.State != domain.StateStopped || unknown.Notifications == nil {
		t.Fatalf("unexpected unknown-channel status: %+v", unknown)
	}

	if _, err := coord.Start(context.Background(), domain.ChannelEmail); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	running := coord.Status(domain.ChannelEmail)
	if running.LastCheck == nil || running.TimeSinceLastCheckMs == nil {
		t.Fatalf("expected last check on running watcher: %+v", running)
	}

	pool.get(0).panicOnGet = true
	broken := coord.Status(domain.ChannelEmail)
	if broken.State != domain.StateError || broken.LastError == nil {
		t.Fatalf("expected error state from panicking watcher, got %+v", broken)
	}
	pool.get(0).panicOnGet = false
}

func TestCoordinatorStartErrors(t *testing.T) {
	pool := &watcherPool{buildErr: domain.WrapError(domain.ErrInvalidInput, "email watcher", errors.New("IMAP_USER is not set"))}
	coord := newTestCoordinator(pool, nil, nil)
	defer coord.Close()

	if _, err := coord.Start(context.Background(), "fax"); !errors.Is(err, domain.ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}

	status, err := coord.Start(context.Background(), domain.ChannelEmail)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if status.Running || status.LastError == nil {
		t.Fatalf("expected stopped status with last error, got %+v", status)
	}
}

func TestCoordinatorClearNotifications(t *testing.T) {
	pool := &watcherPool{}
	coord := newTestCoordinator(pool, nil, nil)
	defer coord.Close()

	if _, err := coord.Start(context.Background(), domain.ChannelChat); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pool.get(0).emit(domain.RawMessage{SourceID: "a"})
	pool.get(0).emit(domain.RawMessage{SourceID: "b"})
	waitFor(t, "notifications", func() bool { return len(coord.Status(domain.ChannelChat).Notifications) == 2 })

	if cleared := coord.ClearNotifications(domain.ChannelChat, nil); cleared != 2 {
		t.Fatalf("expected 2 cleared, got %d", cleared)
	}
	if cleared := coord.ClearNotifications("fax", nil); cleared != 0 {
		t.Fatalf("expected 0 cleared for unknown channel, got %d", cleared)
	}
}
