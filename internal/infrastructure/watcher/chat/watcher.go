// Package chat reports inbound chat messages and pairing state as watcher
// events. The chat service pushes messages, so there is no polling.
package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"sync"
	"time"

	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
)

const (
	mediaDownloadTimeout = 2 * time.Minute
	millisThreshold      = 1_000_000_000_000
)

type Options struct {
	EventBuffer int
	Logger      *slog.Logger
}

type Watcher struct {
	factory SessionFactory
	storage ports.ObjectStorage
	logger  *slog.Logger
	now     func() time.Time

	inbox  chan SessionEvent
	events chan domain.WatcherEvent

	mu              sync.Mutex
	state           domain.WatcherState
	pairingCode     string
	requiresPairing bool
	lastCheck       *time.Time
	lastError       string
	session         Session
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	stopOnce        sync.Once
}

func New(factory SessionFactory, storage ports.ObjectStorage, opts Options) *Watcher {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 16
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		factory: factory,
		storage: storage,
		logger:  logger.With("channel", domain.ChannelChat),
		now:     func() time.Time { return time.Now().UTC() },
		inbox:   make(chan SessionEvent, 64),
		events:  make(chan domain.WatcherEvent, opts.EventBuffer),
		state:   domain.StateUninitialized,
	}
}

func (w *Watcher) Channel() domain.Channel {
	return domain.ChannelChat
}

func (w *Watcher) Events() <-chan domain.WatcherEvent {
	return w.events
}

// Start opens a fresh session. Pairing, when required, continues in the
// background and is reported through events and Status.
func (w *Watcher) Start(ctx context.Context) error {
	const op = "start chat watcher"
	if w.factory == nil {
		return domain.WrapError(domain.ErrInvalidInput, op, errors.New("no session factory configured"))
	}

	w.mu.Lock()
	if w.done != nil {
		w.mu.Unlock()
		return errors.New("chat watcher already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	checked := w.now()
	w.ctx, w.cancel = runCtx, cancel
	w.done = make(chan struct{})
	w.lastCheck = &checked
	w.mu.Unlock()

	go w.loop(runCtx, w.done)

	session, err := w.factory(w.deliver)
	if err == nil {
		w.mu.Lock()
		w.session = session
		w.mu.Unlock()
		err = session.Connect(runCtx)
	}
	if err != nil {
		w.mu.Lock()
		w.state = domain.StateDisconnected
		w.requiresPairing = true
		w.lastError = err.Error()
		w.mu.Unlock()
		return domain.WrapError(domain.ErrChannelConnection, op, err)
	}
	return nil
}

// Stop tears the session down, waits for the event loop to exit and
// discards undelivered events. It is idempotent.
func (w *Watcher) Stop() error {
	var closeErr error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		cancel, done, session := w.cancel, w.done, w.session
		w.session = nil
		w.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		if session != nil {
			closeErr = session.Close()
		}
		<-done
		for range w.events {
		}

		w.mu.Lock()
		w.state = domain.StateUninitialized
		w.pairingCode = ""
		w.mu.Unlock()
	})
	return closeErr
}

func (w *Watcher) Status() domain.WatcherStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	status := domain.WatcherStatus{
		State:           w.state,
		RequiresPairing: w.requiresPairing,
		LastError:       w.lastError,
	}
	if w.state == domain.StateAwaitingPairing {
		status.PairingCode = w.pairingCode
	}
	if w.lastCheck != nil {
		lastCheck := *w.lastCheck
		status.LastCheck = &lastCheck
	}
	return status
}

// deliver is the session callback. Events that arrive after Stop are
// dropped.
func (w *Watcher) deliver(event SessionEvent) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		return
	}
	select {
	case w.inbox <- event:
	case <-ctx.Done():
	}
}

func (w *Watcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer close(w.events)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.inbox:
			w.handle(ctx, event)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event SessionEvent) {
	switch event.Kind {
	case SessionPairingCode:
		w.mu.Lock()
		w.state = domain.StateAwaitingPairing
		w.pairingCode = event.PairingCode
		w.requiresPairing = true
		w.mu.Unlock()
		w.logger.Info("watcher_pairing_code_issued")
		w.emit(ctx, domain.WatcherEvent{Kind: domain.EventPairingCode, PairingCode: event.PairingCode})

	case SessionConnected:
		w.mu.Lock()
		w.state = domain.StateReady
		w.pairingCode = ""
		w.requiresPairing = false
		w.lastError = ""
		w.mu.Unlock()
		w.emit(ctx, domain.WatcherEvent{Kind: domain.EventStateChanged, State: domain.StateReady})

	case SessionDisconnected, SessionLoggedOut:
		w.mu.Lock()
		w.state = domain.StateDisconnected
		w.requiresPairing = true
		if event.Err != nil {
			w.lastError = event.Err.Error()
		} else if event.Kind == SessionLoggedOut {
			w.lastError = "logged out"
		}
		w.mu.Unlock()
		w.logger.Warn("watcher_disconnected", "logged_out", event.Kind == SessionLoggedOut, "error", event.Err)
		w.emit(ctx, domain.WatcherEvent{Kind: domain.EventStateChanged, State: domain.StateDisconnected})

	case SessionMessage:
		if event.Message != nil {
			w.handleMessage(ctx, *event.Message)
		}
	}
}

func (w *Watcher) handleMessage(ctx context.Context, in InboundMessage) {
	msg := domain.RawMessage{
		SourceID:    in.ID,
		Channel:     domain.ChannelChat,
		ReceivedAt:  normalizeTimestamp(in.Timestamp, w.now),
		From:        in.Sender,
		Body:        in.Body,
		HasMedia:    in.Media != nil,
		Attachments: []domain.Attachment{},
	}

	if in.Media != nil {
		attachment, err := w.fetchMedia(ctx, in)
		if err != nil {
			w.logger.Error("media_download_failed", "source_id", in.ID, "error", err)
		} else {
			msg.Attachments = append(msg.Attachments, attachment)
		}
	}
	if ctx.Err() != nil {
		return
	}

	w.emit(ctx, domain.WatcherEvent{Kind: domain.EventNewMessage, Message: &msg})
}

func (w *Watcher) fetchMedia(ctx context.Context, in InboundMessage) (domain.Attachment, error) {
	if in.Media.Download == nil {
		return domain.Attachment{}, errors.New("media has no downloader")
	}
	downloadCtx, cancel := context.WithTimeout(ctx, mediaDownloadTimeout)
	defer cancel()

	data, err := in.Media.Download(downloadCtx)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("download media: %w", err)
	}

	filename := in.Media.Filename
	if filename == "" {
		filename = "chat-" + in.ID + extensionFor(in.Media.MimeType)
	}
	attachment := domain.Attachment{
		Filename:  filename,
		MimeType:  in.Media.MimeType,
		SizeBytes: int64(len(data)),
	}
	if w.storage == nil {
		attachment.Data = data
		return attachment, nil
	}

	if err := ctx.Err(); err != nil {
		return domain.Attachment{}, err
	}
	key := domain.AttachmentStorageKey(filename, w.now())
	if err := w.storage.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return domain.Attachment{}, domain.WrapError(domain.ErrAttachmentSave, "save chat media", err)
	}
	attachment.StorageKey = key
	return attachment, nil
}

func (w *Watcher) emit(ctx context.Context, event domain.WatcherEvent) {
	event.Channel = domain.ChannelChat
	if event.At.IsZero() {
		event.At = w.now()
	}
	if ctx.Err() != nil {
		return
	}
	select {
	case w.events <- event:
	case <-ctx.Done():
	}
}

// normalizeTimestamp accepts epoch seconds or milliseconds. Zero means
// unknown and maps to now.
func normalizeTimestamp(ts int64, now func() time.Time) time.Time {
	switch {
	case ts <= 0:
		return now()
	case ts < millisThreshold:
		return time.UnixMilli(ts * 1000).UTC()
	default:
		return time.UnixMilli(ts).UTC()
	}
}

func extensionFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}
