// Package email watches an IMAP inbox for unseen messages and reports them,
// with their attachments persisted, as watcher events.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
)

const (
	DefaultPollInterval   = 30 * time.Second
	DefaultReconnectDelay = 10 * time.Second
)

type Options struct {
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	EventBuffer    int
	Logger         *slog.Logger
}

type Watcher struct {
	dial     Dialer
	storage  ports.ObjectStorage
	interval time.Duration
	delay    time.Duration
	logger   *slog.Logger
	now      func() time.Time

	events chan domain.WatcherEvent
	busy   atomic.Bool

	mu        sync.Mutex
	state     domain.WatcherState
	lastCheck *time.Time
	lastError string
	mailbox   Mailbox
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
}

// New builds a watcher. Attachments are saved to storage; with a nil
// storage they travel inline in the event.
func New(dial Dialer, storage ports.ObjectStorage, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 16
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dial:     dial,
		storage:  storage,
		interval: opts.PollInterval,
		delay:    opts.ReconnectDelay,
		logger:   logger.With("channel", domain.ChannelEmail),
		now:      func() time.Time { return time.Now().UTC() },
		events:   make(chan domain.WatcherEvent, opts.EventBuffer),
		state:    domain.StateDisconnected,
	}
}

func (w *Watcher) Channel() domain.Channel {
	return domain.ChannelEmail
}

func (w *Watcher) Events() <-chan domain.WatcherEvent {
	return w.events
}

// Start launches the watch loop and returns at once. Connection progress is
// visible through Status.
func (w *Watcher) Start(ctx context.Context) error {
	if w.dial == nil {
		return domain.WrapError(domain.ErrInvalidInput, "start email watcher", errors.New("no mailbox dialer configured"))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return errors.New("email watcher already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, w.done)
	return nil
}

// Stop is idempotent. It closes the open mailbox so a blocked IMAP command
// returns, waits for the loop to exit and discards undelivered events, so
// nothing can be read from Events after it returns.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		cancel, done := w.cancel, w.done
		w.mu.Unlock()

		if cancel != nil {
			cancel()
			if mailbox := w.takeMailbox(nil); mailbox != nil {
				if err := mailbox.Close(); err != nil {
					w.logger.Debug("imap_close_failed", "error", err)
				}
			}
			<-done
			for range w.events {
			}
		}
		w.setState(domain.StateDisconnected)
	})
	return nil
}

func (w *Watcher) Status() domain.WatcherStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	status := domain.WatcherStatus{State: w.state, LastError: w.lastError}
	if w.lastCheck != nil {
		lastCheck := *w.lastCheck
		status.LastCheck = &lastCheck
	}
	return status
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer close(w.events)

	for {
		w.setState(domain.StateConnecting)
		mailbox, err := w.dial(ctx)
		if err == nil {
			w.clearError()
			w.mu.Lock()
			w.mailbox = mailbox
			w.mu.Unlock()
			err = w.watch(ctx, mailbox)
			if w.takeMailbox(mailbox) != nil {
				if closeErr := mailbox.Close(); closeErr != nil {
					w.logger.Debug("imap_logout_failed", "error", closeErr)
				}
			}
		}
		if ctx.Err() != nil {
			return
		}

		w.fail(err)
		w.logger.Warn("watcher_connection_failed", "error", err, "retry_in", w.delay)
		if !w.waitReconnect(ctx) {
			return
		}
	}
}

// watch polls immediately and then on every tick until the context ends or
// the connection breaks.
func (w *Watcher) watch(ctx context.Context, mailbox Mailbox) error {
	w.setState(domain.StateReady)
	if err := w.poll(ctx, mailbox); err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.poll(ctx, mailbox); err != nil {
				return err
			}
		}
	}
}

// takeMailbox hands the open mailbox to the caller that closes it. With a
// non-nil want it only succeeds while that mailbox is still held.
func (w *Watcher) takeMailbox(want Mailbox) Mailbox {
	w.mu.Lock()
	defer w.mu.Unlock()
	current := w.mailbox
	if current == nil || (want != nil && current != want) {
		return nil
	}
	w.mailbox = nil
	return current
}

func (w *Watcher) waitReconnect(ctx context.Context) bool {
	w.setState(domain.StateReconnecting)
	timer := time.NewTimer(w.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// poll returns an error only when the connection itself failed. Errors on a
// single message are logged and the message is skipped.
func (w *Watcher) poll(ctx context.Context, mailbox Mailbox) error {
	if !w.busy.CompareAndSwap(false, true) {
		w.logger.Debug("watcher_poll_skipped_busy")
		return nil
	}
	defer w.busy.Store(false)

	w.setState(domain.StatePolling)
	uids, err := mailbox.UnseenUIDs(ctx)
	if err != nil {
		return fmt.Errorf("poll inbox: %w", err)
	}

	for _, uid := range uids {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.handleMessage(ctx, mailbox, uid); err != nil {
			w.logger.Error("watcher_message_failed", "uid", uid, "error", err)
		}
	}

	checked := w.now()
	w.mu.Lock()
	w.lastCheck = &checked
	if w.state == domain.StatePolling {
		w.state = domain.StateReady
	}
	w.mu.Unlock()
	return nil
}

func (w *Watcher) handleMessage(ctx context.Context, mailbox Mailbox, uid uint32) error {
	raw, err := mailbox.Fetch(ctx, uid)
	if err != nil {
		return err
	}
	// A fetch that completes after Stop must not save, mark or emit.
	if err := ctx.Err(); err != nil {
		return err
	}
	parsed, err := parseMessage(raw)
	if err != nil {
		return err
	}

	receivedAt := parsed.Date
	if receivedAt.IsZero() {
		receivedAt = w.now()
	}
	sourceID := parsed.MessageID
	if sourceID == "" {
		sourceID = fmt.Sprintf("uid:%d", uid)
	}

	msg := domain.RawMessage{
		SourceID:    sourceID,
		Channel:     domain.ChannelEmail,
		ReceivedAt:  receivedAt,
		Subject:     parsed.Subject,
		From:        parsed.From,
		Body:        parsed.Body,
		HasMedia:    len(parsed.Attachments) > 0,
		Attachments: w.saveAttachments(ctx, sourceID, parsed.Attachments),
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := mailbox.MarkSeen(ctx, uid); err != nil {
		w.logger.Warn("watcher_mark_seen_failed", "uid", uid, "error", err)
	}

	w.emit(ctx, domain.WatcherEvent{
		Kind:    domain.EventNewMessage,
		Channel: domain.ChannelEmail,
		Message: &msg,
		At:      w.now(),
	})
	return nil
}

// saveAttachments persists each attachment; a failed save drops only that
// attachment.
func (w *Watcher) saveAttachments(ctx context.Context, sourceID string, parsed []parsedAttachment) []domain.Attachment {
	out := make([]domain.Attachment, 0, len(parsed))
	for _, part := range parsed {
		if ctx.Err() != nil {
			break
		}
		attachment := domain.Attachment{
			Filename:  part.Filename,
			MimeType:  part.MimeType,
			SizeBytes: int64(len(part.Data)),
		}
		if w.storage == nil {
			attachment.Data = part.Data
			out = append(out, attachment)
			continue
		}

		key := domain.AttachmentStorageKey(part.Filename, w.now())
		if err := w.storage.Save(ctx, key, bytes.NewReader(part.Data)); err != nil {
			w.logger.Error("attachment_save_failed",
				"source_id", sourceID,
				"filename", part.Filename,
				"error", domain.WrapError(domain.ErrAttachmentSave, "save email attachment", err),
			)
			continue
		}
		attachment.StorageKey = key
		out = append(out, attachment)
	}
	return out
}

func (w *Watcher) emit(ctx context.Context, event domain.WatcherEvent) {
	if ctx.Err() != nil {
		return
	}
	select {
	case w.events <- event:
	case <-ctx.Done():
	}
}

func (w *Watcher) setState(state domain.WatcherState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *Watcher) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = domain.StateError
	if err != nil {
		w.lastError = err.Error()
	}
}

func (w *Watcher) clearError() {
	w.mu.Lock()
	w.lastError = ""
	w.mu.Unlock()
}
