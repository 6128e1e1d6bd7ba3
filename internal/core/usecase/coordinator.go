package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
)

const (
	notificationPreviewRunes = 100
	attachmentIngestTimeout  = 2 * time.Minute
)

type CoordinatorOptions struct {
	NotificationLimit int
	Dedup             ports.DedupFilter
	Metrics           ports.PipelineMetrics
	Logger            *slog.Logger
}

// IngestionCoordinator owns one watcher per channel, the per-channel
// notification feeds, and the hand-off of attachments to the pipeline.
type IngestionCoordinator struct {
	factories map[domain.Channel]ports.WatcherFactory
	ingestor  ports.AttachmentIngestor
	dedup     ports.DedupFilter
	metrics   ports.PipelineMetrics
	logger    *slog.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc
	inflight   sync.WaitGroup

	// lifecycle serializes Start/Stop; mu guards the maps below.
	lifecycle sync.Mutex
	mu        sync.RWMutex
	runs      map[domain.Channel]*watcherRun
	feeds     map[domain.Channel]*NotificationFeed
	lastSeen  map[domain.Channel]domain.WatcherStatus
}

type watcherRun struct {
	watcher ports.ChannelWatcher
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
}

func NewIngestionCoordinator(
	factories map[domain.Channel]ports.WatcherFactory,
	ingestor ports.AttachmentIngestor,
	opts CoordinatorOptions,
) *IngestionCoordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopPipelineMetrics{}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	c := &IngestionCoordinator{
		factories:  factories,
		ingestor:   ingestor,
		dedup:      opts.Dedup,
		metrics:    metrics,
		logger:     logger,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		runs:       make(map[domain.Channel]*watcherRun),
		feeds:      make(map[domain.Channel]*NotificationFeed),
		lastSeen:   make(map[domain.Channel]domain.WatcherStatus),
	}
	for channel := range factories {
		c.feeds[channel] = NewNotificationFeed(opts.NotificationLimit)
	}
	return c
}

// Start launches a fresh watcher for the channel. A running watcher is
// stopped first, so at most one instance per channel is ever live.
func (c *IngestionCoordinator) Start(ctx context.Context, channel domain.Channel) (domain.ChannelStatus, error) {
	const op = "start ingestion"

	factory, ok := c.factories[channel]
	if !ok {
		return c.Status(channel), domain.WrapError(domain.ErrUnknownChannel, op, fmt.Errorf("channel %q", channel))
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.stopRun(channel)

	watcher, err := factory()
	if err != nil {
		c.rememberError(channel, err)
		return c.Status(channel), fmt.Errorf("%s: build %s watcher: %w", op, channel, err)
	}

	runCtx, cancel := context.WithCancel(c.rootCtx)
	if err := watcher.Start(runCtx); err != nil {
		cancel()
		_ = watcher.Stop()
		c.rememberError(channel, err)
		return c.Status(channel), fmt.Errorf("%s: %w", op, err)
	}

	run := &watcherRun{watcher: watcher, cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.runs[channel] = run
	c.mu.Unlock()

	go c.forward(runCtx, channel, run)

	c.logger.Info("watcher_started", "channel", channel)
	return c.Status(channel), nil
}

// Stop is idempotent. Once it returns no event of the stopped watcher
// reaches the notification feed or the pipeline.
func (c *IngestionCoordinator) Stop(_ context.Context, channel domain.Channel) (domain.ChannelStatus, error) {
	if _, ok := c.factories[channel]; !ok {
		return c.Status(channel), domain.WrapError(domain.ErrUnknownChannel, "stop ingestion", fmt.Errorf("channel %q", channel))
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.stopRun(channel) {
		c.logger.Info("watcher_stopped", "channel", channel)
	}
	return c.Status(channel), nil
}

// stopRun must be called with lifecycle held.
func (c *IngestionCoordinator) stopRun(channel domain.Channel) bool {
	c.mu.Lock()
	run, ok := c.runs[channel]
	delete(c.runs, channel)
	c.mu.Unlock()
	if !ok {
		return false
	}

	run.mu.Lock()
	run.stopped = true
	run.mu.Unlock()

	status := safeWatcherStatus(run.watcher)
	if err := run.watcher.Stop(); err != nil {
		c.logger.Warn("watcher_stop_failed", "channel", channel, "error", err)
	}
	run.cancel()
	<-run.done

	c.mu.Lock()
	c.lastSeen[channel] = status
	c.mu.Unlock()
	return true
}

func (c *IngestionCoordinator) forward(ctx context.Context, channel domain.Channel, run *watcherRun) {
	defer close(run.done)
	events := run.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(channel, run, event)
		}
	}
}

func (c *IngestionCoordinator) handleEvent(channel domain.Channel, run *watcherRun, event domain.WatcherEvent) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.stopped {
		return
	}

	c.metrics.ObserveWatcherEvent(channel, event.Kind)
	switch event.Kind {
	case domain.EventPairingCode:
		c.logger.Info("watcher_pairing_code", "channel", channel)
	case domain.EventStateChanged:
		c.logger.Info("watcher_state_changed", "channel", channel, "state", event.State)
	case domain.EventNewMessage:
		if event.Message != nil {
			c.acceptMessage(channel, *event.Message)
		}
	}
}

func (c *IngestionCoordinator) acceptMessage(channel domain.Channel, msg domain.RawMessage) {
	if !c.isNew(channel, msg.SourceID) {
		c.logger.Debug("message_duplicate_skipped", "channel", channel, "source_id", msg.SourceID)
		return
	}

	c.mu.RLock()
	feed := c.feeds[channel]
	c.mu.RUnlock()
	if feed != nil {
		feed.Add(newNotification(channel, msg))
	}

	origin := domain.DocumentOrigin{Channel: channel, SourceID: msg.SourceID, Sender: msg.From}
	for _, attachment := range msg.Attachments {
		c.inflight.Add(1)
		go c.ingestAttachment(attachment, origin)
	}
}

func (c *IngestionCoordinator) ingestAttachment(attachment domain.Attachment, origin domain.DocumentOrigin) {
	defer c.inflight.Done()
	if c.ingestor == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.rootCtx, attachmentIngestTimeout)
	defer cancel()

	doc, err := c.ingestor.IngestAttachment(ctx, attachment, origin)
	if err != nil {
		level := slog.LevelError
		if domain.IsKind(err, domain.ErrUnsupportedFormat) {
			level = slog.LevelInfo
		}
		c.logger.Log(ctx, level, "attachment_ingest_failed",
			"channel", origin.Channel,
			"source_id", origin.SourceID,
			"filename", attachment.Filename,
			"error", err,
		)
		return
	}
	c.logger.Info("attachment_ingested",
		"channel", origin.Channel,
		"source_id", origin.SourceID,
		"document_id", doc.ID,
	)
}

// isNew fails open: a broken dedup store must not drop messages.
func (c *IngestionCoordinator) isNew(channel domain.Channel, sourceID string) bool {
	if c.dedup == nil || sourceID == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(c.rootCtx, 2*time.Second)
	defer cancel()

	isNew, err := c.dedup.IsNew(ctx, string(channel)+":"+sourceID)
	if err != nil {
		c.logger.Warn("dedup_check_failed", "channel", channel, "source_id", sourceID, "error", err)
		return true
	}
	return isNew
}

// Status is a pure read and never fails. Unknown values are reported as
// null and an idle channel as stopped.
func (c *IngestionCoordinator) Status(channel domain.Channel) domain.ChannelStatus {
	status := domain.ChannelStatus{
		Channel:       channel,
		State:         domain.StateStopped,
		Notifications: []domain.Notification{},
	}

	c.mu.RLock()
	run := c.runs[channel]
	feed := c.feeds[channel]
	last, hasLast := c.lastSeen[channel]
	c.mu.RUnlock()

	if feed != nil {
		status.Notifications = feed.List()
	}

	var ws domain.WatcherStatus
	switch {
	case run != nil:
		ws = safeWatcherStatus(run.watcher)
		status.Running = true
		if ws.State != "" {
			status.State = ws.State
		}
	case hasLast:
		ws = last
		ws.PairingCode = ""
	default:
		return status
	}

	status.RequiresPairing = ws.RequiresPairing
	if ws.LastCheck != nil {
		lastCheck := *ws.LastCheck
		since := time.Since(lastCheck).Milliseconds()
		status.LastCheck = &lastCheck
		status.TimeSinceLastCheckMs = &since
	}
	if ws.PairingCode != "" {
		code := ws.PairingCode
		status.PairingCode = &code
	}
	if ws.LastError != "" {
		lastErr := ws.LastError
		status.LastError = &lastErr
	}
	return status
}

func (c *IngestionCoordinator) ClearNotifications(channel domain.Channel, ids []string) int {
	c.mu.RLock()
	feed := c.feeds[channel]
	c.mu.RUnlock()
	if feed == nil {
		return 0
	}
	return feed.Clear(ids)
}

// Close stops every watcher and waits for in-flight attachment hand-offs.
func (c *IngestionCoordinator) Close() {
	c.lifecycle.Lock()
	for channel := range c.factories {
		c.stopRun(channel)
	}
	c.lifecycle.Unlock()

	c.rootCancel()
	c.inflight.Wait()
}

func (c *IngestionCoordinator) rememberError(channel domain.Channel, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.lastSeen[channel]
	status.State = domain.StateStopped
	status.LastError = err.Error()
	c.lastSeen[channel] = status
}

func safeWatcherStatus(w ports.ChannelWatcher) (status domain.WatcherStatus) {
	defer func() {
		if recovered := recover(); recovered != nil {
			status = domain.WatcherStatus{State: domain.StateError, LastError: fmt.Sprint(recovered)}
		}
	}()
	return w.Status()
}

func newNotification(channel domain.Channel, msg domain.RawMessage) domain.Notification {
	timestamp := msg.ReceivedAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	preview := []rune(msg.Body)
	if len(preview) > notificationPreviewRunes {
		preview = preview[:notificationPreviewRunes]
	}
	return domain.Notification{
		ID:              uuid.NewString(),
		Channel:         channel,
		SourceID:        msg.SourceID,
		Subject:         msg.Subject,
		From:            msg.From,
		Preview:         string(preview),
		HasMedia:        msg.HasMedia || len(msg.Attachments) > 0,
		AttachmentCount: len(msg.Attachments),
		Timestamp:       timestamp,
	}
}
