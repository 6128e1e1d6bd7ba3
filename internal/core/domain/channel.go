package domain

import (
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelChat   Channel = "chat"
	ChannelUpload Channel = "upload"
)

// ParseWatchedChannel accepts the channels that have a watcher. "whatsapp"
// is accepted as an alias of chat.
func ParseWatchedChannel(raw string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "email":
		return ChannelEmail, true
	case "chat", "whatsapp":
		return ChannelChat, true
	default:
		return "", false
	}
}

// Attachment is one file carried by an inbound message. StorageKey is set
// once the watcher has persisted the bytes.
type Attachment struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	StorageKey string `json:"storage_key,omitempty"`
	Data       []byte `json:"-"`
}

// RawMessage is one inbound unit from a channel.
type RawMessage struct {
	SourceID    string       `json:"source_id"`
	Channel     Channel      `json:"channel"`
	ReceivedAt  time.Time    `json:"received_at"`
	Subject     string       `json:"subject,omitempty"`
	From        string       `json:"from"`
	Body        string       `json:"body,omitempty"`
	HasMedia    bool         `json:"has_media"`
	Attachments []Attachment `json:"attachments"`
}

type WatcherState string

const (
	StateStopped         WatcherState = "stopped"
	StateDisconnected    WatcherState = "disconnected"
	StateConnecting      WatcherState = "connecting"
	StateReady           WatcherState = "ready"
	StatePolling         WatcherState = "polling"
	StateError           WatcherState = "error"
	StateReconnecting    WatcherState = "reconnecting"
	StateUninitialized   WatcherState = "uninitialized"
	StateAwaitingPairing WatcherState = "awaiting-pairing"
)

type WatcherEventKind string

const (
	EventNewMessage   WatcherEventKind = "new-message"
	EventPairingCode  WatcherEventKind = "pairing-code"
	EventStateChanged WatcherEventKind = "state-changed"
)

type WatcherEvent struct {
	Kind        WatcherEventKind
	Channel     Channel
	Message     *RawMessage
	PairingCode string
	State       WatcherState
	At          time.Time
}

// WatcherStatus is the watcher-side half of a channel status report.
type WatcherStatus struct {
	State           WatcherState
	LastCheck       *time.Time
	PairingCode     string
	RequiresPairing bool
	LastError       string
}

// ChannelStatus is returned by the status endpoint. Every key is always
// present; unknown values are null.
type ChannelStatus struct {
	Channel              Channel        `json:"channel"`
	Running              bool           `json:"running"`
	State                WatcherState   `json:"state"`
	LastCheck            *time.Time     `json:"last_check"`
	TimeSinceLastCheckMs *int64         `json:"time_since_last_check_ms"`
	PairingCode          *string        `json:"pairing_code"`
	RequiresPairing      bool           `json:"requires_pairing"`
	LastError            *string        `json:"last_error"`
	Notifications        []Notification `json:"notifications"`
}
