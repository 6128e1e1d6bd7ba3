package chat

import "context"

type SessionEventKind int

const (
	SessionPairingCode SessionEventKind = iota + 1
	SessionConnected
	SessionDisconnected
	SessionLoggedOut
	SessionMessage
)

// Media is a downloadable attachment of an inbound message.
type Media struct {
	Filename string
	MimeType string
	Download func(ctx context.Context) ([]byte, error)
}

// InboundMessage is one chat message as delivered by the session.
// Timestamp may be in seconds or milliseconds since the epoch.
type InboundMessage struct {
	ID        string
	Sender    string
	Body      string
	Timestamp int64
	Media     *Media
}

type SessionEvent struct {
	Kind        SessionEventKind
	PairingCode string
	Message     *InboundMessage
	Err         error
}

// Session is a live connection to the chat service. Events are pushed to
// the handler given to the SessionFactory.
type Session interface {
	Connect(ctx context.Context) error
	Close() error
}

type SessionFactory func(handler func(SessionEvent)) (Session, error)
