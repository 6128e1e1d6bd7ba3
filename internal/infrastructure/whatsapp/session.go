// Package whatsapp adapts a whatsmeow client to the chat watcher session
// contract. Device credentials live in a local SQLite store.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"

	"github.com/kirillkom/docintake/internal/infrastructure/watcher/chat"
)

type Config struct {
	StorePath string
	Logger    *slog.Logger
}

// NewSessionFactory returns a factory that opens a new whatsmeow client per
// watcher start.
func NewSessionFactory(cfg Config) chat.SessionFactory {
	if cfg.StorePath == "" {
		cfg.StorePath = "data/whatsapp.db"
	}
	return func(handler func(chat.SessionEvent)) (chat.Session, error) {
		if handler == nil {
			return nil, errors.New("whatsapp session requires an event handler")
		}
		return &Session{storePath: cfg.StorePath, handler: handler, log: newLogger(cfg.Logger)}, nil
	}
}

type Session struct {
	storePath string
	handler   func(chat.SessionEvent)
	log       waLog.Logger

	mu        sync.Mutex
	container *sqlstore.Container
	client    *whatsmeow.Client
}

// Connect opens the device store and the websocket. For an unpaired device
// pairing codes are pushed to the handler until the phone links.
func (s *Session) Connect(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		return fmt.Errorf("create whatsapp store dir: %w", err)
	}
	container, err := sqlstore.New(ctx, "sqlite", storeDSN(s.storePath), s.log.Sub("store"))
	if err != nil {
		return fmt.Errorf("open whatsapp device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return fmt.Errorf("load whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(device, s.log.Sub("client"))
	client.EnableAutoReconnect = false
	client.AddEventHandler(s.onEvent)

	s.mu.Lock()
	s.container = container
	s.client = client
	s.mu.Unlock()

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("open pairing channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			return fmt.Errorf("connect whatsapp: %w", err)
		}
		go s.forwardPairing(qrChan)
		return nil
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect whatsapp: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	client, container := s.client, s.container
	s.client, s.container = nil, nil
	s.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		return container.Close()
	}
	return nil
}

func (s *Session) forwardPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.handler(chat.SessionEvent{Kind: chat.SessionPairingCode, PairingCode: item.Code})
		case whatsmeow.QRChannelEventError:
			s.handler(chat.SessionEvent{Kind: chat.SessionDisconnected, Err: fmt.Errorf("pairing failed: %w", item.Error)})
		case whatsmeow.QRChannelTimeout.Event:
			s.handler(chat.SessionEvent{Kind: chat.SessionDisconnected, Err: errors.New("pairing timed out")})
		}
	}
}

func (s *Session) onEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		s.handler(chat.SessionEvent{Kind: chat.SessionConnected})
	case *events.Disconnected:
		s.handler(chat.SessionEvent{Kind: chat.SessionDisconnected})
	case *events.StreamReplaced:
		s.handler(chat.SessionEvent{Kind: chat.SessionDisconnected, Err: errors.New("session replaced by another client")})
	case *events.LoggedOut:
		s.handler(chat.SessionEvent{Kind: chat.SessionLoggedOut, Err: fmt.Errorf("logged out: %s", v.Reason.String())})
	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		s.handler(chat.SessionEvent{Kind: chat.SessionMessage, Message: s.toInbound(v)})
	}
}

func (s *Session) toInbound(evt *events.Message) *chat.InboundMessage {
	msg := evt.Message
	in := &chat.InboundMessage{
		ID:        string(evt.Info.ID),
		Sender:    evt.Info.Sender.ToNonAD().String(),
		Body:      msg.GetConversation(),
		Timestamp: evt.Info.Timestamp.Unix(),
	}
	if in.Body == "" {
		in.Body = msg.GetExtendedTextMessage().GetText()
	}

	var (
		downloadable whatsmeow.DownloadableMessage
		filename     string
		mimeType     string
		caption      string
	)
	document := msg.GetDocumentMessage()
	if document == nil {
		document = msg.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage()
	}
	switch {
	case document != nil:
		downloadable, filename, mimeType, caption = document, document.GetFileName(), document.GetMimetype(), document.GetCaption()
	case msg.GetImageMessage() != nil:
		image := msg.GetImageMessage()
		downloadable, mimeType, caption = image, image.GetMimetype(), image.GetCaption()
	case msg.GetVideoMessage() != nil:
		video := msg.GetVideoMessage()
		downloadable, mimeType, caption = video, video.GetMimetype(), video.GetCaption()
	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		downloadable, mimeType = audio, audio.GetMimetype()
	}
	if in.Body == "" {
		in.Body = caption
	}
	if downloadable == nil {
		return in
	}

	in.Media = &chat.Media{
		Filename: filename,
		MimeType: mimeType,
		Download: func(ctx context.Context) ([]byte, error) {
			s.mu.Lock()
			client := s.client
			s.mu.Unlock()
			if client == nil {
				return nil, errors.New("whatsapp session closed")
			}
			return client.Download(ctx, downloadable)
		},
	}
	return in
}

func storeDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
