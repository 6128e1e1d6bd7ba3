package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/kirillkom/docintake/internal/core/domain"
)

// Mailbox is the subset of an IMAP session the watcher needs.
type Mailbox interface {
	UnseenUIDs(ctx context.Context) ([]uint32, error)
	Fetch(ctx context.Context, uid uint32) ([]byte, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Close() error
}

// Dialer opens an authenticated mailbox with INBOX selected read-write.
type Dialer func(ctx context.Context) (Mailbox, error)

type IMAPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	Folder             string
	InsecureSkipVerify bool
	CommandTimeout     time.Duration
}

func (c IMAPConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return domain.WrapError(domain.ErrInvalidInput, "imap config", fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

// NewIMAPDialer returns a Dialer backed by go-imap over implicit TLS.
func NewIMAPDialer(cfg IMAPConfig) (Dialer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Port <= 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 60 * time.Second
	}

	return func(ctx context.Context) (Mailbox, error) {
		return dialIMAP(ctx, cfg)
	}, nil
}

type imapMailbox struct {
	client *client.Client
}

func dialIMAP(ctx context.Context, cfg IMAPConfig) (*imapMailbox, error) {
	const op = "imap connect"

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrChannelConnection, op, err)
	}
	c.Timeout = cfg.CommandTimeout

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, domain.WrapError(domain.ErrChannelConnection, op, fmt.Errorf("login: %w", err))
	}
	if _, err := c.Select(cfg.Folder, false); err != nil {
		_ = c.Logout()
		return nil, domain.WrapError(domain.ErrChannelConnection, op, fmt.Errorf("select %s: %w", cfg.Folder, err))
	}
	return &imapMailbox{client: c}, nil
}

func (m *imapMailbox) UnseenUIDs(ctx context.Context) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, domain.WrapError(domain.ErrChannelConnection, "imap search unseen", err)
	}
	return uids, nil
}

func (m *imapMailbox) Fetch(ctx context.Context, uid uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqset, items, messages)
	}()

	var raw []byte
	for msg := range messages {
		literal := msg.GetBody(section)
		if literal == nil {
			continue
		}
		buf, err := io.ReadAll(literal)
		if err != nil {
			return nil, fmt.Errorf("read message %d: %w", uid, err)
		}
		raw = buf
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", uid, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("fetch message %d: %w", uid, errEmptyBody)
	}
	return raw, nil
}

func (m *imapMailbox) MarkSeen(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("mark message %d seen: %w", uid, err)
	}
	return nil
}

// Close drops the connection without waiting for LOGOUT, so a command
// blocked on the server returns at once.
func (m *imapMailbox) Close() error {
	return m.client.Terminate()
}

var errEmptyBody = errors.New("server returned no body")
