package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

type parsedAttachment struct {
	Filename string
	MimeType string
	Data     []byte
}

type parsedMessage struct {
	MessageID   string
	Subject     string
	From        string
	Date        time.Time
	Body        string
	Attachments []parsedAttachment
}

// parseMessage reads headers, the readable body and every attachment of an
// RFC 5322 message. HTML bodies are reduced to text when no plain part exists.
func parseMessage(raw []byte) (parsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return parsedMessage{}, fmt.Errorf("read message header: %w", err)
	}
	defer mr.Close()

	var out parsedMessage
	header := mr.Header
	out.Subject, _ = header.Subject()
	out.MessageID, _ = header.MessageID()
	if date, err := header.Date(); err == nil {
		out.Date = date.UTC()
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		out.From = formatAddress(from[0])
	} else {
		out.From = strings.TrimSpace(header.Get("From"))
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return out, fmt.Errorf("read message part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return out, fmt.Errorf("read inline part: %w", err)
			}
			switch {
			case contentType == "text/plain" && plain == "":
				plain = string(data)
			case contentType == "text/html" && html == "":
				html = string(data)
			case params["name"] != "":
				out.Attachments = append(out.Attachments, parsedAttachment{
					Filename: decodeFilename(params["name"]),
					MimeType: contentType,
					Data:     data,
				})
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return out, fmt.Errorf("read attachment %q: %w", filename, err)
			}
			if filename == "" {
				filename = "attachment"
			}
			out.Attachments = append(out.Attachments, parsedAttachment{
				Filename: filename,
				MimeType: contentType,
				Data:     data,
			})
		}
	}

	out.Body = strings.TrimSpace(plain)
	if out.Body == "" && html != "" {
		out.Body = htmlToText(html)
	}
	return out, nil
}

func formatAddress(addr *mail.Address) string {
	if addr.Name == "" {
		return addr.Address
	}
	return fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
}

func decodeFilename(name string) string {
	decoded, err := new(mime.WordDecoder).DecodeHeader(name)
	if err != nil {
		return name
	}
	return decoded
}
