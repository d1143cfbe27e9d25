package gmail

import (
	"encoding/base64"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	gmail "google.golang.org/api/gmail/v1"
)

// Email is a Gmail message reduced to the fields the rest of the
// pipeline works with.
type Email struct {
	ID              string
	Identity        string
	Sender          string
	Recipient       string
	Subject         string
	BodyText        string
	BodyHTML        string
	DateReceived    time.Time
	ThreadID        string
	Labels          []string
	HasAttachments  bool
	AttachmentCount int
}

var (
	angleAddrPattern = regexp.MustCompile(`<([^>]+)>`)
	bareAddrPattern  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// Parser turns raw Gmail API messages into Emails.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a message parser.
func NewParser() *Parser {
	return &Parser{logger: slog.Default()}
}

// SetLogger sets a custom logger for the parser.
func (p *Parser) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Parse converts a raw Gmail message into an Email owned by identity.
// It never fails hard: undecodable parts become empty strings and a
// missing Date header falls back to the current time.
func (p *Parser) Parse(msg *gmail.Message, identity string) *Email {
	if msg == nil {
		return nil
	}

	headers := headerMap(msg.Payload)
	text, html := p.extractBody(msg.Payload)
	if text == "" && html != "" {
		converted, err := html2text.FromString(html, html2text.Options{TextOnly: true})
		if err != nil {
			p.logger.Warn("HTML to text conversion failed",
				slog.String("message_id", msg.Id),
				slog.String("error", err.Error()))
		} else {
			text = converted
		}
	}

	hasAttachments, attachmentCount := countAttachments(msg.Payload)

	return &Email{
		ID:              msg.Id,
		Identity:        identity,
		Sender:          CleanAddress(headers["from"]),
		Recipient:       headers["to"],
		Subject:         headers["subject"],
		BodyText:        text,
		BodyHTML:        html,
		DateReceived:    p.parseDate(headers["date"]),
		ThreadID:        msg.ThreadId,
		Labels:          msg.LabelIds,
		HasAttachments:  hasAttachments,
		AttachmentCount: attachmentCount,
	}
}

// headerMap flattens payload headers into a lowercase-keyed map.
func headerMap(payload *gmail.MessagePart) map[string]string {
	headers := make(map[string]string)
	if payload == nil {
		return headers
	}
	for _, h := range payload.Headers {
		headers[strings.ToLower(h.Name)] = h.Value
	}
	return headers
}

// extractBody walks the (possibly nested) multipart tree and collects
// text/plain and text/html content.
func (p *Parser) extractBody(payload *gmail.MessagePart) (text, html string) {
	if payload == nil {
		return "", ""
	}

	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			switch part.MimeType {
			case "text/plain":
				text += p.decodeBody(part.Body)
			case "text/html":
				html += p.decodeBody(part.Body)
			default:
				if len(part.Parts) > 0 {
					walk(part.Parts)
				}
			}
		}
	}

	if len(payload.Parts) == 0 {
		switch payload.MimeType {
		case "text/plain":
			text = p.decodeBody(payload.Body)
		case "text/html":
			html = p.decodeBody(payload.Body)
		}
		return text, html
	}
	walk(payload.Parts)
	return text, html
}

// decodeBody decodes the base64url body data of a message part. The API
// sends data both with and without padding, so padding is stripped
// before decoding. Invalid data yields an empty string.
func (p *Parser) decodeBody(body *gmail.MessagePartBody) string {
	if body == nil || body.Data == "" {
		return ""
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(body.Data, "="))
	if err != nil {
		p.logger.Warn("failed to decode message body", slog.String("error", err.Error()))
		return ""
	}
	return strings.ToValidUTF8(string(decoded), "")
}

// parseDate parses an RFC 2822 Date header, falling back to the current
// time when the header is missing or unparseable.
func (p *Parser) parseDate(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	t, err := mail.ParseDate(value)
	if err != nil {
		p.logger.Warn("failed to parse date header",
			slog.String("date", value),
			slog.String("error", err.Error()))
		return time.Now().UTC()
	}
	return t.UTC()
}

// countAttachments counts parts carrying a filename anywhere in the
// payload tree.
func countAttachments(payload *gmail.MessagePart) (bool, int) {
	if payload == nil {
		return false, 0
	}

	count := 0
	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" {
				count++
			} else if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}

	if len(payload.Parts) > 0 {
		walk(payload.Parts)
	} else if payload.Filename != "" {
		count = 1
	}
	return count > 0, count
}

// CleanAddress extracts the bare address from a From-style header value
// such as "Alice Example <alice@example.com>".
func CleanAddress(value string) string {
	if value == "" {
		return ""
	}
	if m := angleAddrPattern.FindStringSubmatch(value); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := bareAddrPattern.FindString(value); m != "" {
		return m
	}
	return strings.TrimSpace(value)
}
