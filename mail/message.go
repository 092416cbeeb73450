package mail

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/mailhog/data"
	"github.com/opd-ai/imapsn/limits"
)

// ContentTypeJSON is the attachment's media type.
const ContentTypeJSON = "application/json"

// parseHost names this system in parsed message ids.
const parseHost = "imapsn"

// base64LineLength is the RFC 2045 line limit for base64 bodies.
const base64LineLength = 76

var (
	// ErrMalformedMessage is returned for mail that cannot be rendered or
	// parsed as a protocol message.
	ErrMalformedMessage = errors.New("malformed mail message")

	// ErrNoAttachment is returned when a message carries no named attachment.
	ErrNoAttachment = errors.New("message has no attachment")
)

// Message is a protocol mail with a single attachment.
type Message struct {
	From           string
	To             []string
	Subject        string
	AttachmentName string
	Data           []byte
	Date           time.Time
}

// Render encodes m as a MIME message with CRLF line endings.
func Render(m Message) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	boundary, err := newBoundary()
	if err != nil {
		return nil, err
	}
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", m.From)
	header("To", strings.Join(m.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/mixed; boundary="+boundary)
	buf.WriteString("\r\n")

	buf.WriteString("--" + boundary + "\r\n")
	header("Content-Type", ContentTypeJSON)
	header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": m.AttachmentName}))
	header("Content-Transfer-Encoding", "base64")
	buf.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString(m.Data)
	for len(encoded) > base64LineLength {
		buf.WriteString(encoded[:base64LineLength] + "\r\n")
		encoded = encoded[base64LineLength:]
	}
	buf.WriteString(encoded + "\r\n")
	buf.WriteString("--" + boundary + "--\r\n")

	return buf.Bytes(), nil
}

func (m Message) validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("%w: no recipients", ErrMalformedMessage)
	}
	if m.AttachmentName == "" {
		return fmt.Errorf("%w: empty attachment name", ErrMalformedMessage)
	}
	fields := append([]string{m.From, m.AttachmentName}, m.To...)
	for _, f := range fields {
		if strings.ContainsAny(f, "\r\n") {
			return fmt.Errorf("%w: header value contains a line break", ErrMalformedMessage)
		}
	}
	if _, err := mail.ParseAddress(m.From); err != nil {
		return fmt.Errorf("%w: from %q: %v", ErrMalformedMessage, m.From, err)
	}
	for _, to := range m.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return fmt.Errorf("%w: to %q: %v", ErrMalformedMessage, to, err)
		}
	}
	return nil
}

func newBoundary() (string, error) {
	var b [16]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return "", fmt.Errorf("generate boundary: %w", err)
	}
	return "imapsn-" + hex.EncodeToString(b[:]), nil
}

// ParseMessage decodes a raw mail into its routing headers and first named
// attachment.
func ParseMessage(raw []byte) (*Message, error) {
	if err := limits.ValidateProcessingBuffer(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	smtpMsg := &data.SMTPMessage{Data: string(raw)}
	parsed := smtpMsg.Parse(parseHost)
	content := parsed.Content

	m := &Message{
		From: headerValue(content.Headers, "From"),
	}
	if to := headerValue(content.Headers, "To"); to != "" {
		list, err := mail.ParseAddressList(to)
		if err != nil {
			return nil, fmt.Errorf("%w: to: %v", ErrMalformedMessage, err)
		}
		for _, addr := range list {
			m.To = append(m.To, addr.String())
		}
	}

	dec := new(mime.WordDecoder)
	subject := headerValue(content.Headers, "Subject")
	if decoded, err := dec.DecodeHeader(subject); err == nil {
		subject = decoded
	}
	m.Subject = subject

	if d := headerValue(content.Headers, "Date"); d != "" {
		if t, err := mail.ParseDate(d); err == nil {
			m.Date = t
		}
	}

	if !content.IsMIME() {
		return m, fmt.Errorf("%w: not a multipart message", ErrNoAttachment)
	}
	for _, part := range content.ParseMIMEBody().Parts {
		name := attachmentName(part.Headers)
		if name == "" {
			continue
		}
		body, err := decodeBody(part)
		if err != nil {
			return m, fmt.Errorf("%w: attachment %s: %v", ErrMalformedMessage, name, err)
		}
		m.AttachmentName = name
		m.Data = body
		return m, nil
	}
	return m, ErrNoAttachment
}

// headerValue looks a header up case-insensitively.
func headerValue(headers map[string][]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	}
	return ""
}

func attachmentName(headers map[string][]string) string {
	if disp := headerValue(headers, "Content-Disposition"); disp != "" {
		if _, params, err := mime.ParseMediaType(disp); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	if ct := headerValue(headers, "Content-Type"); ct != "" {
		if _, params, err := mime.ParseMediaType(ct); err == nil {
			return params["name"]
		}
	}
	return ""
}

func decodeBody(part *data.Content) ([]byte, error) {
	switch strings.ToLower(headerValue(part.Headers, "Content-Transfer-Encoding")) {
	case "base64":
		compact := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, part.Body)
		return base64.StdEncoding.DecodeString(compact)
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(strings.NewReader(part.Body)))
	default:
		return []byte(part.Body), nil
	}
}
