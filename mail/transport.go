package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"sync"

	"github.com/opd-ai/imapsn/config"
	"github.com/opd-ai/imapsn/document"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrUnknownRecipient is returned by LocalDelivery for unregistered addresses.
var ErrUnknownRecipient = errors.New("unknown recipient")

// Transport delivers one attachment to a list of addresses.
type Transport interface {
	Send(from string, to []string, subject, attachmentName string, data []byte) error
}

// smtpClient is the subset of *smtp.Client the transport drives.
type smtpClient interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// SMTPTransport submits mail to an SMTP server. Each recipient gets a
// separate copy so group membership is not disclosed; copies are paced by a
// token bucket.
type SMTPTransport struct {
	cfg     config.SMTP
	limiter *rate.Limiter
	dial    func() (smtpClient, error)
}

// NewSMTPTransport creates a transport for cfg that sends at most sendRate
// messages per second.
func NewSMTPTransport(cfg config.SMTP, sendRate float64) *SMTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultSMTPTimeout
	}
	limit := rate.Limit(sendRate)
	if sendRate <= 0 {
		limit = rate.Inf
	}
	t := &SMTPTransport{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
	t.dial = t.connect
	return t
}

// Send implements Transport.
func (t *SMTPTransport) Send(from string, to []string, subject, attachmentName string, data []byte) error {
	var failed []error
	for _, rcpt := range to {
		if err := t.limiter.Wait(context.Background()); err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}

		raw, err := Render(Message{From: from, To: []string{rcpt}, Subject: subject, AttachmentName: attachmentName, Data: data})
		if err != nil {
			return err
		}
		if err := t.deliver(from, rcpt, raw); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Send",
				"package":   "mail",
				"recipient": rcpt,
				"error":     err.Error(),
			}).Error("SMTP delivery failed")
			failed = append(failed, fmt.Errorf("deliver to %s: %w", rcpt, err))
			continue
		}

		logrus.WithFields(logrus.Fields{
			"function":   "Send",
			"package":    "mail",
			"recipient":  rcpt,
			"attachment": attachmentName,
			"size":       len(raw),
		}).Debug("Message submitted")
	}
	return errors.Join(failed...)
}

func (t *SMTPTransport) deliver(from, to string, raw []byte) error {
	fromAddr, err := bareAddress(from)
	if err != nil {
		return err
	}
	toAddr, err := bareAddress(to)
	if err != nil {
		return err
	}

	c, err := t.dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Mail(fromAddr); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toAddr); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end DATA: %w", err)
	}
	return c.Quit()
}

// connect dials the server, upgrades to TLS and authenticates.
func (t *SMTPTransport) connect() (smtpClient, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if t.cfg.EnableTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake with %s: %w", addr, err)
	}
	if !t.cfg.EnableTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				c.Close()
				return nil, fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}
	if ok, _ := c.Extension("AUTH"); ok && t.cfg.User != "" {
		auth := smtp.PlainAuth("", t.cfg.User, t.cfg.Password, t.cfg.Host)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return c, nil
}

// LocalDelivery delivers into inbox mailboxes of accounts registered on the
// same host. Messages are rendered and re-parsed so they take the same path
// as mail fetched from a server.
type LocalDelivery struct {
	mu      sync.RWMutex
	boxes   map[string]document.Mailbox
	resolve func(address string) (document.Mailbox, error)
}

// NewLocalDelivery creates an empty delivery table.
func NewLocalDelivery() *LocalDelivery {
	return &LocalDelivery{boxes: make(map[string]document.Mailbox)}
}

// Register routes mail for address into inbox.
func (l *LocalDelivery) Register(address string, inbox document.Mailbox) error {
	addr, err := bareAddress(address)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.boxes[addr] = inbox
	return nil
}

// SetResolver sets a fallback that finds the inbox of an address that was
// never registered.
func (l *LocalDelivery) SetResolver(resolve func(address string) (document.Mailbox, error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolve = resolve
}

// Send implements Transport.
func (l *LocalDelivery) Send(from string, to []string, subject, attachmentName string, data []byte) error {
	var failed []error
	for _, rcpt := range to {
		if err := l.deliver(from, rcpt, subject, attachmentName, data); err != nil {
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

func (l *LocalDelivery) deliver(from, rcpt, subject, attachmentName string, data []byte) error {
	addr, err := bareAddress(rcpt)
	if err != nil {
		return err
	}
	l.mu.RLock()
	inbox, ok := l.boxes[addr]
	resolve := l.resolve
	l.mu.RUnlock()
	if !ok {
		if resolve == nil {
			return fmt.Errorf("%w: %s", ErrUnknownRecipient, addr)
		}
		if inbox, err = resolve(addr); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnknownRecipient, addr, err)
		}
	}

	raw, err := Render(Message{From: from, To: []string{rcpt}, Subject: subject, AttachmentName: attachmentName, Data: data})
	if err != nil {
		return err
	}
	msg, err := ParseMessage(raw)
	if err != nil {
		return err
	}

	_, err = inbox.Append(document.Document{
		Subject: msg.Subject,
		From:    msg.From,
		Name:    msg.AttachmentName,
		Data:    msg.Data,
		Created: msg.Date,
	})
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", addr, err)
	}
	return nil
}

// bareAddress extracts the lower-cased addr-spec from an address.
func bareAddress(address string) (string, error) {
	a, err := mail.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("%w: address %q: %v", ErrMalformedMessage, address, err)
	}
	return strings.ToLower(a.Address), nil
}
