package mail

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/opd-ai/imapsn/config"
	"github.com/opd-ai/imapsn/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP records one SMTP session.
type fakeSMTP struct {
	from    string
	rcpts   []string
	data    bytes.Buffer
	quit    bool
	rcptErr error
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (f *fakeSMTP) Mail(from string) error { f.from = from; return nil }
func (f *fakeSMTP) Rcpt(to string) error {
	if f.rcptErr != nil {
		return f.rcptErr
	}
	f.rcpts = append(f.rcpts, to)
	return nil
}
func (f *fakeSMTP) Data() (io.WriteCloser, error) { return nopWriteCloser{&f.data}, nil }
func (f *fakeSMTP) Quit() error                   { f.quit = true; return nil }
func (f *fakeSMTP) Close() error                  { return nil }

func TestSMTPTransportSendsOneCopyPerRecipient(t *testing.T) {
	var sessions []*fakeSMTP
	tr := NewSMTPTransport(config.SMTP{Host: "smtp.example.org", Port: 25}, 0)
	tr.dial = func() (smtpClient, error) {
		s := &fakeSMTP{}
		sessions = append(sessions, s)
		return s, nil
	}

	err := tr.Send("Alice <alice@example.org>", []string{"bob@example.org", `"Carol" <Carol@Example.org>`},
		"[IMAPSN] news-item: Alice: hi", "news-item.json", []byte(`{"x":1}`))
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "alice@example.org", sessions[0].from)
	assert.Equal(t, []string{"bob@example.org"}, sessions[0].rcpts)
	assert.Equal(t, []string{"carol@example.org"}, sessions[1].rcpts)
	assert.True(t, sessions[1].quit)

	msg, err := ParseMessage(sessions[0].data.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "news-item.json", msg.AttachmentName)
	assert.Equal(t, `{"x":1}`, string(msg.Data))
	assert.Len(t, msg.To, 1, "other recipients are not disclosed")
}

func TestSMTPTransportContinuesAfterFailure(t *testing.T) {
	calls := 0
	tr := NewSMTPTransport(config.SMTP{Host: "smtp.example.org", Port: 25}, 0)
	tr.dial = func() (smtpClient, error) {
		calls++
		if calls == 1 {
			return &fakeSMTP{rcptErr: errors.New("550 no such user")}, nil
		}
		return &fakeSMTP{}, nil
	}

	err := tr.Send("alice@example.org", []string{"gone@example.org", "bob@example.org"}, "s", "n.json", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone@example.org")
	assert.Equal(t, 2, calls)
}

func TestLocalDelivery(t *testing.T) {
	ld := NewLocalDelivery()
	inbox := document.NewMemoryStore("INBOX")
	require.NoError(t, ld.Register("Bob <BOB@example.org>", inbox))

	err := ld.Send("alice@example.org", []string{"bob@example.org"},
		"[IMAPSN] friend-request: Alice", "friend-request.json", []byte(`{"k":"v"}`))
	require.NoError(t, err)

	docs, err := inbox.Search("[IMAPSN] friend-request:")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "friend-request.json", docs[0].Name)
	assert.Equal(t, `{"k":"v"}`, string(docs[0].Data))
	assert.Equal(t, "alice@example.org", docs[0].From)
}

func TestLocalDeliveryUnknownRecipient(t *testing.T) {
	ld := NewLocalDelivery()
	inbox := document.NewMemoryStore("INBOX")
	require.NoError(t, ld.Register("bob@example.org", inbox))

	err := ld.Send("alice@example.org", []string{"nobody@example.org", "bob@example.org"}, "s", "n.json", []byte("{}"))
	assert.ErrorIs(t, err, ErrUnknownRecipient)
	assert.Equal(t, 1, inbox.Len(), "known recipients still receive the message")

	assert.Error(t, ld.Register("not an address", inbox))
}

func TestLocalDeliveryResolver(t *testing.T) {
	ld := NewLocalDelivery()
	boxes := map[string]*document.MemoryStore{}
	ld.SetResolver(func(address string) (document.Mailbox, error) {
		if address == "nobody@example.org" {
			return nil, errors.New("no such folder")
		}
		if boxes[address] == nil {
			boxes[address] = document.NewMemoryStore(address)
		}
		return boxes[address], nil
	})

	err := ld.Send("alice@example.org", []string{"Carol <carol@example.org>"}, "s", "n.json", []byte("{}"))
	require.NoError(t, err)
	require.Contains(t, boxes, "carol@example.org")
	assert.Equal(t, 1, boxes["carol@example.org"].Len())

	err = ld.Send("alice@example.org", []string{"nobody@example.org"}, "s", "n.json", []byte("{}"))
	assert.ErrorIs(t, err, ErrUnknownRecipient)
}
