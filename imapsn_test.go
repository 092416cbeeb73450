package imapsn

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/opd-ai/imapsn/activity"
	"github.com/opd-ai/imapsn/config"
	"github.com/opd-ai/imapsn/crypto"
	"github.com/opd-ai/imapsn/document"
	"github.com/opd-ai/imapsn/envelope"
	"github.com/opd-ai/imapsn/group"
	"github.com/opd-ai/imapsn/ledger"
	"github.com/opd-ai/imapsn/mail"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAccount struct {
	*Session
	state *document.MemoryStore
	inbox *document.MemoryStore
}

func testOptions(name, email string) *Options {
	options := NewOptions()
	options.Account.DisplayName = name
	options.Account.EmailID = email
	options.Account.PrivateKeyPassword = "secret"
	options.KeyBits = 1024
	options.Registerer = prometheus.NewRegistry()
	return options
}

func openTestAccount(t *testing.T, name, email string, net *mail.LocalDelivery) *testAccount {
	t.Helper()
	options := testOptions(name, email)
	a := &testAccount{
		state: document.NewMemoryStore("IMAPSN"),
		inbox: document.NewMemoryStore("INBOX"),
	}
	options.State = a.state
	options.Inbox = a.inbox
	options.Transport = net
	require.NoError(t, net.Register(email, a.inbox))

	var err error
	a.Session, err = Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

// befriend runs a full handshake between a and b through their inboxes.
func befriend(t *testing.T, a, b *testAccount) {
	t.Helper()
	_, err := a.SendFriendRequest(b.Person().Email.Value)
	require.NoError(t, err)

	report, err := b.ProcessInbox(mail.KindFriendRequest)
	require.NoError(t, err)
	require.Equal(t, 1, report.Count(mail.OutcomeApplied))

	report, err = a.ProcessInbox()
	require.NoError(t, err)
	require.Empty(t, report.Errors())

	report, err = b.ProcessInbox()
	require.NoError(t, err)
	require.Empty(t, report.Errors())
}

func TestOpenRequiresConfiguration(t *testing.T) {
	net := mail.NewLocalDelivery()
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no state", func(o *Options) { o.State = nil }},
		{"no inbox", func(o *Options) { o.Inbox = nil }},
		{"no transport", func(o *Options) { o.Transport = nil }},
		{"no email", func(o *Options) { o.Account.EmailID = "" }},
		{"no password", func(o *Options) { o.Account.PrivateKeyPassword = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			options := testOptions("Alice", "alice@example.org")
			options.State = document.NewMemoryStore("IMAPSN")
			options.Inbox = document.NewMemoryStore("INBOX")
			options.Transport = net
			tt.mutate(options)

			_, err := Open(options)
			assert.ErrorIs(t, err, config.ErrConfig)
		})
	}
}

func TestOpenReusesAccount(t *testing.T) {
	state := document.NewMemoryStore("IMAPSN")
	open := func(password string) (*Session, error) {
		options := testOptions("Alice", "alice@example.org")
		options.Account.PrivateKeyPassword = password
		options.State = state
		options.Inbox = document.NewMemoryStore("INBOX")
		options.Transport = mail.NewLocalDelivery()
		return Open(options)
	}

	first, err := open("secret")
	require.NoError(t, err)
	fingerprint := first.Fingerprint()
	require.NoError(t, first.Close())

	_, err = open("wrong")
	assert.ErrorIs(t, err, crypto.ErrInvalidKeyMaterial)

	second, err := open("secret")
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, fingerprint, second.Fingerprint())
	assert.Equal(t, "acct:alice@example.org#0", second.Person().ID)
}

func TestHandshakeThroughInbox(t *testing.T) {
	net := mail.NewLocalDelivery()
	alice := openTestAccount(t, "Alice", "alice@example.org", net)
	bob := openTestAccount(t, "Bob", "bob@example.org", net)

	requestID, err := alice.SendFriendRequest("bob@example.org")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, alice.Relationship(requestID).Status)

	report, err := bob.ProcessInbox()
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, mail.KindFriendRequest, report.Results[0].Kind)
	assert.Equal(t, mail.OutcomeApplied, report.Results[0].Outcome)
	assert.Equal(t, ledger.StatusActive, bob.Relationship(alice.Person().ID).Status)

	report, err = alice.ProcessInbox()
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, mail.KindFriendResponse, report.Results[0].Kind)
	assert.Equal(t, mail.KindNewsItem, report.Results[1].Kind)
	assert.Equal(t, 2, report.Count(mail.OutcomeApplied))

	assert.Equal(t, ledger.StatusUnknown, alice.Relationship(requestID).Status)
	assert.Equal(t, ledger.StatusActive, alice.Relationship(bob.Person().ID).Status)
	assert.True(t, alice.Trusts(bob.Person().KeyHash))
	assert.True(t, bob.Trusts(alice.Person().KeyHash))

	report, err = bob.ProcessInbox()
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, mail.OutcomeApplied, report.Results[0].Outcome)

	assert.Equal(t, 1.0, counterValue(t, alice.metrics.outbound, "friend-request"))
	assert.Equal(t, 1.0, counterValue(t, alice.metrics.outbound, "news-item"))
	assert.Equal(t, 1.0, counterValue(t, alice.metrics.inbound, "friend-response", "applied"))
	assert.Equal(t, 1.0, counterValue(t, bob.metrics.inbound, "friend-request", "applied"))
	assert.Equal(t, 1.0, counterValue(t, bob.metrics.outbound, "friend-response"))
}

func TestPostStatusReachesFriends(t *testing.T) {
	net := mail.NewLocalDelivery()
	alice := openTestAccount(t, "Alice", "alice@example.org", net)
	bob := openTestAccount(t, "Bob", "bob@example.org", net)
	befriend(t, alice, bob)

	act, err := alice.PostStatus("", "hello\nfriends")
	require.NoError(t, err)

	docs, err := bob.inbox.Search(mail.KindNewsItem.Prefix())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "[IMAPSN] news-item: Alice: hello friends", docs[0].Subject)

	report, err := bob.ProcessInbox()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(mail.OutcomeApplied))

	received, err := bob.News(act.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.VerbPost, received.Verb)
	require.NotNil(t, received.Object)
	assert.Equal(t, activity.TypeNote, received.Object.ObjectType)
	assert.Equal(t, "hello\nfriends", received.Object.Content)
	assert.Equal(t, ledger.StatusActive, bob.Relationship(alice.Person().ID).Status)
}

func TestNewsFromStrangerIsDiscarded(t *testing.T) {
	net := mail.NewLocalDelivery()
	bob := openTestAccount(t, "Bob", "bob@example.org", net)
	mallory := openTestAccount(t, "Mallory", "mallory@example.org", net)

	_, err := mallory.groups.Append("victims", group.Member{
		ID:          bob.Person().ID,
		Email:       bob.Person().Email.Value,
		DisplayName: bob.Person().DisplayName,
	})
	require.NoError(t, err)
	act, err := mallory.PostStatus("victims", "trust me")
	require.NoError(t, err)

	report, err := bob.ProcessInbox()
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, mail.OutcomeDiscarded, report.Results[0].Outcome)
	assert.True(t, errors.Is(report.Results[0].Err, envelope.ErrUnknownProvenance))

	_, err = bob.News(act.ID)
	assert.ErrorIs(t, err, document.ErrNotFound)
	docs, err := bob.inbox.Search(mail.SubjectTag)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 1.0, counterValue(t, bob.metrics.inbound, "news-item", "discarded"))
}

// panicInbox panics when one particular message is deleted.
type panicInbox struct {
	*document.MemoryStore
	panicOn uint64
}

func (p *panicInbox) Delete(doc *document.Document) error {
	if doc.ID == p.panicOn {
		panic("disk on fire")
	}
	return p.MemoryStore.Delete(doc)
}

func TestProcessInboxIsolatesFailures(t *testing.T) {
	net := mail.NewLocalDelivery()
	alice := openTestAccount(t, "Alice", "alice@example.org", net)

	bobInbox := &panicInbox{MemoryStore: document.NewMemoryStore("INBOX")}
	options := testOptions("Bob", "bob@example.org")
	options.State = document.NewMemoryStore("IMAPSN")
	options.Inbox = bobInbox
	options.Transport = net
	require.NoError(t, net.Register("bob@example.org", bobInbox))
	bob, err := Open(options)
	require.NoError(t, err)
	defer bob.Close()

	send := func(subject, name, data string) uint64 {
		require.NoError(t, net.Send("eve@example.org", []string{"bob@example.org"}, subject, name, []byte(data)))
		docs, err := bobInbox.Search(subject)
		require.NoError(t, err)
		return docs[len(docs)-1].ID
	}
	send("lunch?", "menu.json", "{}")
	send("[IMAPSN] news-item: junk", "news-item.json", "not json")
	panicID := send("[IMAPSN] news-item: boom", "news-item.json", "{}")
	bobInbox.panicOn = panicID
	send("[IMAPSN] friend-request: Eve", "friend-request.json", `{"data":"x"}`)
	_, err = alice.SendFriendRequest("bob@example.org")
	require.NoError(t, err)

	report, err := bob.ProcessInbox()
	require.NoError(t, err)
	require.Len(t, report.Results, 4)
	assert.Equal(t, mail.OutcomeDiscarded, report.Results[0].Outcome)
	assert.Equal(t, mail.OutcomeFailed, report.Results[1].Outcome)
	assert.Contains(t, report.Results[1].Err.Error(), "panic")
	assert.Equal(t, mail.OutcomeRejected, report.Results[2].Outcome)
	assert.Equal(t, mail.OutcomeApplied, report.Results[3].Outcome)
	assert.Len(t, report.Errors(), 3)

	assert.Equal(t, ledger.StatusActive, bob.Relationship(alice.Person().ID).Status)
}

func TestGroupManagement(t *testing.T) {
	net := mail.NewLocalDelivery()
	alice := openTestAccount(t, "Alice", "alice@example.org", net)
	bob := openTestAccount(t, "Bob", "bob@example.org", net)
	befriend(t, alice, bob)

	bobID := bob.Person().ID
	added, err := alice.AppendToGroup("family", bobID)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = alice.AppendToGroup("family", bobID)
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, []string{"everybody", "family"}, alice.Groups())
	members := alice.Members("family")
	require.Len(t, members, 1)
	assert.Equal(t, "bob@example.org", members[0].Email)

	_, err = alice.AppendToGroup("family", "acct:stranger@example.org#0")
	assert.ErrorIs(t, err, document.ErrNotFound)

	removed, err := alice.RemoveFromGroup("family", bobID)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, alice.Members("family"))
}

func TestFlushPersistsDocuments(t *testing.T) {
	net := mail.NewLocalDelivery()
	alice := openTestAccount(t, "Alice", "alice@example.org", net)
	bob := openTestAccount(t, "Bob", "bob@example.org", net)
	befriend(t, alice, bob)
	require.NoError(t, alice.Flush())

	for _, path := range []string{"/key-map.json", "/person-status-map.json", "/person-groups.json", "/account-owner.json"} {
		_, err := alice.state.Get(path)
		assert.NoError(t, err, path)
	}
	contact, err := alice.Contact(bob.Person().ID)
	require.NoError(t, err)
	assert.Equal(t, bob.Person().KeyHash, contact.KeyHash)
}

func TestClosedSession(t *testing.T) {
	net := mail.NewLocalDelivery()
	alice := openTestAccount(t, "Alice", "alice@example.org", net)

	require.NoError(t, alice.Close())
	require.NoError(t, alice.Close())

	_, err := alice.SendFriendRequest("bob@example.org")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = alice.ProcessInbox()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, alice.Flush(), ErrClosed)
}

func TestCloseCompactsInbox(t *testing.T) {
	net := mail.NewLocalDelivery()
	alice := openTestAccount(t, "Alice", "alice@example.org", net)
	bob := openTestAccount(t, "Bob", "bob@example.org", net)

	_, err := alice.SendFriendRequest("bob@example.org")
	require.NoError(t, err)
	_, err = bob.ProcessInbox()
	require.NoError(t, err)
	require.Equal(t, 1, bob.inbox.Len())

	require.NoError(t, bob.Close())
	assert.Equal(t, 0, bob.inbox.Len())
}

func TestConnectWithLocalTransport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imapsn.db")
	cfg := func(name, email string) *config.Account {
		c := config.Default()
		c.AccountName = name
		c.DisplayName = name
		c.EmailID = email
		c.PrivateKeyPassword = "secret"
		c.StorePath = path
		c.Transport = config.TransportLocal
		return &c
	}
	connect := func(c *config.Account) *Session {
		options := NewOptions()
		options.KeyBits = 1024
		s, err := Connect(c, options)
		require.NoError(t, err)
		return s
	}
	aliceCfg := cfg("Alice", "alice@example.org")
	bobCfg := cfg("Bob", "bob@example.org")

	// Create Bob's account first so his folders exist.
	bob := connect(bobCfg)
	bobID := bob.Person().ID
	require.NoError(t, bob.Close())

	alice := connect(aliceCfg)
	requestID, err := alice.SendFriendRequest("bob@example.org")
	require.NoError(t, err)
	require.NoError(t, alice.Close())

	bob = connect(bobCfg)
	report, err := bob.ProcessInbox()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(mail.OutcomeApplied))
	require.NoError(t, bob.Close())

	alice = connect(aliceCfg)
	defer alice.Close()
	report, err = alice.ProcessInbox()
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(mail.OutcomeApplied))
	assert.Equal(t, ledger.StatusUnknown, alice.Relationship(requestID).Status)
	assert.Equal(t, ledger.StatusActive, alice.Relationship(bobID).Status)
}

func TestConnectRejectsInvalidConfig(t *testing.T) {
	c := config.Default()
	_, err := Connect(&c, nil)
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestFolderName(t *testing.T) {
	assert.Equal(t, "bob@example.org/INBOX", FolderName("Bob@Example.org", "INBOX"))
}
