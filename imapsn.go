package imapsn

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/imapsn/account"
	"github.com/opd-ai/imapsn/activity"
	"github.com/opd-ai/imapsn/config"
	"github.com/opd-ai/imapsn/crypto"
	"github.com/opd-ai/imapsn/document"
	"github.com/opd-ai/imapsn/friend"
	"github.com/opd-ai/imapsn/group"
	"github.com/opd-ai/imapsn/ledger"
	"github.com/opd-ai/imapsn/mail"
	"github.com/opd-ai/imapsn/news"
	"github.com/opd-ai/imapsn/trust"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session is closed")

// Options contains what a session needs to open.
type Options struct {
	// Account supplies the owner's name, address and key password. Folder
	// and transport settings are only used by Connect.
	Account config.Account
	// State is the account's own folder.
	State document.Store
	// Inbox is the folder inbound mail arrives in.
	Inbox document.Store
	// Transport delivers outbound mail.
	Transport mail.Transport
	// Registerer receives the session's counters. Nil uses a private
	// registry.
	Registerer prometheus.Registerer
	// TimeProvider drives the relationship ledger. Nil uses the system
	// clock.
	TimeProvider ledger.TimeProvider
	// KeyBits sets the key size for a newly created account.
	KeyBits int
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		Account: config.Default(),
		KeyBits: crypto.DefaultKeyBits,
	}
}

// Session is one connected account. It owns the trust map, the ledger and
// the groups from Open until Close. A Session serializes its operations; it is
// not a substitute for running one session per account.
type Session struct {
	mu sync.Mutex

	options  *Options
	account  *account.Account
	identity *account.Identity

	trust  *trust.Store
	ledger *ledger.Ledger
	groups *group.Groups

	news    *news.Broadcaster
	friends *friend.Protocol
	metrics *metrics

	closers []func() error
	closed  bool
}

// Open loads the account from options.State, creating it with a new key pair
// on first use, and unlocks its private key.
func Open(options *Options) (*Session, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := checkOptions(options); err != nil {
		return nil, err
	}

	acct, err := account.LoadOrCreate(options.State, account.Settings{
		DisplayName:        options.Account.DisplayName,
		EmailID:            options.Account.EmailID,
		PrivateKeyPassword: options.Account.PrivateKeyPassword,
		NewMessageFolder:   options.Account.NewMessageFolder,
		WallGroup:          options.Account.WallGroup,
		KeyBits:            options.KeyBits,
	})
	if err != nil {
		return nil, err
	}
	identity, err := acct.Unlock(options.Account.PrivateKeyPassword)
	if err != nil {
		return nil, err
	}

	s, err := newSession(options, acct, identity)
	if err != nil {
		identity.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Open",
		"package":     "imapsn",
		"person_id":   acct.Person().ID,
		"fingerprint": crypto.Fingerprint(acct.Person().PublicKey),
		"friends":     len(s.groups.Members(group.DefaultGroup)),
	}).Info("Session opened")
	return s, nil
}

func checkOptions(o *Options) error {
	switch {
	case o.State == nil:
		return fmt.Errorf("%w: no document store", config.ErrConfig)
	case o.Inbox == nil:
		return fmt.Errorf("%w: no inbox", config.ErrConfig)
	case o.Transport == nil:
		return fmt.Errorf("%w: no mail transport", config.ErrConfig)
	case o.Account.EmailID == "":
		return fmt.Errorf("%w: missing required property email-id", config.ErrConfig)
	case o.Account.PrivateKeyPassword == "":
		return fmt.Errorf("%w: missing required property private-key-password", config.ErrConfig)
	}
	return nil
}

func newSession(options *Options, acct *account.Account, identity *account.Identity) (*Session, error) {
	reg := options.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	trustStore, err := trust.Load(options.State, acct.NewID)
	if err != nil {
		return nil, err
	}
	ledgerDoc, err := ledger.Load(options.State, acct.NewID, options.TimeProvider)
	if err != nil {
		return nil, err
	}
	groups, err := group.Load(options.State, acct.NewID)
	if err != nil {
		return nil, err
	}

	transport := &countingTransport{next: options.Transport, sent: m.outbound}
	broadcaster := news.New(news.Deps{
		Sealer:    identity,
		Ledger:    ledgerDoc,
		Groups:    groups,
		Trusted:   trustStore,
		Store:     options.State,
		Inbox:     options.Inbox,
		Transport: transport,
	})
	friends := friend.New(friend.Deps{
		Sealer:    identity,
		Trust:     trustStore,
		Ledger:    ledgerDoc,
		Groups:    groups,
		Contacts:  options.State,
		Inbox:     options.Inbox,
		Transport: transport,
		News:      broadcaster,
		WallGroup: acct.WallGroup(),
	})

	return &Session{
		options:  options,
		account:  acct,
		identity: identity,
		trust:    trustStore,
		ledger:   ledgerDoc,
		groups:   groups,
		news:     broadcaster,
		friends:  friends,
		metrics:  m,
	}, nil
}

// Person returns the owner's full person record.
func (s *Session) Person() activity.Person {
	return s.account.Person()
}

// Fingerprint returns the owner's key fingerprint for out-of-band comparison.
func (s *Session) Fingerprint() string {
	return crypto.Fingerprint(s.account.Person().PublicKey)
}

// WallGroup returns the group news is posted to by default.
func (s *Session) WallGroup() string {
	return s.account.WallGroup()
}

// SendFriendRequest asks target to become a friend and returns the request's
// activity id.
func (s *Session) SendFriendRequest(target string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.friends.SendFriendRequest(target)
}

// AcceptFriendRequest handles one friend-request message from the inbox.
func (s *Session) AcceptFriendRequest(doc *document.Document) (mail.Outcome, error) {
	return s.handle(mail.KindFriendRequest, doc)
}

// ProcessFriendResponse handles one friend-response message from the inbox.
func (s *Session) ProcessFriendResponse(doc *document.Document) (mail.Outcome, error) {
	return s.handle(mail.KindFriendResponse, doc)
}

// ProcessNewsItem handles one news-item message from the inbox.
func (s *Session) ProcessNewsItem(doc *document.Document) (mail.Outcome, error) {
	return s.handle(mail.KindNewsItem, doc)
}

// SendNewsItem signs act and mails it to every member of groupName.
func (s *Session) SendNewsItem(groupName, subject string, act *activity.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.news.SendNewsItem(groupName, subject, act)
}

// PostStatus posts a status update to groupName, or to the wall group when
// groupName is empty.
func (s *Session) PostStatus(groupName, text string) (*activity.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if groupName == "" {
		groupName = s.account.WallGroup()
	}
	return s.news.PostStatus(groupName, text)
}

// Relationships returns every ledger entry.
func (s *Session) Relationships() []ledger.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Records()
}

// Relationship returns the ledger entry for peerID.
func (s *Session) Relationship(peerID string) ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Get(peerID)
}

// Contact returns a stored friend.
func (s *Session) Contact(personID string) (*activity.Person, error) {
	return s.friends.Contact(personID)
}

// News returns a received news item.
func (s *Session) News(activityID string) (*activity.Activity, error) {
	return s.news.Received(activityID)
}

// Trusts reports whether keyhash is in the trust map.
func (s *Session) Trusts(keyhash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trust.Has(keyhash)
}

// Groups returns the group names.
func (s *Session) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.Names()
}

// Members returns the members of groupName.
func (s *Session) Members(groupName string) []group.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.Members(groupName)
}

// AppendToGroup adds a friend to groupName and saves the groups. It reports
// false when the friend was already a member.
func (s *Session) AppendToGroup(groupName, personID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	person, err := s.friends.Contact(personID)
	if err != nil {
		return false, fmt.Errorf("append %s to %s: %w", personID, groupName, err)
	}
	added, err := s.groups.Append(groupName, group.Member{
		ID:          person.ID,
		Email:       person.Email.Value,
		DisplayName: person.DisplayName,
	})
	if err != nil || !added {
		return false, err
	}
	return true, s.groups.Save()
}

// RemoveFromGroup removes personID from groupName and saves the groups.
func (s *Session) RemoveFromGroup(groupName, personID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if !s.groups.Remove(groupName, personID) {
		return false, nil
	}
	return true, s.groups.Save()
}

// ChangePassword re-encrypts the private key under newPassword.
func (s *Session) ChangePassword(oldPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.account.ChangePassword(oldPassword, newPassword)
}

// Flush writes the trust map, the ledger and the groups back to the store.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flush()
}

func (s *Session) flush() error {
	return errors.Join(s.trust.Save(), s.ledger.Save(), s.groups.Save())
}

// Close flushes the session, compacts its folders and wipes the private key.
// Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	errs := []error{s.flush()}
	for _, store := range []document.Store{s.options.Inbox, s.options.State} {
		if box, ok := store.(document.Mailbox); ok {
			errs = append(errs, box.Compact())
		}
	}
	s.identity.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}

	err := errors.Join(errs...)
	logger := logrus.WithFields(logrus.Fields{
		"function":  "Close",
		"package":   "imapsn",
		"person_id": s.account.Person().ID,
	})
	if err != nil {
		logger.WithError(err).Error("Session closed with errors")
		return err
	}
	logger.Info("Session closed")
	return nil
}
