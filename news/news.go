// Package news broadcasts signed activities to groups of friends and ingests
// the ones they send back.
//
// Outbound items are signed once and mailed to every member of a group.
// Inbound items are verified against the trust store only; there is no trust
// on first use here. An inbound item that does not verify is deleted without
// being applied.
package news

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/opd-ai/imapsn/activity"
	"github.com/opd-ai/imapsn/document"
	"github.com/opd-ai/imapsn/envelope"
	"github.com/opd-ai/imapsn/group"
	"github.com/opd-ai/imapsn/ledger"
	"github.com/opd-ai/imapsn/limits"
	"github.com/opd-ai/imapsn/mail"
	"github.com/sirupsen/logrus"
)

// PathPrefix is where received news items are stored, keyed by activity id.
const PathPrefix = "/news/"

// maxSubjectText is how much of a status update goes into the subject line.
const maxSubjectText = 80

// ErrEmptyGroup is returned when a broadcast has nobody to go to.
var ErrEmptyGroup = errors.New("group has no members")

// Sealer signs activities as the account owner.
type Sealer interface {
	Person() activity.Person
	Seal(act *activity.Activity) (*envelope.Envelope, error)
}

// Deps are the collaborators a Broadcaster works with.
type Deps struct {
	Sealer    Sealer
	Ledger    *ledger.Ledger
	Groups    *group.Groups
	Trusted   envelope.KeyRing
	Store     document.Store
	Inbox     document.Store
	Transport mail.Transport
}

// Broadcaster sends and receives news items.
type Broadcaster struct {
	sealer    Sealer
	ledger    *ledger.Ledger
	groups    *group.Groups
	verifier  envelope.Verifier
	store     document.Store
	inbox     document.Store
	transport mail.Transport
}

// New creates a Broadcaster.
func New(d Deps) *Broadcaster {
	return &Broadcaster{
		sealer:    d.Sealer,
		ledger:    d.Ledger,
		groups:    d.Groups,
		verifier:  envelope.Verifier{Policy: envelope.RequireKnownKey, Trusted: d.Trusted},
		store:     d.Store,
		inbox:     d.Inbox,
		transport: d.Transport,
	}
}

// SendNewsItem signs act and mails it to every member of groupName under the
// subject "[IMAPSN] news-item: <subject>". Each recipient's ledger entry is
// updated and the ledger is saved once before sending.
func (b *Broadcaster) SendNewsItem(groupName, subject string, act *activity.Activity) error {
	logger := logrus.WithFields(logrus.Fields{
		"function":    "SendNewsItem",
		"package":     "news",
		"group":       groupName,
		"activity_id": act.ID,
	})

	members := b.groups.Members(groupName)
	if len(members) == 0 {
		logger.Debug("No members to broadcast to")
		return fmt.Errorf("send news item to %s: %w", groupName, ErrEmptyGroup)
	}

	env, err := b.sealer.Seal(act)
	if err != nil {
		return fmt.Errorf("send news item: %w", err)
	}
	raw, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("send news item: %w", err)
	}

	to := make([]string, 0, len(members))
	for _, m := range members {
		to = append(to, m.Address())
		if err := b.ledger.NoteSend(m.ID); err != nil {
			logger.WithError(err).WithField("person_id", m.ID).Warn("Ledger entry not updated")
		}
	}
	if err := b.ledger.Save(); err != nil {
		return fmt.Errorf("send news item: %w", err)
	}

	err = b.transport.Send(b.sealer.Person().Address(), to, mail.KindNewsItem.Subject(subject),
		mail.KindNewsItem.AttachmentName(), raw)
	if err != nil {
		logger.WithError(err).Error("News item delivery failed")
		return fmt.Errorf("send news item: %w", err)
	}

	logger.WithField("recipients", len(to)).Info("News item sent")
	return nil
}

// PostStatus broadcasts a status update as a post of a note.
func (b *Broadcaster) PostStatus(groupName, text string) (*activity.Activity, error) {
	if err := limits.ValidateStatusText(text); err != nil {
		return nil, fmt.Errorf("post status: %w", err)
	}

	me := b.sealer.Person()
	act := activity.New(activity.VerbPost, me.Ref())
	act.Object = &activity.Object{
		ID:         activity.NewID(me.Email.Value),
		ObjectType: activity.TypeNote,
		Content:    text,
	}

	subject := me.DisplayName + ": " + subjectText(text)
	if err := b.SendNewsItem(groupName, subject, act); err != nil {
		return nil, err
	}
	return act, nil
}

// AnnounceFriendship broadcasts that the owner is now friends with peer.
func (b *Broadcaster) AnnounceFriendship(groupName string, peer activity.Person) error {
	me := b.sealer.Person()
	act := activity.New(activity.VerbMakeFriend, me.Ref())
	act.Object = peer.AsObject()

	subject := me.DisplayName + " is now friends with " + peer.DisplayName
	return b.SendNewsItem(groupName, subject, act)
}

// ProcessNewsItem verifies an inbound news item against the trust store. A
// verified item is stored under PathPrefix and counted as received from its
// actor. The message is deleted either way.
func (b *Broadcaster) ProcessNewsItem(doc *document.Document) (mail.Outcome, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "ProcessNewsItem",
		"package":  "news",
		"message":  doc.ID,
	})

	act, payload, err := b.open(doc)
	if err != nil {
		logger.WithError(err).Warn("Discarding unverifiable news item")
		if derr := b.inbox.Delete(doc); derr != nil {
			return mail.OutcomeFailed, fmt.Errorf("discard news item: %w", derr)
		}
		return mail.OutcomeDiscarded, err
	}

	if err := b.store.Put(PathPrefix+act.ID, payload); err != nil {
		return mail.OutcomeFailed, fmt.Errorf("store news item %s: %w", act.ID, err)
	}
	if err := b.ledger.NoteReceived(act.Actor.ID); err != nil {
		logger.WithError(err).WithField("person_id", act.Actor.ID).Warn("Ledger entry not updated")
	}
	if err := b.ledger.Save(); err != nil {
		return mail.OutcomeFailed, fmt.Errorf("process news item %s: %w", act.ID, err)
	}
	if err := b.inbox.Delete(doc); err != nil {
		return mail.OutcomeFailed, fmt.Errorf("consume news item %s: %w", act.ID, err)
	}

	logger.WithFields(logrus.Fields{
		"activity_id": act.ID,
		"actor":       act.Actor.ID,
		"verb":        act.Verb,
	}).Info("News item received")
	return mail.OutcomeApplied, nil
}

// Received returns a stored news item.
func (b *Broadcaster) Received(activityID string) (*activity.Activity, error) {
	doc, err := b.store.Get(PathPrefix + activityID)
	if err != nil {
		return nil, err
	}
	return activity.Parse(doc.Data)
}

func (b *Broadcaster) open(doc *document.Document) (*activity.Activity, []byte, error) {
	if doc.Name != mail.KindNewsItem.AttachmentName() {
		return nil, nil, fmt.Errorf("%w: attachment %q", envelope.ErrUnreadableEnvelope, doc.Name)
	}
	env, err := envelope.Parse(doc.Data)
	if err != nil {
		return nil, nil, err
	}
	payload, err := b.verifier.Open(env)
	if err != nil {
		return nil, nil, err
	}
	act, err := activity.Parse(payload)
	if err != nil {
		return nil, nil, err
	}
	return act, payload, nil
}

// subjectText flattens text to one line and cuts it to maxSubjectText runes.
func subjectText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxSubjectText {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxSubjectText-3]) + "..."
}
