package friend

import (
	"encoding/json"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/opd-ai/imapsn/activity"
	"github.com/opd-ai/imapsn/document"
	"github.com/opd-ai/imapsn/envelope"
	"github.com/opd-ai/imapsn/group"
	"github.com/opd-ai/imapsn/ledger"
	"github.com/opd-ai/imapsn/mail"
	"github.com/opd-ai/imapsn/news"
	"github.com/opd-ai/imapsn/trust"
	"github.com/sirupsen/logrus"
)

// ContactPrefix is where accepted friends are stored, keyed by person id.
const ContactPrefix = "/contacts/"

var (
	// ErrUncorrelated is returned for a response that answers no pending
	// request of this account.
	ErrUncorrelated = errors.New("response does not answer a pending request")

	// ErrInvalidTarget is returned for an unusable friend request address.
	ErrInvalidTarget = errors.New("invalid friend request target")
)

// Deps are the collaborators a Protocol works with.
type Deps struct {
	Sealer    news.Sealer
	Trust     *trust.Store
	Ledger    *ledger.Ledger
	Groups    *group.Groups
	Contacts  document.Store
	Inbox     document.Store
	Transport mail.Transport
	News      *news.Broadcaster
	WallGroup string
}

// Protocol runs the friend handshake for one account.
type Protocol struct {
	sealer    news.Sealer
	trust     *trust.Store
	ledger    *ledger.Ledger
	groups    *group.Groups
	contacts  document.Store
	inbox     document.Store
	transport mail.Transport
	news      *news.Broadcaster
	wallGroup string
}

// New creates a Protocol.
func New(d Deps) *Protocol {
	wall := d.WallGroup
	if wall == "" {
		wall = group.DefaultGroup
	}
	return &Protocol{
		sealer:    d.Sealer,
		trust:     d.Trust,
		ledger:    d.Ledger,
		groups:    d.Groups,
		contacts:  d.Contacts,
		inbox:     d.Inbox,
		transport: d.Transport,
		news:      d.News,
		wallGroup: wall,
	}
}

// SendFriendRequest mails a signed friend request to target and records a
// pending ledger entry keyed by the request's activity id, which it returns.
func (p *Protocol) SendFriendRequest(target string) (string, error) {
	addr, err := netmail.ParseAddress(target)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidTarget, target, err)
	}
	me := p.sealer.Person()
	if strings.EqualFold(addr.Address, me.Email.Value) {
		return "", fmt.Errorf("%w: cannot befriend yourself", ErrInvalidTarget)
	}

	act := activity.New(activity.VerbMakeFriend, me)
	email := activity.NewEmail(addr.Address)
	act.Object = &activity.Object{ObjectType: activity.TypePerson, Email: &email}

	now := p.ledger.Now()
	p.ledger.SetEntry(act.ID, ledger.StatusPending, now, nil)
	if err := p.ledger.Save(); err != nil {
		return "", fmt.Errorf("send friend request: %w", err)
	}

	if err := p.send(mail.KindFriendRequest, addr.String(), act); err != nil {
		return "", fmt.Errorf("send friend request to %s: %w", addr.Address, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "SendFriendRequest",
		"package":     "friend",
		"target":      addr.Address,
		"activity_id": act.ID,
	}).Info("Friend request sent")
	return act.ID, nil
}

// AcceptFriendRequest verifies a request against the key its actor presents
// and, when it holds, befriends the requester and answers with a response.
// A request that does not verify is left in the inbox untouched.
func (p *Protocol) AcceptFriendRequest(doc *document.Document) (mail.Outcome, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "AcceptFriendRequest",
		"package":  "friend",
		"message":  doc.ID,
	})

	req, err := p.openSelfAsserted(doc, mail.KindFriendRequest)
	if err != nil {
		logger.WithError(err).Warn("Friend request rejected")
		return mail.OutcomeRejected, err
	}
	peer := req.Actor
	logger = logger.WithFields(logrus.Fields{"peer": peer.ID, "activity_id": req.ID})

	if err := p.befriend(peer); err != nil {
		return mail.OutcomeFailed, err
	}
	if err := p.ledger.Save(); err != nil {
		return mail.OutcomeFailed, fmt.Errorf("accept friend request: %w", err)
	}

	resp := activity.New(activity.VerbMakeFriend, p.sealer.Person())
	resp.InReplyTo = req.ID
	resp.Object = peer.AsObject()
	if err := p.send(mail.KindFriendResponse, peer.Address(), resp); err != nil {
		logger.WithError(err).Error("Friend response not sent")
		return mail.OutcomeFailed, fmt.Errorf("answer friend request %s: %w", req.ID, err)
	}

	p.announce(peer)

	if err := p.inbox.Delete(doc); err != nil {
		return mail.OutcomeFailed, fmt.Errorf("consume friend request %s: %w", req.ID, err)
	}
	logger.Info("Friend request accepted")
	return mail.OutcomeApplied, nil
}

// ProcessFriendResponse completes a handshake this account started. A
// response whose inReplyTo names no pending entry is ignored and nothing is
// written. A correlated response that does not verify is deleted.
func (p *Protocol) ProcessFriendResponse(doc *document.Document) (mail.Outcome, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "ProcessFriendResponse",
		"package":  "friend",
		"message":  doc.ID,
	})

	requestID, err := inReplyTo(doc)
	if err != nil {
		logger.WithError(err).Warn("Friend response unreadable")
		return mail.OutcomeRejected, err
	}
	if p.ledger.Get(requestID).Status != ledger.StatusPending {
		logger.WithField("in_reply_to", requestID).Debug("Ignoring uncorrelated friend response")
		return mail.OutcomeIgnored, fmt.Errorf("%w: %s", ErrUncorrelated, requestID)
	}

	resp, err := p.openSelfAsserted(doc, mail.KindFriendResponse)
	if err != nil {
		logger.WithError(err).Warn("Discarding friend response that does not verify")
		if derr := p.inbox.Delete(doc); derr != nil {
			return mail.OutcomeFailed, fmt.Errorf("discard friend response: %w", derr)
		}
		return mail.OutcomeDiscarded, err
	}
	peer := resp.Actor
	logger = logger.WithFields(logrus.Fields{"peer": peer.ID, "in_reply_to": requestID})

	if err := p.befriend(peer); err != nil {
		return mail.OutcomeFailed, err
	}
	p.ledger.Delete(requestID)
	if err := p.ledger.Save(); err != nil {
		return mail.OutcomeFailed, fmt.Errorf("process friend response: %w", err)
	}

	p.announce(peer)

	if err := p.inbox.Delete(doc); err != nil {
		return mail.OutcomeFailed, fmt.Errorf("consume friend response %s: %w", resp.ID, err)
	}
	logger.Info("Friendship established")
	return mail.OutcomeApplied, nil
}

// Contact returns a stored friend.
func (p *Protocol) Contact(personID string) (*activity.Person, error) {
	doc, err := p.contacts.Get(ContactPrefix + personID)
	if err != nil {
		return nil, err
	}
	var person activity.Person
	if err := json.Unmarshal(doc.Data, &person); err != nil {
		return nil, fmt.Errorf("decode contact %s: %w", personID, err)
	}
	return &person, nil
}

// befriend trusts the peer's key, stores the contact, adds the peer to the
// default group and marks the relationship active. The ledger is not saved.
func (p *Protocol) befriend(peer activity.Person) error {
	if err := p.trust.Put(peer.KeyHash, peer.PublicKey); err != nil {
		return fmt.Errorf("trust %s: %w", peer.ID, err)
	}
	if err := p.trust.Save(); err != nil {
		return err
	}

	contact, err := json.Marshal(peer)
	if err != nil {
		return fmt.Errorf("encode contact %s: %w", peer.ID, err)
	}
	if err := p.contacts.Put(ContactPrefix+peer.ID, contact); err != nil {
		return fmt.Errorf("store contact %s: %w", peer.ID, err)
	}

	member := group.Member{ID: peer.ID, Email: peer.Email.Value, DisplayName: peer.DisplayName}
	if _, err := p.groups.Append(group.DefaultGroup, member); err != nil {
		return err
	}
	if err := p.groups.Save(); err != nil {
		return err
	}

	now := p.ledger.Now()
	p.ledger.SetEntry(peer.ID, ledger.StatusActive, now, &now)
	return nil
}

// announce broadcasts the new friendship. Failure does not undo it.
func (p *Protocol) announce(peer activity.Person) {
	if p.news == nil {
		return
	}
	if err := p.news.AnnounceFriendship(p.wallGroup, peer); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "announce",
			"package":  "friend",
			"peer":     peer.ID,
			"error":    err.Error(),
		}).Warn("Friendship news not sent")
	}
}

func (p *Protocol) send(kind mail.Kind, to string, act *activity.Activity) error {
	env, err := p.sealer.Seal(act)
	if err != nil {
		return err
	}
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	me := p.sealer.Person()
	return p.transport.Send(me.Address(), []string{to}, kind.Subject(me.DisplayName), kind.AttachmentName(), raw)
}

// openSelfAsserted verifies doc under the key its actor claims and returns
// the activity. The actor must carry a complete person record.
func (p *Protocol) openSelfAsserted(doc *document.Document, kind mail.Kind) (*activity.Activity, error) {
	if doc.Name != kind.AttachmentName() {
		return nil, fmt.Errorf("%w: attachment %q", envelope.ErrUnreadableEnvelope, doc.Name)
	}
	env, err := envelope.Parse(doc.Data)
	if err != nil {
		return nil, err
	}
	verifier := envelope.Verifier{Policy: envelope.AcceptSelfAsserted, Claim: ActorClaim}
	payload, err := verifier.Open(env)
	if err != nil {
		return nil, err
	}
	act, err := activity.Parse(payload)
	if err != nil {
		return nil, err
	}
	if act.Verb != activity.VerbMakeFriend {
		return nil, fmt.Errorf("%w: unexpected verb %q", activity.ErrInvalidActivity, act.Verb)
	}
	if err := act.Actor.ValidateKeyed(); err != nil {
		return nil, err
	}
	if act.Actor.ID == p.sealer.Person().ID {
		return nil, fmt.Errorf("%w: activity from own account", activity.ErrInvalidActivity)
	}
	return act, nil
}

// ActorClaim extracts the key an activity's actor presents for itself.
func ActorClaim(payload []byte) (envelope.Claim, error) {
	act, err := activity.Parse(payload)
	if err != nil {
		return envelope.Claim{}, err
	}
	if act.Actor.PublicKey == "" || act.Actor.KeyHash == "" {
		return envelope.Claim{}, fmt.Errorf("%w: actor presents no key", activity.ErrInvalidActivity)
	}
	return envelope.Claim{KeyHash: act.Actor.KeyHash, MagicKey: act.Actor.PublicKey}, nil
}

// inReplyTo reads the correlation id from an unverified response.
func inReplyTo(doc *document.Document) (string, error) {
	env, err := envelope.Parse(doc.Data)
	if err != nil {
		return "", err
	}
	payload, err := env.Payload()
	if err != nil {
		return "", err
	}
	act, err := activity.Parse(payload)
	if err != nil {
		return "", err
	}
	if act.InReplyTo == "" {
		return "", fmt.Errorf("%w: inReplyTo is missing", activity.ErrInvalidActivity)
	}
	return act.InReplyTo, nil
}
