package mail

import "strings"

// SubjectTag starts the subject of every protocol message.
const SubjectTag = "[IMAPSN]"

// Kind names a protocol message type. It appears in the subject tag and, with
// a ".json" suffix, as the attachment name.
type Kind string

const (
	KindFriendRequest  Kind = "friend-request"
	KindFriendResponse Kind = "friend-response"
	KindNewsItem       Kind = "news-item"
)

// Kinds lists the message types an inbox pass understands.
var Kinds = []Kind{KindFriendRequest, KindFriendResponse, KindNewsItem}

// Subject returns "[IMAPSN] <kind>: <label>".
func (k Kind) Subject(label string) string {
	return k.Prefix() + " " + label
}

// Prefix returns the subject prefix "[IMAPSN] <kind>:" used to search for
// messages of this kind.
func (k Kind) Prefix() string {
	return SubjectTag + " " + string(k) + ":"
}

// AttachmentName returns "<kind>.json".
func (k Kind) AttachmentName() string {
	return string(k) + ".json"
}

// KindOf routes a subject line to its message kind.
func KindOf(subject string) (Kind, bool) {
	subject = strings.TrimSpace(subject)
	for _, k := range Kinds {
		if strings.HasPrefix(subject, k.Prefix()) {
			return k, true
		}
	}
	return "", false
}

// KindOfAttachment maps an attachment name back to its kind.
func KindOfAttachment(name string) (Kind, bool) {
	for _, k := range Kinds {
		if name == k.AttachmentName() {
			return k, true
		}
	}
	return "", false
}

// Outcome is what became of one inbound message.
type Outcome string

const (
	// OutcomeApplied means the message changed account state and was
	// consumed.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the message was not meant for this account's
	// current state and was left in place.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means the message failed verification and was left
	// in place for a future pass.
	OutcomeRejected Outcome = "rejected"
	// OutcomeDiscarded means the message was consumed without being
	// applied.
	OutcomeDiscarded Outcome = "discarded"
	// OutcomeFailed means processing stopped on a local error.
	OutcomeFailed Outcome = "failed"
)

// Consumed reports whether the outcome removes the message from the inbox.
func (o Outcome) Consumed() bool {
	return o == OutcomeApplied || o == OutcomeDiscarded
}
