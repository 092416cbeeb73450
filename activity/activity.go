// Package activity defines the payloads carried inside envelopes: activities,
// the people who perform them and the objects they act on.
package activity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

// Object types.
const (
	TypeActivity = "activity"
	TypePerson   = "person"
	TypeNote     = "note"
	TypeService  = "service"
)

// Verbs.
const (
	VerbMakeFriend = "make-friend"
	VerbPost       = "post"
)

// EmailType tags addresses reachable over this protocol.
const EmailType = "imapsn"

// GeneratorID identifies this implementation in the generator property.
const GeneratorID = "imapsn-go-0.1"

// ErrInvalidActivity is returned for payloads missing required properties.
var ErrInvalidActivity = errors.New("invalid activity")

// Email is a typed mail address.
type Email struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Person is a peer's self-asserted identity. PublicKey and KeyHash are only
// present on full records, not on references.
type Person struct {
	ID          string `json:"id"`
	ObjectType  string `json:"objectType"`
	DisplayName string `json:"displayName"`
	Email       Email  `json:"email"`
	PublicKey   string `json:"publicKey,omitempty"`
	KeyHash     string `json:"keyhash,omitempty"`
}

// Object is the target of an activity: a person, a person reference or a
// note.
type Object struct {
	ID          string `json:"id,omitempty"`
	ObjectType  string `json:"objectType"`
	DisplayName string `json:"displayName,omitempty"`
	Email       *Email `json:"email,omitempty"`
	Content     string `json:"content,omitempty"`
}

// Generator names the software that produced an activity.
type Generator struct {
	ObjectType string `json:"objectType"`
	ID         string `json:"id"`
}

// Activity is the protocol message type.
type Activity struct {
	ID         string     `json:"id"`
	ObjectType string     `json:"objectType"`
	Verb       string     `json:"verb"`
	Actor      Person     `json:"actor"`
	Object     *Object    `json:"object,omitempty"`
	Generator  *Generator `json:"generator,omitempty"`
	InReplyTo  string     `json:"inReplyTo,omitempty"`
}

// New returns an activity with a fresh id minted for actor.
func New(verb string, actor Person) *Activity {
	return &Activity{
		ID:         NewID(actor.Email.Value),
		ObjectType: TypeActivity,
		Verb:       verb,
		Actor:      actor,
		Generator:  ServiceGenerator(),
	}
}

// NewID mints a globally unique id in the account's namespace.
func NewID(email string) string {
	return "acct:" + email + "#" + uuid.NewString()
}

// PersonID returns the stable person id for an address.
func PersonID(email string) string {
	return "acct:" + email + "#0"
}

// ServiceGenerator returns the generator property for outgoing activities.
func ServiceGenerator() *Generator {
	return &Generator{ObjectType: TypeService, ID: GeneratorID}
}

// NewEmail wraps an address as an imapsn email.
func NewEmail(address string) Email {
	return Email{Type: EmailType, Value: address}
}

// Ref returns the person without key material.
func (p Person) Ref() Person {
	return Person{
		ID:          p.ID,
		ObjectType:  TypePerson,
		DisplayName: p.DisplayName,
		Email:       p.Email,
	}
}

// Address renders the person as a mail address.
func (p Person) Address() string {
	return (&mail.Address{Name: p.DisplayName, Address: p.Email.Value}).String()
}

// AsObject returns the person reference as an activity object.
func (p Person) AsObject() *Object {
	email := p.Email
	return &Object{
		ID:          p.ID,
		ObjectType:  TypePerson,
		DisplayName: p.DisplayName,
		Email:       &email,
	}
}

// ValidateKeyed checks that p carries everything needed to trust it on first
// contact.
func (p Person) ValidateKeyed() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: actor.id is missing", ErrInvalidActivity)
	case p.Email.Value == "":
		return fmt.Errorf("%w: actor.email.value is missing", ErrInvalidActivity)
	case p.PublicKey == "":
		return fmt.Errorf("%w: actor.publicKey is missing", ErrInvalidActivity)
	case p.KeyHash == "":
		return fmt.Errorf("%w: actor.keyhash is missing", ErrInvalidActivity)
	}
	if strings.ContainsAny(p.Email.Value, "\r\n") {
		return fmt.Errorf("%w: actor.email.value contains line breaks", ErrInvalidActivity)
	}
	return nil
}

// Parse decodes an activity and checks the properties every activity must
// carry.
func Parse(payload []byte) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActivity, err)
	}
	if a.ID == "" {
		return nil, fmt.Errorf("%w: id is missing", ErrInvalidActivity)
	}
	if a.Actor.ID == "" {
		return nil, fmt.Errorf("%w: actor.id is missing", ErrInvalidActivity)
	}
	return &a, nil
}

// Marshal encodes the activity as JSON.
func (a *Activity) Marshal() ([]byte, error) {
	return json.Marshal(a)
}
