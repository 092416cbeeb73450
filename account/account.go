// Package account manages the account owner document: the owner's person
// record, folder settings and password-protected signing key.
package account

import (
	"fmt"
	"net/mail"

	"github.com/opd-ai/imapsn/activity"
	"github.com/opd-ai/imapsn/config"
	"github.com/opd-ai/imapsn/crypto"
	"github.com/opd-ai/imapsn/document"
	"github.com/sirupsen/logrus"
)

// Path is the owner document's path.
const Path = "/account-owner.json"

// ErrInvalidOwner is returned when the owner document is missing a required
// property. It is a configuration error.
var ErrInvalidOwner = fmt.Errorf("%w: invalid account owner", config.ErrConfig)

// Owner is the stored owner document.
type Owner struct {
	NewMessageFolder string          `json:"new-message-folder"`
	WallGroup        string          `json:"wall-group"`
	Person           activity.Person `json:"account-owner"`
	PrivateKey       string          `json:"privateKey"`
}

// Settings seed a new owner document.
type Settings struct {
	DisplayName        string
	EmailID            string
	PrivateKeyPassword string
	NewMessageFolder   string
	WallGroup          string
	// KeyBits overrides crypto.DefaultKeyBits when non-zero.
	KeyBits int
}

// Account is a loaded, validated owner document.
type Account struct {
	doc *document.Versioned[Owner]
}

// LoadOrCreate loads the owner document, creating it with a fresh key pair
// on first use. The result is always validated.
func LoadOrCreate(store document.Store, s Settings) (*Account, error) {
	doc, err := document.Load(store, Path, func() string { return activity.NewID(s.EmailID) }, func() Owner {
		return Owner{}
	})
	if err != nil {
		return nil, fmt.Errorf("load account owner: %w", err)
	}

	if doc.Version() == 0 {
		if err := create(doc, s); err != nil {
			return nil, err
		}
	}

	if err := Validate(doc.Data); err != nil {
		return nil, err
	}
	return &Account{doc: doc}, nil
}

func create(doc *document.Versioned[Owner], s Settings) error {
	if s.EmailID == "" || s.PrivateKeyPassword == "" {
		return fmt.Errorf("%w: email and private key password are required to create an account", config.ErrConfig)
	}

	bits := s.KeyBits
	if bits == 0 {
		bits = crypto.DefaultKeyBits
	}
	kp, err := crypto.GenerateKeyPairBits(bits)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	defer crypto.WipePrivateKey(kp.Private)

	blob, err := crypto.EncryptPrivateKey(kp.Private, s.PrivateKeyPassword)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	owner := Owner{
		NewMessageFolder: orDefault(s.NewMessageFolder, config.DefaultNewMessageFolder),
		WallGroup:        orDefault(s.WallGroup, config.DefaultWallGroup),
		Person: activity.Person{
			ID:          activity.PersonID(s.EmailID),
			ObjectType:  activity.TypePerson,
			DisplayName: s.DisplayName,
			Email:       activity.NewEmail(s.EmailID),
			PublicKey:   kp.MagicKey(),
			KeyHash:     kp.KeyHash(),
		},
		PrivateKey: blob,
	}
	doc.Data = owner
	if err := doc.Save(); err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "LoadOrCreate",
		"package":     "account",
		"person_id":   owner.Person.ID,
		"fingerprint": crypto.Fingerprint(owner.Person.PublicKey),
	}).Info("Created account owner")
	return nil
}

// Validate checks an owner document and names the first bad property.
func Validate(o Owner) error {
	checks := []struct {
		prop string
		ok   bool
	}{
		{"new-message-folder", o.NewMessageFolder != ""},
		{"wall-group", o.WallGroup != ""},
		{"privateKey", o.PrivateKey != ""},
		{"account-owner.id", o.Person.ID != ""},
		{"account-owner.email.value", o.Person.Email.Value != ""},
		{"account-owner.publicKey", o.Person.PublicKey != ""},
		{"account-owner.keyhash", o.Person.KeyHash != ""},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("%w: %s is missing", ErrInvalidOwner, c.prop)
		}
	}

	if _, err := mail.ParseAddress(o.Person.Email.Value); err != nil {
		return fmt.Errorf("%w: account-owner.email.value: %v", ErrInvalidOwner, err)
	}
	if _, err := crypto.DecodePublicKey(o.Person.PublicKey); err != nil {
		return fmt.Errorf("%w: account-owner.publicKey: %v", ErrInvalidOwner, err)
	}
	if crypto.KeyHash(o.Person.PublicKey) != o.Person.KeyHash {
		return fmt.Errorf("%w: account-owner.keyhash does not match publicKey", ErrInvalidOwner)
	}
	return nil
}

// Owner returns a copy of the owner document.
func (a *Account) Owner() Owner { return a.doc.Data }

// Person returns the owner's full person record.
func (a *Account) Person() activity.Person { return a.doc.Data.Person }

// Email returns the owner's address.
func (a *Account) Email() string { return a.doc.Data.Person.Email.Value }

// DisplayName returns the owner's display name.
func (a *Account) DisplayName() string { return a.doc.Data.Person.DisplayName }

// KeyHash returns the owner's key hash.
func (a *Account) KeyHash() string { return a.doc.Data.Person.KeyHash }

// WallGroup returns the group news is broadcast to.
func (a *Account) WallGroup() string { return a.doc.Data.WallGroup }

// NewMessageFolder returns the folder inbound mail arrives in.
func (a *Account) NewMessageFolder() string { return a.doc.Data.NewMessageFolder }

// NewID mints a fresh id in the owner's namespace.
func (a *Account) NewID() string { return activity.NewID(a.Email()) }

// Unlock decrypts the private key. The key must match the stored public key.
func (a *Account) Unlock(password string) (*Identity, error) {
	priv, err := crypto.DecryptPrivateKey(a.doc.Data.PrivateKey, password)
	if err != nil {
		return nil, fmt.Errorf("unlock account: %w", err)
	}
	kp := crypto.FromPrivateKey(priv)
	if kp.MagicKey() != a.doc.Data.Person.PublicKey {
		crypto.WipePrivateKey(priv)
		return nil, fmt.Errorf("%w: privateKey does not match account-owner.publicKey", ErrInvalidOwner)
	}
	return &Identity{person: a.doc.Data.Person, key: kp}, nil
}

// ChangePassword re-encrypts the private key under a new password. Keys stored
// in the legacy layout are upgraded to the current one.
func (a *Account) ChangePassword(oldPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: empty private key password", config.ErrConfig)
	}
	priv, err := crypto.DecryptPrivateKey(a.doc.Data.PrivateKey, oldPassword)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	defer crypto.WipePrivateKey(priv)

	blob, err := crypto.EncryptPrivateKey(priv, newPassword)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	previous := a.doc.Data.PrivateKey
	a.doc.Data.PrivateKey = blob
	if err := a.doc.Save(); err != nil {
		a.doc.Data.PrivateKey = previous
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
