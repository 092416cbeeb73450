package account

import (
	"fmt"

	"github.com/opd-ai/imapsn/activity"
	"github.com/opd-ai/imapsn/crypto"
	"github.com/opd-ai/imapsn/envelope"
)

// Identity is an unlocked account that can sign.
type Identity struct {
	person activity.Person
	key    *crypto.KeyPair
}

// Person returns the owner's full person record.
func (id *Identity) Person() activity.Person { return id.person }

// Seal signs act into an envelope under the owner's key.
func (id *Identity) Seal(act *activity.Activity) (*envelope.Envelope, error) {
	if id.key == nil {
		return nil, fmt.Errorf("seal %s: identity is closed", act.ID)
	}
	payload, err := act.Marshal()
	if err != nil {
		return nil, fmt.Errorf("seal %s: %w", act.ID, err)
	}
	return envelope.Sign(payload, envelope.ContentTypeJSON, id.key.Private, id.person.KeyHash)
}

// Close wipes the private key. The identity cannot sign afterwards.
func (id *Identity) Close() {
	if id.key != nil {
		crypto.WipePrivateKey(id.key.Private)
		id.key = nil
	}
}
