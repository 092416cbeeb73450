package envelope

import (
	"fmt"

	"github.com/opd-ai/imapsn/crypto"
	"github.com/sirupsen/logrus"
)

// TrustPolicy selects which keys an envelope may be verified against.
type TrustPolicy uint8

const (
	// RequireKnownKey verifies only against the trusted key ring.
	RequireKnownKey TrustPolicy = iota

	// AcceptSelfAsserted verifies only against the key the payload claims
	// for its author. Used for first contact.
	AcceptSelfAsserted
)

// String returns a human readable policy name.
func (p TrustPolicy) String() string {
	switch p {
	case RequireKnownKey:
		return "require-known-key"
	case AcceptSelfAsserted:
		return "accept-self-asserted"
	default:
		return fmt.Sprintf("TrustPolicy(%d)", uint8(p))
	}
}

// Claim is a key asserted by a payload for its own author.
type Claim struct {
	KeyHash  string
	MagicKey string
}

// ClaimFunc extracts the author's claimed key from a decoded payload.
type ClaimFunc func(payload []byte) (Claim, error)

// Verifier opens envelopes under a single trust policy.
type Verifier struct {
	Policy  TrustPolicy
	Trusted KeyRing
	Claim   ClaimFunc
}

// Open verifies env according to the policy and returns its payload.
//
// Under AcceptSelfAsserted the trusted ring is ignored and a claim whose key
// hash does not match its key fails with crypto.ErrMalformedKey.
func (v Verifier) Open(env *Envelope) ([]byte, error) {
	switch v.Policy {
	case RequireKnownKey:
		if v.Trusted == nil {
			return nil, fmt.Errorf("open envelope: %s policy without key ring", v.Policy)
		}
		return Verify(env, v.Trusted)

	case AcceptSelfAsserted:
		if v.Claim == nil {
			return nil, fmt.Errorf("open envelope: %s policy without claim extractor", v.Policy)
		}
		if err := env.validate(); err != nil {
			return nil, err
		}
		payload, err := env.Payload()
		if err != nil {
			return nil, err
		}
		claim, err := v.Claim(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableEnvelope, err)
		}
		if crypto.KeyHash(claim.MagicKey) != claim.KeyHash {
			logrus.WithFields(logrus.Fields{
				"function": "Open",
				"package":  "envelope",
				"keyhash":  crypto.Preview(claim.KeyHash),
			}).Warn("Self-asserted key does not match its key hash")
			return nil, fmt.Errorf("%w: claimed key hash %s does not match public key", crypto.ErrMalformedKey, claim.KeyHash)
		}
		return Verify(env, KeyMap{claim.KeyHash: claim.MagicKey})

	default:
		return nil, fmt.Errorf("open envelope: unknown %s", v.Policy)
	}
}
