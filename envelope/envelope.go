package envelope

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/opd-ai/imapsn/crypto"
	"github.com/opd-ai/imapsn/limits"
	"github.com/sirupsen/logrus"
)

const (
	// Encoding is the payload encoding written by Sign.
	Encoding = "base64url"

	// Algorithm is the signature algorithm written by Sign.
	Algorithm = "RSA-SHA256"

	// ContentTypeJSON is the content type of activity payloads.
	ContentTypeJSON = "application/json"
)

// Signature is one detachable signature over an envelope. Value may be
// empty on entries from third parties; it is only required when KeyHash
// names a known key.
type Signature struct {
	Value   string `json:"value,omitempty"`
	KeyHash string `json:"keyhash"`
}

// Envelope is a signed payload. Treat it as immutable once built.
type Envelope struct {
	Data     string      `json:"data"`
	DataType string      `json:"data_type"`
	Encoding string      `json:"encoding"`
	Alg      string      `json:"alg"`
	Sigs     []Signature `json:"sigs"`
}

// Sign wraps payload in an envelope carrying one signature made with priv.
// keyhash identifies the public half of priv.
func Sign(payload []byte, contentType string, priv *rsa.PrivateKey, keyhash string) (*Envelope, error) {
	if priv == nil {
		return nil, fmt.Errorf("sign envelope: nil private key")
	}

	env := &Envelope{
		Data:     crypto.EncodeBase64URL(payload),
		DataType: contentType,
		Encoding: Encoding,
		Alg:      Algorithm,
	}

	digest := sha256.Sum256(signingInput(env))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, stdcrypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}

	env.Sigs = []Signature{{
		Value:   crypto.EncodeBase64URL(sig),
		KeyHash: keyhash,
	}}

	logrus.WithFields(logrus.Fields{
		"function":     "Sign",
		"package":      "envelope",
		"data_type":    contentType,
		"payload_size": len(payload),
		"keyhash":      crypto.Preview(keyhash),
	}).Debug("Envelope signed")

	return env, nil
}

// Verify checks env against keys and returns the decoded payload.
// Signatures under keys missing from keys are skipped. A nil key ring
// knows no keys.
func Verify(env *Envelope, keys KeyRing) ([]byte, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, ErrUnknownProvenance
	}

	digest := sha256.Sum256(signingInput(env))
	valid := 0
	for i, sig := range env.Sigs {
		magicKey, ok := keys.Lookup(sig.KeyHash)
		if !ok {
			continue
		}

		if sig.Value == "" {
			return nil, missing(fmt.Sprintf("sigs[%d].value", i))
		}

		pub, err := crypto.DecodePublicKey(magicKey)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}

		raw, err := crypto.DecodeBase64URL(sig.Value)
		if err != nil || rsa.VerifyPKCS1v15(pub, stdcrypto.SHA256, digest[:], raw) != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Verify",
				"package":  "envelope",
				"index":    i,
				"keyhash":  crypto.Preview(sig.KeyHash),
			}).Warn("Signature under known key failed verification")
			return nil, fmt.Errorf("%w: signature %d from %s", ErrInvalidSignature, i, sig.KeyHash)
		}
		valid++
	}

	if valid == 0 {
		return nil, ErrUnknownProvenance
	}

	payload, err := env.Payload()
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Payload decodes the data field without checking any signature.
func (e *Envelope) Payload() ([]byte, error) {
	payload, err := crypto.DecodeBase64URL(e.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: data is not base64url: %v", ErrUnreadableEnvelope, err)
	}
	return payload, nil
}

// Marshal serializes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// wireEnvelope distinguishes absent fields from empty ones.
type wireEnvelope struct {
	Data     *string          `json:"data"`
	DataType *string          `json:"data_type"`
	Encoding *string          `json:"encoding"`
	Alg      *string          `json:"alg"`
	Sigs     *[]wireSignature `json:"sigs"`
}

type wireSignature struct {
	Value   string  `json:"value"`
	KeyHash *string `json:"keyhash"`
}

// Parse decodes an envelope from JSON. Any missing field, and any input
// larger than limits.MaxEnvelope, yields ErrUnreadableEnvelope. A signature
// without a value is kept; Verify rejects it only under a known key.
func Parse(raw []byte) (*Envelope, error) {
	if err := limits.ValidateEnvelope(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableEnvelope, err)
	}

	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableEnvelope, err)
	}

	switch {
	case w.Data == nil:
		return nil, missing("data")
	case w.DataType == nil:
		return nil, missing("data_type")
	case w.Encoding == nil:
		return nil, missing("encoding")
	case w.Alg == nil:
		return nil, missing("alg")
	case w.Sigs == nil:
		return nil, missing("sigs")
	}

	env := &Envelope{
		Data:     *w.Data,
		DataType: *w.DataType,
		Encoding: *w.Encoding,
		Alg:      *w.Alg,
		Sigs:     make([]Signature, 0, len(*w.Sigs)),
	}
	for i, s := range *w.Sigs {
		if s.KeyHash == nil {
			return nil, missing(fmt.Sprintf("sigs[%d].keyhash", i))
		}
		env.Sigs = append(env.Sigs, Signature{Value: s.Value, KeyHash: *s.KeyHash})
	}
	return env, env.validate()
}

func (e *Envelope) validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrUnreadableEnvelope)
	}
	if e.Sigs == nil {
		return missing("sigs")
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: required property %q is missing", ErrUnreadableEnvelope, field)
}

// signingInput builds data.b64(data_type).b64(encoding).b64(alg).
func signingInput(e *Envelope) []byte {
	return []byte(e.Data + "." +
		crypto.EncodeBase64URL([]byte(e.DataType)) + "." +
		crypto.EncodeBase64URL([]byte(e.Encoding)) + "." +
		crypto.EncodeBase64URL([]byte(e.Alg)))
}
