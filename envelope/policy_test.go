package envelope

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/opd-ai/imapsn/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type claimPayload struct {
	KeyHash  string `json:"keyhash"`
	MagicKey string `json:"magickey"`
}

func claimFromJSON(payload []byte) (Claim, error) {
	var p claimPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Claim{}, err
	}
	return Claim{KeyHash: p.KeyHash, MagicKey: p.MagicKey}, nil
}

func signClaim(t *testing.T, signer *crypto.KeyPair, claimed claimPayload) *Envelope {
	t.Helper()
	raw, err := json.Marshal(claimed)
	require.NoError(t, err)
	env, err := Sign(raw, ContentTypeJSON, signer.Private, signer.KeyHash())
	require.NoError(t, err)
	return env
}

func TestOpenRequireKnownKey(t *testing.T) {
	a, b := testKeys(t)
	env := signClaim(t, a, claimPayload{KeyHash: a.KeyHash(), MagicKey: a.MagicKey()})

	v := Verifier{Policy: RequireKnownKey, Trusted: ringOf(a)}
	_, err := v.Open(env)
	assert.NoError(t, err)

	v.Trusted = ringOf(b)
	_, err = v.Open(env)
	assert.ErrorIs(t, err, ErrUnknownProvenance)

	_, err = Verifier{Policy: RequireKnownKey}.Open(env)
	assert.Error(t, err)
}

func TestOpenSelfAsserted(t *testing.T) {
	a, b := testKeys(t)

	t.Run("matching claim", func(t *testing.T) {
		env := signClaim(t, a, claimPayload{KeyHash: a.KeyHash(), MagicKey: a.MagicKey()})
		v := Verifier{Policy: AcceptSelfAsserted, Claim: claimFromJSON}
		payload, err := v.Open(env)
		require.NoError(t, err)
		assert.Contains(t, string(payload), a.KeyHash())
	})

	t.Run("trusted ring is ignored", func(t *testing.T) {
		env := signClaim(t, a, claimPayload{KeyHash: b.KeyHash(), MagicKey: b.MagicKey()})
		v := Verifier{Policy: AcceptSelfAsserted, Trusted: ringOf(a, b), Claim: claimFromJSON}
		_, err := v.Open(env)
		assert.ErrorIs(t, err, ErrUnknownProvenance)
	})

	t.Run("hash does not match key", func(t *testing.T) {
		env := signClaim(t, a, claimPayload{KeyHash: a.KeyHash(), MagicKey: b.MagicKey()})
		v := Verifier{Policy: AcceptSelfAsserted, Claim: claimFromJSON}
		_, err := v.Open(env)
		assert.True(t, errors.Is(err, crypto.ErrMalformedKey), "got %v", err)
	})

	t.Run("unparseable payload", func(t *testing.T) {
		env, err := Sign([]byte("not json"), ContentTypeJSON, a.Private, a.KeyHash())
		require.NoError(t, err)
		v := Verifier{Policy: AcceptSelfAsserted, Claim: claimFromJSON}
		_, err = v.Open(env)
		assert.ErrorIs(t, err, ErrUnreadableEnvelope)
	})
}

func TestTrustPolicyString(t *testing.T) {
	assert.Equal(t, "require-known-key", RequireKnownKey.String())
	assert.Equal(t, "accept-self-asserted", AcceptSelfAsserted.String())
	assert.Equal(t, "TrustPolicy(9)", TrustPolicy(9).String())
}
