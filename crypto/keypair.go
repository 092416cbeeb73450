package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// DefaultKeyBits is the RSA modulus size used for account keys.
const DefaultKeyBits = 2048

// minKeyBits is the smallest modulus GenerateKeyPairBits accepts.
const minKeyBits = 1024

// KeyPair is an account's RSA signing key pair.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a new RSA key pair suitable for RSA-SHA256 signing.
func GenerateKeyPair() (*KeyPair, error) {
	return GenerateKeyPairBits(DefaultKeyBits)
}

// GenerateKeyPairBits creates a new RSA key pair with the given modulus size.
func GenerateKeyPairBits(bits int) (*KeyPair, error) {
	logger := NewLogger("GenerateKeyPairBits").WithField("bits", bits)
	if bits < minKeyBits {
		return nil, fmt.Errorf("key size %d below minimum %d", bits, minKeyBits)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		logger.WithError(err, "rsa", "generate").Error("Key generation failed")
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	logger.Debug("Generated signing key pair")
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// FromPrivateKey wraps an existing private key.
func FromPrivateKey(priv *rsa.PrivateKey) *KeyPair {
	return &KeyPair{Private: priv, Public: &priv.PublicKey}
}

// MagicKey returns the encoded public key.
func (kp *KeyPair) MagicKey() string {
	return EncodePublicKey(kp.Public)
}

// KeyHash returns the key hash of the encoded public key.
func (kp *KeyPair) KeyHash() string {
	return KeyHash(kp.MagicKey())
}
