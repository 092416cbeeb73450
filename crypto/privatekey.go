package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PrivateKeyVersion tags the current encrypted private key layout.
	PrivateKeyVersion = "v2"

	// PBKDF2Iterations is the iteration count for the current layout.
	PBKDF2Iterations = 100000

	// SaltSize is the salt size for the current layout.
	SaltSize = 32

	// LegacyIterations is the PBKDF2-HMAC-SHA1 iteration count of the
	// unversioned layout.
	LegacyIterations = 1024

	// LegacySaltSize is the salt size of the unversioned layout.
	LegacySaltSize = 8

	derivedKeySize = 32

	// pkcs8Prefix marks the plaintext as "PKCS8.<base64url(DER)>".
	pkcs8Prefix = "PKCS8."
)

// EncryptPrivateKey serializes priv as PKCS#8 and seals it under a key
// derived from password. The result is
// "v2.<ciphertext>.<salt>.<nonce>", each field base64url encoded.
func EncryptPrivateKey(priv *rsa.PrivateKey, password string) (string, error) {
	logger := NewLogger("EncryptPrivateKey")
	if priv == nil {
		return "", fmt.Errorf("%w: nil private key", ErrInvalidKeyMaterial)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("marshal pkcs8: %w", err)
	}
	plaintext := []byte(pkcs8Prefix + EncodeBase64URL(der))
	defer ZeroBytes(plaintext)
	ZeroBytes(der)

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, derivedKeySize, sha256.New)
	defer ZeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// The version tag is bound as additional data so it cannot be swapped.
	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(PrivateKeyVersion))

	logger.WithFields(SecureFieldHash(salt, "salt")).
		WithFields(SecureFieldHash(nonce, "nonce")).
		WithField("iterations", PBKDF2Iterations).
		Debug("Private key sealed")
	return strings.Join([]string{
		PrivateKeyVersion,
		EncodeBase64URL(ciphertext),
		EncodeBase64URL(salt),
		EncodeBase64URL(nonce),
	}, "."), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey. It also reads the legacy
// unversioned "<ciphertext>.<salt>.<iv>" layout.
func DecryptPrivateKey(blob, password string) (*rsa.PrivateKey, error) {
	parts := strings.Split(blob, ".")

	var plaintext []byte
	var err error
	switch {
	case len(parts) == 4 && parts[0] == PrivateKeyVersion:
		plaintext, err = openCurrent(parts[1:], password)
	case len(parts) == 3:
		plaintext, err = openLegacy(parts, password)
	default:
		return nil, fmt.Errorf("%w: unrecognized layout (%d fields)", ErrInvalidKeyMaterial, len(parts))
	}
	if err != nil {
		NewLogger("DecryptPrivateKey").WithField("fields", len(parts)).Debug("Private key did not open")
		return nil, err
	}
	defer ZeroBytes(plaintext)

	return parsePKCS8Plaintext(plaintext)
}

func openCurrent(fields []string, password string) ([]byte, error) {
	ciphertext, salt, nonce, err := decodeFields(fields)
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, derivedKeySize, sha256.New)
	defer ZeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce size %d", ErrInvalidKeyMaterial, len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(PrivateKeyVersion))
	if err != nil {
		return nil, fmt.Errorf("%w: wrong password or corrupted data", ErrInvalidKeyMaterial)
	}
	return plaintext, nil
}

// openLegacy decrypts the DES-CBC layout. The 256-bit PBKDF2 output is
// truncated to the first 8 bytes, the DES key length.
func openLegacy(fields []string, password string) ([]byte, error) {
	ciphertext, salt, iv, err := decodeFields(fields)
	if err != nil {
		return nil, err
	}
	if len(iv) != des.BlockSize {
		return nil, fmt.Errorf("%w: bad iv size %d", ErrInvalidKeyMaterial, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%des.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block aligned", ErrInvalidKeyMaterial)
	}

	key := pbkdf2.Key([]byte(password), salt, LegacyIterations, derivedKeySize, sha1.New)
	defer ZeroBytes(key)

	block, err := des.NewCipher(key[:des.BlockSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs5Unpad(padded, des.BlockSize)
	if err != nil {
		ZeroBytes(padded)
		return nil, err
	}
	return plaintext, nil
}

func parsePKCS8Plaintext(plaintext []byte) (*rsa.PrivateKey, error) {
	if !bytes.HasPrefix(plaintext, []byte(pkcs8Prefix)) {
		return nil, fmt.Errorf("%w: missing PKCS8 marker", ErrInvalidKeyMaterial)
	}

	der, err := DecodeBase64URL(string(plaintext[len(pkcs8Prefix):]))
	if err != nil {
		return nil, fmt.Errorf("%w: pkcs8 encoding: %v", ErrInvalidKeyMaterial, err)
	}
	defer ZeroBytes(der)

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: pkcs8: %v", ErrInvalidKeyMaterial, err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKeyMaterial)
	}
	return priv, nil
}

func decodeFields(fields []string) (ciphertext, salt, iv []byte, err error) {
	if ciphertext, err = DecodeBase64URL(fields[0]); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: ciphertext: %v", ErrInvalidKeyMaterial, err)
	}
	if salt, err = DecodeBase64URL(fields[1]); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: salt: %v", ErrInvalidKeyMaterial, err)
	}
	if iv, err = DecodeBase64URL(fields[2]); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: iv: %v", ErrInvalidKeyMaterial, err)
	}
	return ciphertext, salt, iv, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func pkcs5Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrInvalidKeyMaterial)
	}
	pad := int(data[n-1])
	if pad == 0 || pad > blockSize || pad > n {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidKeyMaterial)
	}
	for _, b := range data[n-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: bad padding", ErrInvalidKeyMaterial)
		}
	}
	return data[:n-pad], nil
}
