package crypto

import "errors"

var (
	// ErrMalformedKey is returned when a magic key cannot be decoded.
	ErrMalformedKey = errors.New("malformed magic key")

	// ErrInvalidKeyMaterial is returned when an encrypted private key cannot be
	// decrypted, either because the password is wrong or the blob is corrupt.
	ErrInvalidKeyMaterial = errors.New("invalid private key material")
)
