package crypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// MagicKeyAlgorithm is the algorithm tag that prefixes every magic key.
const MagicKeyAlgorithm = "RSA"

// maxExponentBits bounds the public exponent so it fits rsa.PublicKey.E.
const maxExponentBits = 31

var b64 = base64.RawURLEncoding

// EncodeBase64URL encodes data as unpadded base64url.
func EncodeBase64URL(data []byte) string {
	return b64.EncodeToString(data)
}

// DecodeBase64URL decodes base64url, accepting input with or without padding.
func DecodeBase64URL(s string) ([]byte, error) {
	return b64.DecodeString(strings.TrimRight(s, "="))
}

// EncodePublicKey encodes pub as "RSA.<modulus>.<exponent>".
func EncodePublicKey(pub *rsa.PublicKey) string {
	return MagicKeyAlgorithm + "." +
		EncodeBase64URL(signedBytes(pub.N)) + "." +
		EncodeBase64URL(signedBytes(big.NewInt(int64(pub.E))))
}

// DecodePublicKey is the inverse of EncodePublicKey.
func DecodePublicKey(magicKey string) (*rsa.PublicKey, error) {
	parts := strings.Split(magicKey, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedKey, len(parts))
	}
	if parts[0] != MagicKeyAlgorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedKey, parts[0])
	}

	n, err := decodeInteger(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: modulus: %v", ErrMalformedKey, err)
	}
	e, err := decodeInteger(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: exponent: %v", ErrMalformedKey, err)
	}
	if e.BitLen() > maxExponentBits || e.Int64() < 3 {
		return nil, fmt.Errorf("%w: exponent out of range", ErrMalformedKey)
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// KeyHash returns base64url(SHA-256(magicKey)).
func KeyHash(magicKey string) string {
	sum := sha256.Sum256([]byte(magicKey))
	return EncodeBase64URL(sum[:])
}

// signedBytes renders a non-negative integer as a minimal big-endian two's
// complement byte string.
func signedBytes(x *big.Int) []byte {
	raw := x.Bytes()
	if len(raw) == 0 {
		return []byte{0}
	}
	if raw[0]&0x80 != 0 {
		return append([]byte{0}, raw...)
	}
	return raw
}

// decodeInteger parses a base64url two's complement field and requires a
// positive value.
func decodeInteger(field string) (*big.Int, error) {
	raw, err := DecodeBase64URL(field)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty field")
	}
	if raw[0]&0x80 != 0 {
		return nil, fmt.Errorf("negative integer")
	}
	v := new(big.Int).SetBytes(raw)
	if v.Sign() == 0 {
		return nil, fmt.Errorf("zero integer")
	}
	return v, nil
}
