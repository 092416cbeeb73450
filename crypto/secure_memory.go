package crypto

import (
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"math/big"
	"runtime"
)

// SecureWipe overwrites a byte slice holding sensitive data with zeros.
// It returns an error if the slice is nil.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)

	runtime.KeepAlive(data)
	runtime.KeepAlive(zeros)

	return nil
}

// ZeroBytes wipes data, ignoring nil slices.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipePrivateKey zeroes the private exponent, primes and precomputed values
// of priv in place. The key is unusable afterwards.
func WipePrivateKey(priv *rsa.PrivateKey) error {
	if priv == nil {
		return errors.New("cannot wipe nil private key")
	}

	wipeInt(priv.D)
	for _, p := range priv.Primes {
		wipeInt(p)
	}
	wipeInt(priv.Precomputed.Dp)
	wipeInt(priv.Precomputed.Dq)
	wipeInt(priv.Precomputed.Qinv)
	return nil
}

func wipeInt(x *big.Int) {
	if x == nil {
		return
	}
	words := x.Bits()
	for i := range words {
		words[i] = 0
	}
	x.SetInt64(0)
	runtime.KeepAlive(words)
}
