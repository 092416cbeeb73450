package crypto

import (
	"testing"
)

func TestSecureWipe(t *testing.T) {
	data := []byte("sensitive-key-material")

	if err := SecureWipe(data); err != nil {
		t.Fatalf("SecureWipe failed: %v", err)
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not wiped: %x", i, b)
		}
	}

	if err := SecureWipe(nil); err == nil {
		t.Error("SecureWipe(nil) should return an error")
	}

	// ZeroBytes tolerates nil.
	ZeroBytes(nil)
}

func TestWipePrivateKey(t *testing.T) {
	kp, err := GenerateKeyPairBits(testKeyBits)
	if err != nil {
		t.Fatalf("Failed to generate keypair: %v", err)
	}

	if err := WipePrivateKey(kp.Private); err != nil {
		t.Fatalf("WipePrivateKey failed: %v", err)
	}
	if kp.Private.D.Sign() != 0 {
		t.Error("private exponent was not wiped")
	}
	for i, p := range kp.Private.Primes {
		if p.Sign() != 0 {
			t.Errorf("prime %d was not wiped", i)
		}
	}

	if err := WipePrivateKey(nil); err == nil {
		t.Error("WipePrivateKey(nil) should return an error")
	}
}
