package crypto

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"io"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

// testKeyBits keeps key generation fast in tests.
const testKeyBits = 1024

var (
	sharedKeyOnce sync.Once
	sharedKey     *KeyPair
)

// testKeyPair returns a key pair shared across tests in this package.
func testKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	sharedKeyOnce.Do(func() {
		kp, err := GenerateKeyPairBits(testKeyBits)
		if err != nil {
			t.Fatalf("Failed to generate keypair: %v", err)
		}
		sharedKey = kp
	})
	return sharedKey
}

// encryptLegacy writes the unversioned DES-CBC layout so the decode path can
// be exercised.
func encryptLegacy(t *testing.T, priv *rsa.PrivateKey, password string) string {
	t.Helper()

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte(pkcs8Prefix + EncodeBase64URL(der))

	salt := make([]byte, LegacySaltSize)
	iv := make([]byte, des.BlockSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		t.Fatal(err)
	}

	key := pbkdf2.Key([]byte(password), salt, LegacyIterations, derivedKeySize, sha1.New)
	block, err := des.NewCipher(key[:des.BlockSize])
	if err != nil {
		t.Fatal(err)
	}

	pad := des.BlockSize - len(plaintext)%des.BlockSize
	for i := 0; i < pad; i++ {
		plaintext = append(plaintext, byte(pad))
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return strings.Join([]string{
		EncodeBase64URL(ciphertext),
		EncodeBase64URL(salt),
		EncodeBase64URL(iv),
	}, ".")
}
