package crypto

import (
	"crypto/sha256"
	"strings"

	"github.com/mr-tron/base58"
)

// fingerprintBytes is the number of digest bytes shown in a fingerprint.
const fingerprintBytes = 15

// Fingerprint returns a short base58 digest of a magic key, split into
// groups of five characters so it can be read aloud.
func Fingerprint(magicKey string) string {
	sum := sha256.Sum256([]byte(magicKey))
	encoded := base58.Encode(sum[:fingerprintBytes])

	var groups []string
	for len(encoded) > 5 {
		groups = append(groups, encoded[:5])
		encoded = encoded[5:]
	}
	groups = append(groups, encoded)
	return strings.Join(groups, "-")
}
