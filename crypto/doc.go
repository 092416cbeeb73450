// Package crypto implements key management for the imapsn protocol.
//
// Every account owns one RSA signing key pair. The public half travels inside
// activities as a "magic key" string and is referred to everywhere else by its
// key hash. The private half is stored in the account document, encrypted
// under the user's private-key password.
//
// # Magic Keys
//
// A magic key is the canonical string form of an RSA public key:
//
//	RSA.<base64url(modulus)>.<base64url(exponent)>
//
// Modulus and exponent are big-endian two's complement byte strings, so a
// modulus with its top bit set carries a leading zero byte. The encoding is
// deterministic and reversible:
//
//	magic := crypto.EncodePublicKey(&kp.Private.PublicKey)
//	pub, err := crypto.DecodePublicKey(magic)
//	hash := crypto.KeyHash(magic) // base64url(SHA-256(magic))
//
// # Private Key Protection
//
// EncryptPrivateKey produces a self-describing, versioned string:
//
//	v2.<base64url(ciphertext)>.<base64url(salt)>.<base64url(nonce)>
//
// The key is derived with PBKDF2-HMAC-SHA256 and the payload sealed with
// AES-256-GCM. DecryptPrivateKey also accepts the unversioned three-part
// layout written by older clients (PBKDF2-HMAC-SHA1, 1024 iterations,
// DES-CBC). The legacy layout is never produced.
//
// # Fingerprints
//
// Fingerprint renders a short base58 digest of a magic key for out-of-band
// comparison between two people.
package crypto
