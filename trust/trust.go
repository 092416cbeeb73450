// Package trust persists the key-hash to magic-key map used to verify
// envelopes from known peers.
//
// Entries are added when a peer's key is first accepted and are never removed
// automatically. Overwriting an existing key hash is allowed.
package trust

import (
	"fmt"

	"github.com/opd-ai/imapsn/crypto"
	"github.com/opd-ai/imapsn/document"
	"github.com/sirupsen/logrus"
)

// Path is the trust store's document path.
const Path = "/key-map.json"

// Store is the account's trust map.
type Store struct {
	doc *document.Versioned[map[string]string]
}

// Load reads the trust map from store, or starts an empty one.
func Load(store document.Store, newID func() string) (*Store, error) {
	doc, err := document.Load(store, Path, newID, func() map[string]string {
		return map[string]string{}
	})
	if err != nil {
		return nil, fmt.Errorf("load trust store: %w", err)
	}
	return &Store{doc: doc}, nil
}

// Has reports whether keyhash is trusted.
func (s *Store) Has(keyhash string) bool {
	_, ok := s.doc.Data[keyhash]
	return ok
}

// Get returns the magic key trusted under keyhash.
func (s *Store) Get(keyhash string) (string, bool) {
	magicKey, ok := s.doc.Data[keyhash]
	return magicKey, ok
}

// Lookup implements envelope.KeyRing.
func (s *Store) Lookup(keyhash string) (string, bool) {
	return s.Get(keyhash)
}

// Put trusts magicKey under keyhash. The hash must be the key hash of the
// exact magic key string.
func (s *Store) Put(keyhash, magicKey string) error {
	if crypto.KeyHash(magicKey) != keyhash {
		return fmt.Errorf("%w: key hash %s does not match key", crypto.ErrMalformedKey, keyhash)
	}

	if old, ok := s.doc.Data[keyhash]; !ok || old != magicKey {
		logrus.WithFields(logrus.Fields{
			"function": "Put",
			"package":  "trust",
			"keyhash":  crypto.Preview(keyhash),
			"replaced": ok,
		}).Info("Trusted peer key")
	}
	s.doc.Data[keyhash] = magicKey
	return nil
}

// Len returns the number of trusted keys.
func (s *Store) Len() int {
	return len(s.doc.Data)
}

// Save writes the trust map back to the store.
func (s *Store) Save() error {
	if err := s.doc.Save(); err != nil {
		return fmt.Errorf("save trust store: %w", err)
	}
	return nil
}
