package envelope

// KeyRing maps key hashes to magic keys.
type KeyRing interface {
	Lookup(keyhash string) (magicKey string, ok bool)
}

// KeyMap is an in-memory KeyRing.
type KeyMap map[string]string

// Lookup implements KeyRing.
func (m KeyMap) Lookup(keyhash string) (string, bool) {
	magicKey, ok := m[keyhash]
	return magicKey, ok
}
