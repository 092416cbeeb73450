package document

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/imapsn/limits"
)

// Versioned is a JSON document at a fixed path in a Store. It is loaded once,
// mutated in memory and written back whole by Save.
type Versioned[T any] struct {
	store   Store
	path    string
	id      string
	version uint64
	Data    T
}

type versionedJSON[T any] struct {
	ID      string `json:"id"`
	Version uint64 `json:"version"`
	Data    T      `json:"data"`
}

// Load reads the document at path. When it does not exist a fresh document is
// returned with an id from newID and data from empty; nothing is written until
// Save.
func Load[T any](store Store, path string, newID func() string, empty func() T) (*Versioned[T], error) {
	v := &Versioned[T]{store: store, path: path}

	doc, err := store.Get(path)
	if errors.Is(err, ErrNotFound) {
		v.id = newID()
		v.Data = empty()
		return v, nil
	}
	if err != nil {
		return nil, err
	}

	var w versionedJSON[json.RawMessage]
	if err := json.Unmarshal(doc.Data, &w); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreRead, path, err)
	}
	v.id = w.ID
	v.version = w.Version
	v.Data = empty()
	if len(w.Data) > 0 && string(w.Data) != "null" {
		if err := json.Unmarshal(w.Data, &v.Data); err != nil {
			return nil, fmt.Errorf("%w: decode %s data: %v", ErrStoreRead, path, err)
		}
	}
	return v, nil
}

// Save writes the whole document back to its path.
func (v *Versioned[T]) Save() error {
	raw, err := json.Marshal(versionedJSON[T]{
		ID:      v.id,
		Version: v.version + 1,
		Data:    v.Data,
	})
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStoreWrite, v.path, err)
	}
	if err := limits.ValidateDocument(raw); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStoreWrite, v.path, err)
	}
	if err := v.store.Put(v.path, raw); err != nil {
		return err
	}
	v.version++
	return nil
}

// ID returns the document's id.
func (v *Versioned[T]) ID() string { return v.id }

// Version returns how many times the document has been saved.
func (v *Versioned[T]) Version() uint64 { return v.version }

// Path returns the document's path.
func (v *Versioned[T]) Path() string { return v.path }
