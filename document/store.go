package document

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no live document matches a path.
	ErrNotFound = errors.New("document not found")

	// ErrStoreRead wraps I/O failures while reading from a store.
	ErrStoreRead = errors.New("store read failed")

	// ErrStoreWrite wraps I/O failures while writing to a store.
	ErrStoreWrite = errors.New("store write failed")
)

// Document is one message in a folder.
type Document struct {
	ID      uint64    `json:"id"`
	Subject string    `json:"subject"`
	From    string    `json:"from,omitempty"`
	Name    string    `json:"name"`
	Data    []byte    `json:"data"`
	Created time.Time `json:"created"`
	Deleted bool      `json:"deleted,omitempty"`
}

// Store is the path-addressable view of a folder.
type Store interface {
	// Get returns the first live document whose subject equals path.
	Get(path string) (*Document, error)
	// Put creates or overwrites the document at path.
	Put(path string, data []byte) error
	// Search returns live documents whose subject contains label, oldest
	// first.
	Search(label string) ([]*Document, error)
	// Delete soft-deletes a document.
	Delete(doc *Document) error
}

// Mailbox is a folder that also receives delivered messages.
type Mailbox interface {
	Store
	// Append adds a message and returns its assigned id.
	Append(doc Document) (uint64, error)
	// Restore reverses a soft delete.
	Restore(doc *Document) error
	// Compact permanently removes soft-deleted documents.
	Compact() error
}

func (d *Document) clone() *Document {
	c := *d
	c.Data = append([]byte(nil), d.Data...)
	return &c
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
