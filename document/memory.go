package document

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MemoryStore is an in-process Mailbox.
type MemoryStore struct {
	mu     sync.RWMutex
	name   string
	nextID uint64
	docs   []*Document
	now    func() time.Time
}

// NewMemoryStore creates an empty folder called name.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, now: time.Now}
}

// Name returns the folder name.
func (m *MemoryStore) Name() string {
	return m.name
}

// Get implements Store.
func (m *MemoryStore) Get(path string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.docs {
		if !d.Deleted && d.Subject == path {
			return d.clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// Put implements Store.
func (m *MemoryStore) Put(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.docs {
		if !d.Deleted && d.Subject == path {
			d.Deleted = true
		}
	}
	m.appendLocked(Document{Subject: path, Name: path, Data: data})

	logrus.WithFields(logrus.Fields{
		"function": "Put",
		"package":  "document",
		"folder":   m.name,
		"path":     path,
		"size":     len(data),
	}).Debug("Document stored")
	return nil
}

// Search implements Store.
func (m *MemoryStore) Search(label string) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found []*Document
	for _, d := range m.docs {
		if !d.Deleted && strings.Contains(d.Subject, label) {
			found = append(found, d.clone())
		}
	}
	return found, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(doc *Document) error {
	return m.setDeleted(doc, true)
}

// Restore implements Mailbox.
func (m *MemoryStore) Restore(doc *Document) error {
	return m.setDeleted(doc, false)
}

func (m *MemoryStore) setDeleted(doc *Document, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.docs {
		if d.ID == doc.ID {
			d.Deleted = deleted
			doc.Deleted = deleted
			return nil
		}
	}
	return fmt.Errorf("%w: id %d in %s", ErrNotFound, doc.ID, m.name)
}

// Append implements Mailbox.
func (m *MemoryStore) Append(doc Document) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(doc), nil
}

func (m *MemoryStore) appendLocked(doc Document) uint64 {
	m.nextID++
	d := doc.clone()
	d.ID = m.nextID
	d.Deleted = false
	if d.Created.IsZero() {
		d.Created = m.now()
	}
	m.docs = append(m.docs, d)
	return d.ID
}

// Compact implements Mailbox.
func (m *MemoryStore) Compact() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.docs[:0]
	for _, d := range m.docs {
		if !d.Deleted {
			live = append(live, d)
		}
	}
	for i := len(live); i < len(m.docs); i++ {
		m.docs[i] = nil
	}
	m.docs = live
	return nil
}

// Len returns the number of documents, including soft-deleted ones.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
