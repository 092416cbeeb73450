package document

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/boltdb/bolt"
	"github.com/sirupsen/logrus"
)

// dbTimeout is how long Open waits for the file lock.
const dbTimeout = time.Second

// DB is a boltdb file holding one bucket per folder.
type DB struct {
	db *bolt.DB
}

// Open opens or creates the database file at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: dbTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreRead, path, err)
	}
	return &DB{db: db}, nil
}

// Close releases the database file.
func (d *DB) Close() error {
	return d.db.Close()
}

// Folder returns the folder called name, creating its bucket if needed.
func (d *DB) Folder(name string) (*BoltStore, error) {
	err := d.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create folder %s: %v", ErrStoreWrite, name, err)
	}
	return &BoltStore{db: d.db, bucket: []byte(name), now: time.Now}, nil
}

// BoltStore is a Mailbox kept in one boltdb bucket. Keys are big-endian
// sequence numbers so cursor order is append order.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

// Get implements Store.
func (b *BoltStore) Get(path string) (*Document, error) {
	var found *Document
	err := b.view(func(bucket *bolt.Bucket) error {
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			d, err := decode(v)
			if err != nil {
				return err
			}
			if !d.Deleted && d.Subject == path {
				found = d
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return found, nil
}

// Put implements Store.
func (b *BoltStore) Put(path string, data []byte) error {
	return b.update(func(bucket *bolt.Bucket) error {
		var stale [][]byte
		var staleDocs []*Document
		err := bucket.ForEach(func(k, v []byte) error {
			d, err := decode(v)
			if err != nil {
				return err
			}
			if !d.Deleted && d.Subject == path {
				stale = append(stale, append([]byte(nil), k...))
				staleDocs = append(staleDocs, d)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i, d := range staleDocs {
			d.Deleted = true
			if err := put(bucket, stale[i], d); err != nil {
				return err
			}
		}

		_, err = b.appendTx(bucket, Document{Subject: path, Name: path, Data: data})
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Put",
				"package":  "document",
				"folder":   string(b.bucket),
				"path":     path,
				"size":     len(data),
			}).Debug("Document stored")
		}
		return err
	})
}

// Search implements Store.
func (b *BoltStore) Search(label string) ([]*Document, error) {
	var found []*Document
	err := b.view(func(bucket *bolt.Bucket) error {
		return bucket.ForEach(func(_, v []byte) error {
			d, err := decode(v)
			if err != nil {
				return err
			}
			if !d.Deleted && strings.Contains(d.Subject, label) {
				found = append(found, d)
			}
			return nil
		})
	})
	return found, err
}

// Delete implements Store.
func (b *BoltStore) Delete(doc *Document) error {
	return b.setDeleted(doc, true)
}

// Restore implements Mailbox.
func (b *BoltStore) Restore(doc *Document) error {
	return b.setDeleted(doc, false)
}

func (b *BoltStore) setDeleted(doc *Document, deleted bool) error {
	return b.update(func(bucket *bolt.Bucket) error {
		k := itob(doc.ID)
		v := bucket.Get(k)
		if v == nil {
			return fmt.Errorf("%w: id %d in %s", ErrNotFound, doc.ID, b.bucket)
		}
		d, err := decode(v)
		if err != nil {
			return err
		}
		d.Deleted = deleted
		if err := put(bucket, k, d); err != nil {
			return err
		}
		doc.Deleted = deleted
		return nil
	})
}

// Append implements Mailbox.
func (b *BoltStore) Append(doc Document) (uint64, error) {
	var id uint64
	err := b.update(func(bucket *bolt.Bucket) error {
		var err error
		id, err = b.appendTx(bucket, doc)
		return err
	})
	return id, err
}

func (b *BoltStore) appendTx(bucket *bolt.Bucket, doc Document) (uint64, error) {
	id, err := bucket.NextSequence()
	if err != nil {
		return 0, err
	}
	doc.ID = id
	doc.Deleted = false
	if doc.Created.IsZero() {
		doc.Created = b.now()
	}
	return id, put(bucket, itob(id), &doc)
}

// Compact implements Mailbox.
func (b *BoltStore) Compact() error {
	return b.update(func(bucket *bolt.Bucket) error {
		var dead [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			d, err := decode(v)
			if err != nil {
				return err
			}
			if d.Deleted {
				dead = append(dead, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range dead {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		if len(dead) > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "Compact",
				"package":  "document",
				"folder":   string(b.bucket),
				"removed":  len(dead),
			}).Debug("Folder compacted")
		}
		return nil
	})
}

func (b *BoltStore) view(fn func(*bolt.Bucket) error) error {
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("folder %s does not exist", b.bucket)
		}
		return fn(bucket)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreRead, err)
	}
	return nil
}

func (b *BoltStore) update(fn func(*bolt.Bucket) error) error {
	var notFound error
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("folder %s does not exist", b.bucket)
		}
		err := fn(bucket)
		if isNotFound(err) {
			notFound = err
		}
		return err
	})
	if notFound != nil {
		return notFound
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "update",
			"package":  "document",
			"folder":   string(b.bucket),
			"error":    err.Error(),
		}).Error("Store write failed")
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	return nil
}

func put(bucket *bolt.Bucket, k []byte, d *Document) error {
	v, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return bucket.Put(k, v)
}

func decode(v []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(v, &d); err != nil {
		return nil, fmt.Errorf("corrupt document record: %w", err)
	}
	return &d, nil
}

func itob(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}
