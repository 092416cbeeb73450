package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opd-ai/imapsn/document"
	"github.com/sirupsen/logrus"
)

// Path is the ledger's document path.
const Path = "/person-status-map.json"

// FreshnessThreshold is how long one direction may stay silent before a
// relationship is no longer active.
const FreshnessThreshold = 72 * time.Hour

// ErrCorruptLedgerData is returned when an entry lacks a timestamp the
// freshness rule needs.
var ErrCorruptLedgerData = errors.New("relationship ledger is corrupted")

// Status is a relationship's state.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusAsleep    Status = "asleep"
	StatusNeglected Status = "neglected"
)

// Entry is one relationship record.
type Entry struct {
	Status       Status     `json:"status"`
	LastSent     *time.Time `json:"last-sent,omitempty"`
	LastReceived *time.Time `json:"last-received,omitempty"`
}

// Record is an entry together with its key.
type Record struct {
	PeerID string
	Entry
}

// TimeProvider abstracts the clock for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Ledger is the account's relationship ledger.
type Ledger struct {
	doc          *document.Versioned[map[string]Entry]
	timeProvider TimeProvider
}

// Load reads the ledger from store, or starts an empty one. A nil tp uses the
// system clock.
func Load(store document.Store, newID func() string, tp TimeProvider) (*Ledger, error) {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	doc, err := document.Load(store, Path, newID, func() map[string]Entry {
		return map[string]Entry{}
	})
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return &Ledger{doc: doc, timeProvider: tp}, nil
}

// Now returns the ledger clock's current time, truncated to seconds.
func (l *Ledger) Now() time.Time {
	return l.timeProvider.Now().UTC().Truncate(time.Second)
}

// SetEntry replaces the entry for peerID.
func (l *Ledger) SetEntry(peerID string, status Status, lastSent time.Time, lastReceived *time.Time) {
	sent := lastSent
	l.doc.Data[peerID] = Entry{Status: status, LastSent: &sent, LastReceived: copyTime(lastReceived)}
}

// Get returns the entry for peerID, or an unknown entry if there is none.
func (l *Ledger) Get(peerID string) Entry {
	e, ok := l.doc.Data[peerID]
	if !ok {
		return Entry{Status: StatusUnknown}
	}
	return Entry{Status: e.Status, LastSent: copyTime(e.LastSent), LastReceived: copyTime(e.LastReceived)}
}

// Has reports whether an entry exists for peerID.
func (l *Ledger) Has(peerID string) bool {
	_, ok := l.doc.Data[peerID]
	return ok
}

// Delete removes the entry for peerID.
func (l *Ledger) Delete(peerID string) {
	delete(l.doc.Data, peerID)
}

// NoteSend records an outbound message to peerID. The entry becomes asleep
// when nothing was received for longer than FreshnessThreshold.
func (l *Ledger) NoteSend(peerID string) error {
	now := l.Now()
	e := l.Get(peerID)

	status, err := freshness(e, e.LastReceived, now, StatusAsleep)
	if err != nil {
		return fmt.Errorf("note send to %s: %w", peerID, err)
	}
	l.doc.Data[peerID] = Entry{Status: status, LastSent: &now, LastReceived: e.LastReceived}
	l.logTransition("NoteSend", peerID, e.Status, status)
	return nil
}

// NoteReceived records an inbound message from peerID. The entry becomes
// neglected when nothing was sent for longer than FreshnessThreshold.
func (l *Ledger) NoteReceived(peerID string) error {
	now := l.Now()
	e := l.Get(peerID)

	status, err := freshness(e, e.LastSent, now, StatusNeglected)
	if err != nil {
		return fmt.Errorf("note receive from %s: %w", peerID, err)
	}
	l.doc.Data[peerID] = Entry{Status: status, LastSent: e.LastSent, LastReceived: &now}
	l.logTransition("NoteReceived", peerID, e.Status, status)
	return nil
}

// freshness derives the new status from the counterpart timestamp.
func freshness(e Entry, counterpart *time.Time, now time.Time, stale Status) (Status, error) {
	switch e.Status {
	case StatusUnknown, StatusPending, StatusActive, StatusAsleep, StatusNeglected:
	default:
		return "", fmt.Errorf("%w: unrecognized status %q", ErrCorruptLedgerData, e.Status)
	}

	if counterpart == nil {
		if e.Status == StatusUnknown || e.Status == StatusPending {
			return StatusActive, nil
		}
		return "", fmt.Errorf("%w: %s entry has no counterpart timestamp", ErrCorruptLedgerData, e.Status)
	}
	if now.Sub(*counterpart) > FreshnessThreshold {
		return stale, nil
	}
	return StatusActive, nil
}

func (l *Ledger) logTransition(function, peerID string, from, to Status) {
	if from == to {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": function,
		"package":  "ledger",
		"peer_id":  peerID,
		"from":     from,
		"to":       to,
	}).Debug("Relationship status changed")
}

// Records returns every entry sorted by key.
func (l *Ledger) Records() []Record {
	records := make([]Record, 0, len(l.doc.Data))
	for id := range l.doc.Data {
		records = append(records, Record{PeerID: id, Entry: l.Get(id)})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PeerID < records[j].PeerID })
	return records
}

// Save writes the whole ledger back to the store.
func (l *Ledger) Save() error {
	if err := l.doc.Save(); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
