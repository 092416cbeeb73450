// Package ledger implements the relationship ledger: a persisted map from peer
// identifier to relationship status and freshness timestamps.
//
// # Statuses
//
// An entry is keyed by the id of an outgoing friend-request activity while
// the handshake is pending and by the peer's person id once it completes.
//
//   - unknown: no entry exists
//   - pending: a friend request was sent and no response has arrived
//   - active: traffic flows both ways within FreshnessThreshold
//   - asleep: we keep sending but have heard nothing for longer than the threshold
//   - neglected: they keep sending but we have not for longer than the threshold
//
// NoteSend and NoteReceived re-derive the status from the two timestamps on
// every event. When the counterpart timestamp has never been set on an
// unknown or pending entry the event itself becomes the baseline and the
// entry is active. An established entry without its counterpart timestamp is
// reported as ErrCorruptLedgerData.
//
// # Deterministic Testing
//
// Pass a TimeProvider to Load to control the clock:
//
//	type mockTimeProvider struct{ now time.Time }
//	func (m *mockTimeProvider) Now() time.Time { return m.now }
//
//	l, _ := ledger.Load(store, newID, &mockTimeProvider{now: start})
package ledger
