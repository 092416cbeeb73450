// Package friend implements the friend handshake.
//
// A request creates a pending ledger entry keyed by the request's activity
// id. The recipient accepts automatically when the request is signed by the
// key it carries, trusts that key and answers with a response whose
// inReplyTo names the request. The requester only looks at a response that
// correlates with one of its pending entries; the pending entry is then
// replaced by an active entry keyed by the peer's person id.
//
// Both legs trust the key the peer presents (trust on first use). The
// request and the response are ordinary mail; see package mail for routing.
package friend
