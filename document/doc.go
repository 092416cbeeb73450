// Package document provides the path-addressable document store the protocol
// persists its state in, plus a generic load-or-default / mutate / save
// wrapper for the account's JSON documents.
//
// A Store is a mail folder seen as a key/value store: every document is one
// message whose subject is its path and whose single attachment carries the
// data. Put soft-deletes the previous message with the same subject and
// appends a replacement, so a write is last-writer-wins at document
// granularity. Deleted documents stay in the folder until Compact.
//
// Two implementations are provided. MemoryStore keeps everything in process
// and backs tests and local delivery. BoltStore keeps a durable local mirror
// of a folder in a boltdb bucket.
package document
