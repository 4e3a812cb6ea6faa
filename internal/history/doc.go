// Package history is the local message history: one record per message
// (sender, conversation, message id) plus an append-only log of every
// revision that changed it.
//
// Apply is the single write path for message content and totally orders
// revisions of a message: a higher revision replaces the stored one, an
// equal revision with identical content is a no-op, an equal revision with
// different content is resolved last-writer-wins by envelope timestamp
// (a tie keeps the stored record), and a lower revision is stale. Delivery
// status only ever moves forward.
//
// Records are kept in SQLite (modernc.org/sqlite, no cgo) with bodies in
// the wire codec's encoding.
package history
