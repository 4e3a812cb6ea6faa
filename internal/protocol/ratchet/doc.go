// Package ratchet implements the one-way chain ratchet that rotates the
// secure channel's per-direction keys.
//
// Each direction of a linked session owns a chain: a 32-byte key, an epoch
// and a frame counter. When a rotation is due the sender replaces its key
// with BLAKE3-DeriveKey(key) and increments the epoch; the receiver follows
// when it first sees the new epoch. Old keys cannot be recomputed from new
// ones, so a compromised key does not expose earlier traffic.
//
// Counters are global to the chain and never reset on rotation. A receiver
// accepts a frame only if its counter is exactly the next expected value.
//
// Seal, Open and Resync are pure: they return the successor Chain and leave
// the input untouched, so callers can persist the successor before
// committing it. Callers serialise access per direction.
package ratchet
