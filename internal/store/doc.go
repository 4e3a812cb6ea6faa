// Package store provides the encrypted on-disk key store for a linked device.
//
// A KeyStore owns every secret the device holds: the long-term identity, the
// ephemeral link keys of a pairing attempt and the keys of the single
// DeviceSession. Secrets live in locked memory (see package secret) and never
// leave the store; callers receive capability handles and results of
// operations (signatures, sealed frames, MACs) instead of raw keys.
//
// On disk, a random store key is wrapped with the passphrase using an age
// scrypt recipient (store.key.age). Each record is JSON sealed with
// XChaCha20-Poly1305 under the store key, bound to its record kind, and
// written via a temp file followed by an atomic rename. Every mutation is
// persisted before it takes effect in memory, so a crash never rewinds a
// chain counter.
package store
