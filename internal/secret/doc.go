// Package secret is the key arena behind the key store's capability handles.
//
// A Buffer holds key material outside the Go heap where the platform
// allows it: an anonymous mmap region, locked against swap and excluded
// from core dumps. When locking is refused (small RLIMIT_MEMLOCK in
// containers) the region is still private and still zeroed on Close; the
// Locked method reports which guarantee applies.
//
// Buffers are handed around instead of raw key bytes. Only the package that
// owns a buffer reads it, through View.
package secret
