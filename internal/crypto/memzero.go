package crypto

import "runtime"

// Wipe zeroes b in place. It is best-effort: copies the runtime made
// earlier are not reached.
//
//go:noinline
func Wipe(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}
