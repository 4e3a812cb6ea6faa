package secret

import "golang.org/x/sys/unix"

// dontDump keeps the region out of core dumps. Older kernels may refuse;
// the region is still usable.
func dontDump(p []byte) { _ = unix.Madvise(p, unix.MADV_DONTDUMP) }
