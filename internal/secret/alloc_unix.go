//go:build unix

package secret

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func allocate(size int) (region, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return region{}, fmt.Errorf("secret: mmap: %w", err)
	}
	locked := unix.Mlock(data) == nil
	dontDump(data)
	return region{
		data:   data,
		locked: locked,
		free: func(p []byte) error {
			if locked {
				_ = unix.Munlock(p)
			}
			if err := unix.Munmap(p); err != nil {
				return fmt.Errorf("secret: munmap: %w", err)
			}
			return nil
		},
	}, nil
}
