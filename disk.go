package uzak

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeSpace reports the number of bytes available to unprivileged users on
// the filesystem containing path.
//
// Callers use this as an advisory admission check before starting a
// transfer. The value is a snapshot: nothing is reserved, so two transfers
// admitted concurrently can each pass the check yet jointly exceed capacity.
func FreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
