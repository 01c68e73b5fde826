//go:build unix

package builder

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// readFile maps path read-only and copies it out.
func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return nil, nil
	}
	if st.Size() > 1<<32 {
		return nil, fmt.Errorf("%w: %s", ErrImageTooLarge, path)
	}
	m, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("builder: mmap %s: %w", path, err)
	}
	defer unix.Munmap(m)
	return append([]byte(nil), m...), nil
}
