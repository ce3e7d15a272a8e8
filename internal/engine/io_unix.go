//go:build unix

package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapHeader maps the first n bytes of fd read/write, shared with the
// backing file so that positioned writes through the same fd (pwriteAt
// below) are coherently visible to readers of the mapping without an extra
// round-trip through the page cache. This is the same MAP_SHARED contract
// the header mmap of the source package this is modeled on relies on.
func mmapHeader(fd int, n int64) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("engine: mmap: %w", err)
	}

	return data, nil
}

func munmapHeader(data []byte) error {
	if data == nil {
		return nil
	}

	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("engine: munmap: %w", err)
	}

	return nil
}

// pwriteAt performs a positioned write that doesn't disturb any file cursor,
// per §9's cross-platform positioned I/O note: the only requirement is that
// the primitive writes at an absolute offset without a seek.
func pwriteAt(fd int, b []byte, off int64) error {
	for len(b) > 0 {
		n, err := unix.Pwrite(fd, b, off)
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return fmt.Errorf("engine: pwrite: %w", err)
		}

		b = b[n:]
		off += int64(n)
	}

	return nil
}

// preadAt performs a positioned read that doesn't disturb any file cursor.
func preadAt(fd int, b []byte, off int64) error {
	for len(b) > 0 {
		n, err := unix.Pread(fd, b, off)
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return fmt.Errorf("engine: pread: %w", err)
		}

		if n == 0 {
			return fmt.Errorf("engine: pread: short read at offset %d", off)
		}

		b = b[n:]
		off += int64(n)
	}

	return nil
}

func fsyncFd(fd int) error {
	if err := unix.Fsync(fd); err != nil {
		return fmt.Errorf("engine: fsync: %w", err)
	}

	return nil
}

func ftruncateFd(fd int, size int64) error {
	if err := unix.Ftruncate(fd, size); err != nil {
		return fmt.Errorf("engine: ftruncate: %w", err)
	}

	return nil
}

func openFile(path string, flags int, perm uint32) (int, error) {
	fd, err := unix.Open(path, flags, perm)
	if err != nil {
		return -1, fmt.Errorf("engine: open %s: %w", path, err)
	}

	return fd, nil
}

func closeFd(fd int) error {
	return unix.Close(fd)
}

func fstatSize(fd int) (int64, error) {
	var st unix.Stat_t

	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("engine: fstat: %w", err)
	}

	return st.Size, nil
}
