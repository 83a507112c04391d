//go:build linux

package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// shmDir is where glibc's shm_open places named segments.
const shmDir = "/dev/shm"

// Supported reports whether named segments can be created on this machine.
func Supported() bool {
	st, err := os.Stat(shmDir)
	return err == nil && st.IsDir()
}

// Create allocates a new segment of size bytes under a fresh unique name.
func Create(size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid size %d", size)
	}
	name := newName()
	path := filepath.Join(shmDir, name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", name, err)
	}
	// The mapping stays valid after the descriptor is closed.
	defer unix.Close(fd)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("shm: truncate %s: %w", name, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}
	return &Segment{name: name, data: data}, nil
}

// ReadNamed returns a copy of the contents of the segment called name.
func ReadNamed(name string) ([]byte, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("shm: invalid segment name %q", name)
	}
	return os.ReadFile(filepath.Join(shmDir, name))
}

// Close unmaps and unlinks the segment. Calling Close twice is a no-op.
func (s *Segment) Close() error {
	if s == nil || s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if uerr := unix.Unlink(filepath.Join(shmDir, s.name)); uerr != nil && !errors.Is(uerr, unix.ENOENT) {
		err = errors.Join(err, fmt.Errorf("shm: unlink %s: %w", s.name, uerr))
	}
	return err
}
