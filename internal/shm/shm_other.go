//go:build !linux

package shm

// Supported reports whether named segments can be created on this machine.
func Supported() bool { return false }

// Create is unavailable on this platform.
func Create(size int) (*Segment, error) { return nil, ErrUnsupported }

// ReadNamed is unavailable on this platform.
func ReadNamed(name string) ([]byte, error) { return nil, ErrUnsupported }

// Close releases nothing; segments cannot be created here.
func (s *Segment) Close() error { return nil }
