// Package shm manages named shared-memory segments that a cooperating process
// on the same machine can map by name.
//
// Segment names follow the POSIX shm_open convention used by Python's
// multiprocessing.shared_memory: a short name without a leading slash. The
// creator owns the segment and unlinks it on Close.
package shm

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrUnsupported is returned on platforms without named segment support.
var ErrUnsupported = errors.New("shm: named segments are not supported on this platform")

const namePrefix = "psm_"

// Segment is a named, writable shared-memory mapping.
type Segment struct {
	name string
	data []byte
}

// Name returns the name another process passes to shm_open to map the segment.
func (s *Segment) Name() string { return s.name }

// Bytes returns the mapped memory. It is nil after Close.
func (s *Segment) Bytes() []byte { return s.data }

// Size returns the segment size in bytes.
func (s *Segment) Size() int { return len(s.data) }

func newName() string {
	return namePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
