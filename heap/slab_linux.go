//go:build linux

package heap

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/orizon-lang/orizon-gc/env"
)

// reserveSlab maps an anonymous read-write span of size bytes. The
// mapping is reserved up front; regions advise the kernel on commit and
// decommit.
func reserveSlab(size uintptr) (*Slab, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %v", env.ErrAllocationFailure, size, err)
	}
	return &Slab{data: data, mapped: true}, nil
}

func (s *Slab) release() error {
	if !s.mapped {
		s.data = nil
		return nil
	}
	data := s.data
	s.data = nil
	s.mapped = false
	return unix.Munmap(data)
}

// advise tells the kernel the span [offset, offset+length) is about to
// be used (commit) or will not be needed (decommit). Failures are
// ignored; madvise is an optimization, not a correctness requirement.
func (s *Slab) advise(offset, length uintptr, commit bool) {
	if !s.mapped || length == 0 {
		return
	}
	span := s.data[offset : offset+length]
	if commit {
		_ = unix.Madvise(span, unix.MADV_WILLNEED)
	} else {
		_ = unix.Madvise(span, unix.MADV_DONTNEED)
	}
}
