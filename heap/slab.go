package heap

import (
	"unsafe"

	"github.com/orizon-lang/orizon-gc/env"
)

// Slab is the reserved backing span of the managed heap. Object
// addresses handed out by the substrate are real addresses inside this
// span; the slab stays alive for the process lifetime.
type Slab struct {
	data   []byte
	mapped bool
}

// ReserveSlab reserves size bytes of heap backing storage.
func ReserveSlab(size uintptr) (*Slab, error) {
	return reserveSlab(size)
}

// Base returns the address of the first byte of the span.
func (s *Slab) Base() env.Address {
	if len(s.data) == 0 {
		return 0
	}
	return env.Address(uintptr(unsafe.Pointer(unsafe.SliceData(s.data))))
}

// Size returns the reserved span size in bytes.
func (s *Slab) Size() uintptr {
	return uintptr(len(s.data))
}

// Contains reports whether addr falls inside the span.
func (s *Slab) Contains(addr env.Address) bool {
	base := s.Base()
	return addr >= base && addr < base+env.Address(s.Size())
}

// Bytes exposes [addr, addr+length) of the span for direct access.
func (s *Slab) Bytes(addr env.Address, length uintptr) []byte {
	base := s.Base()
	env.Assertf(addr >= base && addr+env.Address(length) <= base+env.Address(s.Size()),
		"slab access [%#x,%#x) outside span", addr, addr+env.Address(length))
	offset := uintptr(addr - base)
	return s.data[offset : offset+length]
}

// Release unmaps or drops the span. Only valid during teardown, after
// the last GC thread has exited.
func (s *Slab) Release() error {
	return s.release()
}

// Advise marks [addr, addr+length) as about to be used or no longer
// needed.
func (s *Slab) Advise(addr env.Address, length uintptr, commit bool) {
	if len(s.data) == 0 {
		return
	}
	s.advise(uintptr(addr-s.Base()), length, commit)
}
