package env

// Interfaces consumed from the host runtime. The substrate treats
// object contents, pool bookkeeping and collector policy as opaque
// collaborators behind these types.

// ObjectModel interprets object headers. Object encoding is owned by
// the language glue; the substrate only asks for sizes and dead-object
// markers.
type ObjectModel interface {
	// ConsumedSizeInBytes returns the full byte length, header
	// included, of the live object at addr.
	ConsumedSizeInBytes(addr Address) uintptr

	// InitializeMinimumSizeObject writes a minimum-valid-object header
	// at addr, used for trailing dummy padding in a TLH.
	InitializeMinimumSizeObject(e *Environment, addr Address)

	// IsDeadObject reports whether addr holds a free-list filler in an
	// address-ordered region.
	IsDeadObject(addr Address) bool

	// SizeInBytesDeadObject returns the span of the dead object at
	// addr.
	SizeInBytesDeadObject(addr Address) uintptr

	// CompressObjectReferences reports whether the heap uses 4-byte
	// references; informational for bitmap sizing.
	CompressObjectReferences() bool
}

// MemoryPool hands out and recycles TLH-sized spans of heap.
type MemoryPool interface {
	// AllocateTLH acquires a span of up to maximumSize bytes. ok is
	// false when the pool is exhausted.
	AllocateTLH(e *Environment, maximumSize uintptr) (base, top Address, ok bool)

	// AbandonTLHHeapChunk returns the unused remainder [base, top) of a
	// TLH to the pool. The pool writes whatever filler its free-list
	// discipline requires.
	AbandonTLHHeapChunk(base, top Address)

	// MinimumFreeEntrySize is the smallest span the pool will track as
	// free.
	MinimumFreeEntrySize() uintptr
}

// MemorySubSpace is the allocation fall-back path for requests that do
// not fit the TLH discipline, and the carrier of object flags.
type MemorySubSpace interface {
	// AllocateObject services a non-TLH object allocation. Returns 0
	// on exhaustion.
	AllocateObject(e *Environment, desc *AllocateDescription) Address

	// AllocateArrayletLeaf services an arraylet leaf allocation.
	AllocateArrayletLeaf(e *Environment, desc *AllocateDescription) Address

	// ObjectFlags is the flags template stamped on objects allocated
	// from this subspace.
	ObjectFlags() uintptr

	// DefaultPool is the pool TLH refreshes draw from.
	DefaultPool() MemoryPool
}

// GlobalCollector exposes the collector hooks the allocation caches
// cooperate with.
type GlobalCollector interface {
	// ReservedForGCAllocCacheSize is the size in bytes of the TLH
	// reservation window; 0 disables the window.
	ReservedForGCAllocCacheSize() uintptr

	// PreAllocCacheFlush is notified before a TLH is abandoned, with
	// the cache base and its last iterable object, so concurrent
	// barriers can process the cache contents.
	PreAllocCacheFlush(e *Environment, base Address, lastObject Address)
}

// HeapSizer reports heap occupancy to consumers that must not depend on
// the heap package directly.
type HeapSizer interface {
	// ActiveMemorySize is the committed, in-use heap size in bytes.
	ActiveMemorySize() uintptr

	// MaximumMemorySize is the reserved heap ceiling in bytes.
	MaximumMemorySize() uintptr
}
