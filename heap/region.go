// Package heap owns the managed heap: the reserved address slab, the
// address-ordered table of fixed-size region descriptors, auxiliary
// regions, and the iteration surface GC threads walk regions through.
package heap

import (
	"github.com/orizon-lang/orizon-gc/env"
)

// RegionType classifies how a region's contents are laid out, which in
// turn selects how the region is iterated and swept. A region's type
// mutates across GC phases; the descriptor itself is never destroyed.
type RegionType int

const (
	// RegionReserved is set aside and holds no objects.
	RegionReserved RegionType = iota
	// RegionFree holds no objects.
	RegionFree
	// RegionAddressOrdered holds objects interleaved with free-list
	// entries, walkable in address order via dead-object headers.
	RegionAddressOrdered
	// RegionAddressOrderedIdle is an address-ordered region with no
	// live contents; equivalent to free for iteration.
	RegionAddressOrderedIdle
	// RegionAddressOrderedMarked restricts iteration to objects set in
	// the previous mark map.
	RegionAddressOrderedMarked
	// RegionBumpAllocated holds objects packed up to a high-water mark.
	RegionBumpAllocated
	// RegionBumpAllocatedIdle is a bump region with no live contents.
	RegionBumpAllocatedIdle
	// RegionBumpAllocatedMarked restricts iteration to marked objects.
	RegionBumpAllocatedMarked
	// RegionSegregatedSmall is carved into equal cells of the region's
	// cell size.
	RegionSegregatedSmall
	// RegionSegregatedLarge holds a single object.
	RegionSegregatedLarge
	// RegionArrayletLeaf holds raw array payload, never object headers.
	RegionArrayletLeaf
)

func (t RegionType) String() string {
	switch t {
	case RegionReserved:
		return "reserved"
	case RegionFree:
		return "free"
	case RegionAddressOrdered:
		return "addressOrdered"
	case RegionAddressOrderedIdle:
		return "addressOrderedIdle"
	case RegionAddressOrderedMarked:
		return "addressOrderedMarked"
	case RegionBumpAllocated:
		return "bumpAllocated"
	case RegionBumpAllocatedIdle:
		return "bumpAllocatedIdle"
	case RegionBumpAllocatedMarked:
		return "bumpAllocatedMarked"
	case RegionSegregatedSmall:
		return "segregatedSmall"
	case RegionSegregatedLarge:
		return "segregatedLarge"
	case RegionArrayletLeaf:
		return "arrayletLeaf"
	default:
		return "unknown"
	}
}

// Region property bits, selectable through the iterator mask.
const (
	PropertyCommitted uint32 = 1 << iota
	PropertyContainsObjects
	PropertySweepable
	PropertyAuxiliary

	// PropertyAll matches every region.
	PropertyAll uint32 = ^uint32(0)
)

// RegionDescriptor describes one contiguous aligned span of the heap.
// Invariant: low <= alloc <= high for bump-allocated regions.
type RegionDescriptor struct {
	low  env.Address
	high env.Address

	regionType RegionType
	committed  bool

	// alloc is the bump high-water for bump-allocated regions.
	alloc env.Address

	// cellSize is the cell grain for segregated regions, 0 otherwise.
	cellSize uintptr

	// subSpace is the owning memory subspace, nil until assigned.
	subSpace env.MemorySubSpace

	// memorySpace tags the region for space-filtered iteration.
	memorySpace *MemorySpace

	auxiliary bool
	next      *RegionDescriptor // auxiliary list linkage
}

// LowAddress returns the inclusive base of the region.
func (r *RegionDescriptor) LowAddress() env.Address { return r.low }

// HighAddress returns the exclusive top of the region.
func (r *RegionDescriptor) HighAddress() env.Address { return r.high }

// Size returns the region span in bytes.
func (r *RegionDescriptor) Size() uintptr { return uintptr(r.high - r.low) }

// Type returns the current region type.
func (r *RegionDescriptor) Type() RegionType { return r.regionType }

// SetType mutates the region type across a GC phase boundary.
func (r *RegionDescriptor) SetType(t RegionType) { r.regionType = t }

// IsCommitted reports whether the region's storage is committed.
func (r *RegionDescriptor) IsCommitted() bool { return r.committed }

// Alloc returns the bump high-water mark.
func (r *RegionDescriptor) Alloc() env.Address { return r.alloc }

// SetAlloc advances the bump high-water mark.
func (r *RegionDescriptor) SetAlloc(a env.Address) {
	env.Assertf(a >= r.low && a <= r.high, "region alloc %#x outside [%#x,%#x)", a, r.low, r.high)
	r.alloc = a
}

// CellSize returns the segregated cell grain, 0 for non-segregated
// regions.
func (r *RegionDescriptor) CellSize() uintptr { return r.cellSize }

// SetCellSize assigns the segregated cell grain.
func (r *RegionDescriptor) SetCellSize(size uintptr) { r.cellSize = size }

// SubSpace returns the owning memory subspace.
func (r *RegionDescriptor) SubSpace() env.MemorySubSpace { return r.subSpace }

// SetSubSpace assigns the owning memory subspace.
func (r *RegionDescriptor) SetSubSpace(s env.MemorySubSpace) { r.subSpace = s }

// MemorySpace returns the memory space the region belongs to.
func (r *RegionDescriptor) MemorySpace() *MemorySpace { return r.memorySpace }

// SetMemorySpace tags the region with a memory space.
func (r *RegionDescriptor) SetMemorySpace(s *MemorySpace) { r.memorySpace = s }

// ContainsObjects reports whether the region type can hold objects.
func (r *RegionDescriptor) ContainsObjects() bool {
	switch r.regionType {
	case RegionAddressOrdered, RegionAddressOrderedMarked,
		RegionBumpAllocated, RegionBumpAllocatedMarked,
		RegionSegregatedSmall, RegionSegregatedLarge:
		return true
	default:
		return false
	}
}

// IsSweepable reports whether the region participates in sweeping.
func (r *RegionDescriptor) IsSweepable() bool {
	return r.committed && r.ContainsObjects()
}

// Properties returns the property bits for mask-filtered iteration.
func (r *RegionDescriptor) Properties() uint32 {
	var p uint32
	if r.committed {
		p |= PropertyCommitted
	}
	if r.ContainsObjects() {
		p |= PropertyContainsObjects
	}
	if r.IsSweepable() {
		p |= PropertySweepable
	}
	if r.auxiliary {
		p |= PropertyAuxiliary
	}
	return p
}

// MemorySpace groups subspaces; regions are filtered by it during
// space-scoped walks. The substrate only needs its identity.
type MemorySpace struct {
	Name string
}
