package tlh

import (
	"github.com/orizon-lang/orizon-gc/env"
)

// CellSource supplies runs of equal-size cells for the segregated
// allocation caches and takes unused runs back on flush.
type CellSource interface {
	// AllocateCells acquires up to desiredBytes of cells for the size
	// class. ok is false on exhaustion.
	AllocateCells(e *env.Environment, sizeClass int, cellSize, desiredBytes uintptr) (base, top env.Address, ok bool)

	// ReturnCells takes back the unused run [base, top).
	ReturnCells(e *env.Environment, sizeClass int, base, top env.Address)
}

// segregatedCache is one size class's bump window.
type segregatedCache struct {
	current env.Address
	top     env.Address

	// replenishSize follows the allocation cache schedule: starts at
	// the initial size, grows by the increment per replenish, capped at
	// the maximum.
	replenishSize uintptr
}

// SegregatedAllocationInterface is the per-thread allocation front end
// for segregated heaps: one bump cache per size class, replenished in
// runs whose size grows with use.
type SegregatedAllocationInterface struct {
	extensions *env.Extensions
	source     CellSource

	caches []segregatedCache

	// cachedBytes tracks bytes sitting unallocated in caches, for the
	// flush accounting.
	cachedBytes uintptr
}

// NewSegregatedAllocationInterface builds caches for classCount size
// classes backed by source.
func NewSegregatedAllocationInterface(extensions *env.Extensions, classCount int, source CellSource) *SegregatedAllocationInterface {
	si := &SegregatedAllocationInterface{
		extensions: extensions,
		source:     source,
		caches:     make([]segregatedCache, classCount),
	}
	initial := extensions.Options().AllocationCacheInitialSize
	for i := range si.caches {
		si.caches[i].replenishSize = initial
	}
	return si
}

// AllocateFromCache bumps one cell of cellSize from the class cache,
// replenishing the cache when empty. Returns 0 on exhaustion.
func (si *SegregatedAllocationInterface) AllocateFromCache(e *env.Environment, sizeClass int, cellSize uintptr) env.Address {
	cache := &si.caches[sizeClass]
	if uintptr(cache.top-cache.current) < cellSize {
		if !si.replenish(e, sizeClass, cellSize) {
			return 0
		}
		cache = &si.caches[sizeClass]
	}
	result := cache.current
	cache.current += env.Address(cellSize)
	si.cachedBytes -= cellSize
	return result
}

func (si *SegregatedAllocationInterface) replenish(e *env.Environment, sizeClass int, cellSize uintptr) bool {
	options := si.extensions.Options()
	cache := &si.caches[sizeClass]

	// Return the stub of the old window before replacing it.
	if cache.top > cache.current {
		si.source.ReturnCells(e, sizeClass, cache.current, cache.top)
		si.cachedBytes -= uintptr(cache.top - cache.current)
	}

	desired := cache.replenishSize
	if desired < cellSize {
		desired = cellSize
	}
	base, top, ok := si.source.AllocateCells(e, sizeClass, cellSize, desired)
	if !ok {
		cache.current = 0
		cache.top = 0
		return false
	}
	cache.current = base
	cache.top = top
	si.cachedBytes += uintptr(top - base)

	if cache.replenishSize < options.AllocationCacheMaximumSize {
		cache.replenishSize += options.AllocationCacheIncrementSize
		if cache.replenishSize > options.AllocationCacheMaximumSize {
			cache.replenishSize = options.AllocationCacheMaximumSize
		}
	}
	return true
}

// Flush returns every cache window to its source at a safe point and
// resets the replenish schedule.
func (si *SegregatedAllocationInterface) Flush(e *env.Environment) {
	initial := si.extensions.Options().AllocationCacheInitialSize
	for i := range si.caches {
		cache := &si.caches[i]
		if cache.top > cache.current {
			si.source.ReturnCells(e, i, cache.current, cache.top)
		}
		cache.current = 0
		cache.top = 0
		cache.replenishSize = initial
	}
	si.cachedBytes = 0
}

// CachedBytes reports bytes currently held in caches.
func (si *SegregatedAllocationInterface) CachedBytes() uintptr { return si.cachedBytes }

// ReplenishSize reports the class's current replenish target.
func (si *SegregatedAllocationInterface) ReplenishSize(sizeClass int) uintptr {
	return si.caches[sizeClass].replenishSize
}
