package markmap

import (
	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
)

// parallelClearMultiplier gives each active thread roughly this many
// clear units for load balancing.
const parallelClearMultiplier = 32

// MarkMap is the live-object bitmap for a collection cycle.
type MarkMap struct {
	*HeapMap
}

// NewMarkMap builds a mark map covering the heap.
func NewMarkMap(h *heap.Heap) *MarkMap {
	return &MarkMap{HeapMap: NewHeapMap(h.Base(), h.MaximumMemorySize(), false)}
}

// ClearUnitSize computes the heap span one clear work unit covers for
// the given active thread count, rounded up to heap alignment.
func ClearUnitSize(heapSize uintptr, threadCount int) uintptr {
	factor := uintptr(1)
	if threadCount > 1 {
		factor = uintptr(threadCount) * parallelClearMultiplier
	}
	unit := heapSize / factor
	if unit == 0 {
		unit = env.HeapAlignment
	}
	return roundToCeiling(env.HeapAlignment, unit)
}

// InitializeMarkMap zeroes the map ranges covering all committed
// regions. Each GC thread walks the same region/chunk sequence and
// claims units through the dispatcher work-unit counter, so the clear
// parallelizes without partitioning up front.
func (m *MarkMap) InitializeMarkMap(e *env.Environment, manager *heap.RegionManager, heapSize uintptr) {
	threadCount := 1
	if task := e.CurrentTask(); task != nil {
		threadCount = task.ThreadCount()
	}
	unitSize := ClearUnitSize(heapSize, threadCount)

	it := heap.NewMaskedRegionIterator(manager, heap.PropertyCommitted)
	for region := it.NextRegion(); region != nil; region = it.NextRegion() {
		clearAddress := region.LowAddress()
		remaining := region.Size()
		for remaining != 0 {
			currentSize := unitSize
			if currentSize > remaining {
				currentSize = remaining
			}
			if e.HandleNextWorkUnit() {
				// Derive both word indices from addresses so the two
				// ends round identically.
				lowOffset := uintptr(clearAddress - m.baseDelta)
				highOffset := lowOffset + currentSize
				m.zeroWordRange(lowOffset>>m.indexShift, highOffset>>m.indexShift)
			}
			clearAddress += env.Address(currentSize)
			remaining -= currentSize
		}
	}
}

// SetBitsForRegion sets or clears the full map range of a region.
func (m *MarkMap) SetBitsForRegion(region *heap.RegionDescriptor, clear bool) uintptr {
	return m.SetBitsInRange(region.LowAddress(), region.HighAddress(), clear)
}

// CheckBitsForRegion reports whether the region's map range is fully
// clear.
func (m *MarkMap) CheckBitsForRegion(region *heap.RegionDescriptor) bool {
	return m.NumberBitsInRange(region.LowAddress(), region.HighAddress()) == 0
}

func roundToCeiling(granularity, value uintptr) uintptr {
	return (value + granularity - 1) / granularity * granularity
}
