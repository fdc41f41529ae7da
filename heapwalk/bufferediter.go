package heapwalk

import (
	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
)

// bufferedIteratorCacheSize is the refill batch size.
const bufferedIteratorCacheSize = 256

// BufferedIterator drains objects of one region through a fixed
// pointer cache refilled by the populator matching the region's type.
// The iterator is reusable across regions via Reset.
type BufferedIterator struct {
	cfg    *WalkConfig
	region *heap.RegionDescriptor

	populator populator
	state     iteratorState

	cache      [bufferedIteratorCacheSize]env.Address
	cacheSize  int // slots in use, bounded by maxElementsToCache
	cacheIndex int
	cacheCount int
}

// NewBufferedIterator walks a whole region.
func NewBufferedIterator(cfg *WalkConfig, region *heap.RegionDescriptor, includeDead bool) *BufferedIterator {
	return NewBufferedIteratorRange(cfg, region, region.LowAddress(), region.HighAddress(), includeDead, bufferedIteratorCacheSize)
}

// NewBufferedIteratorRange walks [base, top) of a region with a bounded
// cache.
func NewBufferedIteratorRange(cfg *WalkConfig, region *heap.RegionDescriptor, base, top env.Address, includeDead bool, maxElementsToCache int) *BufferedIterator {
	it := &BufferedIterator{cfg: cfg, region: region}
	it.cacheSize = maxElementsToCache
	if it.cacheSize > bufferedIteratorCacheSize {
		it.cacheSize = bufferedIteratorCacheSize
	}
	it.populator = populatorFor(region.Type())
	it.state.includeDead = includeDead
	it.populator.initialize(cfg, region, &it.state)
	if base != region.LowAddress() || top != region.HighAddress() {
		it.populator.reset(cfg, region, &it.state, base, top)
	}
	it.cacheCount = it.populator.populate(cfg, it.cache[:it.cacheSize], &it.state)
	return it
}

// Reset repositions the iterator over [base, top) of the same region.
func (it *BufferedIterator) Reset(base, top env.Address) {
	it.populator.reset(it.cfg, it.region, &it.state, base, top)
	it.cacheIndex = 0
	it.cacheCount = it.populator.populate(it.cfg, it.cache[:it.cacheSize], &it.state)
}

// NextObject returns the next object, or 0 when the region is drained.
func (it *BufferedIterator) NextObject() env.Address {
	if it.cacheCount == 0 {
		return 0
	}
	if it.cacheIndex == it.cacheCount {
		it.cacheIndex = 0
		it.cacheCount = it.populator.populate(it.cfg, it.cache[:it.cacheSize], &it.state)
		if it.cacheCount == 0 {
			return 0
		}
	}
	next := it.cache[it.cacheIndex]
	it.cacheIndex++
	return next
}

// Advance skips sizeInBytes forward from the current position and
// refills the cache there.
func (it *BufferedIterator) Advance(sizeInBytes uintptr) {
	it.cacheIndex = 0
	it.populator.advance(it.cfg, sizeInBytes, &it.state)
	it.cacheCount = it.populator.populate(it.cfg, it.cache[:it.cacheSize], &it.state)
}
