// Package tlh implements the thread-local heap allocation caches: the
// bump-pointer TLH with refresh, abandon and reuse, the GC reservation
// window, and the segregated per-size-class cache.
package tlh

import (
	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
	"github.com/orizon-lang/orizon-gc/stats"
)

// abandonedEntry records a discarded TLH remainder kept for reuse. The
// list is ordered by ascending size; nodes recycle through a free list
// so the refresh path does not allocate.
type abandonedEntry struct {
	base     env.Address
	size     uintptr
	pool     env.MemoryPool
	subSpace env.MemorySubSpace
	next     *abandonedEntry
}

// AllocationSupport is one bump-pointer TLH. Invariant across its
// lifetime: base <= alloc <= top <= realTop. top sits below realTop
// exactly when a GC reservation window is armed.
type AllocationSupport struct {
	extensions *env.Extensions
	slab       *heap.Slab

	base    env.Address
	alloc   env.Address
	top     env.Address
	realTop env.Address

	objectFlags    uintptr
	memoryPool     env.MemoryPool
	memorySubSpace env.MemorySubSpace

	refreshSize        uintptr
	reservedBytesForGC uintptr

	// zeroTLH selects whether this cache participates in batch
	// clearing; the non-zero twin never does.
	zeroTLH bool

	abandonedList     *abandonedEntry
	abandonedListSize int
	freeNodes         *abandonedEntry

	stats           *stats.AllocationStats
	frequentObjects *stats.FrequentObjectsStats
}

// NewAllocationSupport builds a TLH bound to the thread's stats.
// frequentObjects may be nil when sampling is disabled.
func NewAllocationSupport(extensions *env.Extensions, slab *heap.Slab, zeroTLH bool,
	allocStats *stats.AllocationStats, frequentObjects *stats.FrequentObjectsStats) *AllocationSupport {
	return &AllocationSupport{
		extensions:      extensions,
		slab:            slab,
		zeroTLH:         zeroTLH,
		refreshSize:     extensions.Options().TLHInitialSize,
		stats:           allocStats,
		frequentObjects: frequentObjects,
	}
}

// Base returns the TLH base, 0 when no cache is installed.
func (t *AllocationSupport) Base() env.Address { return t.base }

// Alloc returns the bump pointer.
func (t *AllocationSupport) Alloc() env.Address { return t.alloc }

// Top returns the usable limit; allocation never crosses it.
func (t *AllocationSupport) Top() env.Address { return t.top }

// RealTop returns the true high-water, above any reservation window.
func (t *AllocationSupport) RealTop() env.Address { return t.realTop }

// RefreshSize returns the current refresh target.
func (t *AllocationSupport) RefreshSize() uintptr { return t.refreshSize }

// AbandonedListSize returns the current abandoned-list length.
func (t *AllocationSupport) AbandonedListSize() int { return t.abandonedListSize }

// ReservedBytesForGC returns the armed reservation window size.
func (t *AllocationSupport) ReservedBytesForGC() uintptr { return t.reservedBytesForGC }

// availableSize is the space the fast path may bump through.
func (t *AllocationSupport) availableSize() uintptr { return uintptr(t.top - t.alloc) }

// usedSize is the bytes bumped since the last refresh.
func (t *AllocationSupport) usedSize() uintptr { return uintptr(t.alloc - t.base) }

// remainingSize is the unbumped span up to the true high-water.
func (t *AllocationSupport) remainingSize() uintptr { return uintptr(t.realTop - t.alloc) }

func (t *AllocationSupport) checkInvariant() {
	env.Assertf(t.base <= t.alloc && t.alloc <= t.top && t.top <= t.realTop,
		"tlh pointers disordered: base=%#x alloc=%#x top=%#x realTop=%#x",
		t.base, t.alloc, t.top, t.realTop)
}

// AllocateFromTLH services one allocation request. Returns 0 when the
// request cannot be satisfied from the TLH discipline; the caller then
// falls back to the subspace path or propagates exhaustion.
func (t *AllocationSupport) AllocateFromTLH(e *env.Environment, desc *env.AllocateDescription, shouldCollectOnFailure bool) env.Address {
	required := desc.ContiguousBytes
	if required > t.availableSize() {
		t.Refresh(e, desc, shouldCollectOnFailure)
	}
	if required > t.availableSize() {
		return 0
	}
	result := t.alloc
	t.alloc += env.Address(required)
	t.checkInvariant()
	desc.CompletedFromTLH(t.memorySubSpace, t.memoryPool, t.objectFlags)
	return result
}

// Refresh replaces the TLH contents for a request of desc's size.
// Returns false when the request bypasses the TLH (too large relative
// to the refresh size) or when the backing pool is exhausted.
func (t *AllocationSupport) Refresh(e *env.Environment, desc *env.AllocateDescription, shouldCollectOnFailure bool) bool {
	options := t.extensions.Options()
	required := desc.ContiguousBytes

	// Refresh only when the request fits half the refresh size or the
	// TLH minimum, whichever is larger; otherwise bounce the caller to
	// a non-TLH allocation but grow hungriness for the next refresh.
	halfRefresh := t.refreshSize >> 1
	abandonSize := options.TLHMinimumSize
	if halfRefresh > abandonSize {
		abandonSize = halfRefresh
	}
	if required > abandonSize {
		if t.refreshSize < options.TLHMaximumSize && required < options.TLHMaximumSize {
			t.growRefreshSize(options)
		}
		return false
	}

	lastObject := t.restoreTLHTopForGC(e)
	if lastObject != 0 && t.extensions.GlobalCollector != nil {
		t.extensions.GlobalCollector.PreAllocCacheFlush(e, t.base, lastObject)
	}

	t.stats.TLHDiscardedBytes += uint64(t.remainingSize())

	// Cache the outgoing remainder when it is worth keeping.
	if t.realTop != 0 && t.remainingSize() >= options.TLHMinimumSize &&
		t.abandonedListSize < options.TLHAbandonedListMaximum {
		t.pushAbandoned(t.alloc, t.remainingSize(), t.memoryPool, t.memorySubSpace)
		if uint64(t.abandonedListSize) > t.stats.TLHMaxAbandonedListSize {
			t.stats.TLHMaxAbandonedListSize = uint64(t.abandonedListSize)
		}
		t.wipe(e)
	} else {
		t.clear(e)
	}

	didRefresh := false
	if entry := t.takeAbandoned(required); entry != nil {
		t.setup(e, entry.base, entry.base+env.Address(entry.size), entry.subSpace, entry.pool)
		t.recycleNode(entry)

		desc.CompletedFromTLH(t.memorySubSpace, t.memoryPool, t.objectFlags)
		t.stats.TLHRefreshCountReused++
		t.stats.TLHAllocatedReused += uint64(t.remainingSize())
		t.stats.TLHDiscardedBytes -= uint64(t.remainingSize())
		didRefresh = true
	} else if t.memorySubSpaceForRefresh() != nil {
		subSpace := t.memorySubSpaceForRefresh()
		pool := subSpace.DefaultPool()
		if base, top, ok := pool.AllocateTLH(e, t.refreshSize); ok {
			t.setup(e, base, top, subSpace, pool)
			if t.zeroTLH && options.BatchClearTLH {
				clearBytes(t.slab, base, uintptr(top-base))
			}
			desc.CompletedFromTLH(subSpace, pool, t.objectFlags)
			t.stats.TLHRefreshCountFresh++
			t.stats.TLHAllocatedFresh += uint64(t.remainingSize())
			didRefresh = true
		}
	}

	if didRefresh {
		t.stats.TLHRequestedBytes += uint64(t.refreshSize)
		if t.refreshSize < options.TLHMaximumSize {
			t.growRefreshSize(options)
		}
		t.reserveTLHTopForGC(e)
	}

	return didRefresh
}

func (t *AllocationSupport) growRefreshSize(options *env.Options) {
	t.refreshSize += options.TLHIncrementSize
	if t.refreshSize > options.TLHMaximumSize {
		t.refreshSize = options.TLHMaximumSize
	}
}

// ConnectSubSpace binds the subspace fresh refreshes draw from.
func (t *AllocationSupport) ConnectSubSpace(subSpace env.MemorySubSpace) {
	t.memorySubSpace = subSpace
	if subSpace != nil {
		t.objectFlags = subSpace.ObjectFlags()
	}
}

func (t *AllocationSupport) memorySubSpaceForRefresh() env.MemorySubSpace {
	return t.memorySubSpace
}

// setup installs a new cache span. Sampling of the outgoing contents
// has already happened in wipe/clear.
func (t *AllocationSupport) setup(e *env.Environment, base, top env.Address, subSpace env.MemorySubSpace, pool env.MemoryPool) {
	env.Assert(t.reservedBytesForGC == 0, "setup with armed reservation window")
	t.base = base
	t.alloc = base
	t.top = top
	t.realTop = top
	t.memoryPool = pool
	t.memorySubSpace = subSpace
	if subSpace != nil {
		t.objectFlags = subSpace.ObjectFlags()
	}
	t.checkInvariant()
}

// wipe forgets the cache span without returning anything to the pool;
// the span has been handed to the abandoned list.
func (t *AllocationSupport) wipe(e *env.Environment) {
	t.sampleFrequentObjects(e)
	t.base = 0
	t.alloc = 0
	t.top = 0
	t.realTop = 0
	t.memoryPool = nil
	t.objectFlags = 0
}

// clear returns the unbumped remainder to the owning pool and forgets
// the span.
func (t *AllocationSupport) clear(e *env.Environment) {
	env.Assert(t.reservedBytesForGC == 0, "clear with armed reservation window")
	if t.memoryPool != nil {
		t.memoryPool.AbandonTLHHeapChunk(t.alloc, t.realTop)
	}
	t.wipe(e)
}

// reserveTLHTopForGC arms the reservation window: the collector keeps a
// small trailing span so every TLH can end on an object boundary for
// concurrent barriers.
func (t *AllocationSupport) reserveTLHTopForGC(e *env.Environment) {
	if t.extensions.GlobalCollector == nil {
		return
	}
	bytes := t.extensions.GlobalCollector.ReservedForGCAllocCacheSize()
	env.Assert(t.reservedBytesForGC == 0, "reservation window armed twice")
	if bytes > 0 {
		t.reservedBytesForGC = bytes
		t.top -= env.Address(bytes)
		t.checkInvariant()
	}
}

// restoreTLHTopForGC disarms the reservation window, materializing a
// minimum-size dummy object at alloc when the cache saw use, so the TLH
// iterates as a sequence of legal objects. Returns the dummy address,
// 0 when none was written.
func (t *AllocationSupport) restoreTLHTopForGC(e *env.Environment) env.Address {
	if t.base == 0 {
		env.Assert(t.top == 0, "wiped tlh with nonzero top")
		env.Assert(t.reservedBytesForGC == 0, "wiped tlh with armed reservation window")
		return 0
	}
	var lastObject env.Address
	if t.reservedBytesForGC > 0 {
		t.top += env.Address(t.reservedBytesForGC)
		t.reservedBytesForGC = 0
		if t.usedSize() > 0 {
			lastObject = t.alloc
			t.extensions.ObjectModel.InitializeMinimumSizeObject(e, lastObject)
			t.alloc += env.Address(env.MinimumObjectSize)
			t.checkInvariant()
		}
	}
	return lastObject
}

// pushAbandoned inserts a remainder keeping the list size ordered.
func (t *AllocationSupport) pushAbandoned(base env.Address, size uintptr, pool env.MemoryPool, subSpace env.MemorySubSpace) {
	entry := t.freeNodes
	if entry != nil {
		t.freeNodes = entry.next
	} else {
		entry = &abandonedEntry{}
	}
	entry.base = base
	entry.size = size
	entry.pool = pool
	entry.subSpace = subSpace

	if t.abandonedList == nil || t.abandonedList.size >= size {
		entry.next = t.abandonedList
		t.abandonedList = entry
	} else {
		prev := t.abandonedList
		for prev.next != nil && prev.next.size < size {
			prev = prev.next
		}
		entry.next = prev.next
		prev.next = entry
	}
	t.abandonedListSize++
}

// takeAbandoned removes and returns the smallest remainder that fits
// required bytes, or nil.
func (t *AllocationSupport) takeAbandoned(required uintptr) *abandonedEntry {
	var prev *abandonedEntry
	for cur := t.abandonedList; cur != nil; cur = cur.next {
		if cur.size >= required {
			if prev == nil {
				t.abandonedList = cur.next
			} else {
				prev.next = cur.next
			}
			t.abandonedListSize--
			cur.next = nil
			return cur
		}
		prev = cur
	}
	return nil
}

func (t *AllocationSupport) recycleNode(entry *abandonedEntry) {
	entry.base = 0
	entry.size = 0
	entry.pool = nil
	entry.subSpace = nil
	entry.next = t.freeNodes
	t.freeNodes = entry
}

// FlushCache resets the TLH at a safe point: the last iterable object
// is reported, the abandoned list is dropped back to its pools, and
// the cache span returns to the owning pool.
func (t *AllocationSupport) FlushCache(e *env.Environment) {
	lastObject := t.restoreTLHTopForGC(e)
	if lastObject != 0 && t.extensions.GlobalCollector != nil {
		t.extensions.GlobalCollector.PreAllocCacheFlush(e, t.base, lastObject)
	}
	for entry := t.abandonedList; entry != nil; {
		next := entry.next
		entry.pool.AbandonTLHHeapChunk(entry.base, entry.base+env.Address(entry.size))
		t.recycleNode(entry)
		entry = next
	}
	t.abandonedList = nil
	t.abandonedListSize = 0
	t.clear(e)
}

// Reconnect resets the TLH for a mutator reattaching after a flush; the
// refresh size restarts at the initial value.
func (t *AllocationSupport) Reconnect(e *env.Environment) {
	subSpace := t.memorySubSpace
	t.wipe(e)
	t.memorySubSpace = subSpace
	t.refreshSize = t.extensions.Options().TLHInitialSize
}

// Restart halves the thread's hungriness while preserving the cache
// discipline, used when allocation pressure drops across a collection.
func (t *AllocationSupport) Restart(e *env.Environment) {
	options := t.extensions.Options()
	subSpace := t.memorySubSpace
	refreshSize := t.refreshSize
	t.wipe(e)
	t.memorySubSpace = subSpace
	t.refreshSize = roundToCeiling(options.TLHInitialSize, refreshSize/2)
}

// sampleFrequentObjects walks the used prefix of the outgoing cache,
// feeding object sizes to the frequency estimator. The walk is bounded
// by the configured sampling rate.
func (t *AllocationSupport) sampleFrequentObjects(e *env.Environment) {
	if t.frequentObjects == nil || t.base == 0 || t.usedSize() == 0 {
		return
	}
	options := t.extensions.Options()
	if !options.FrequentObjectsStatsEnabled {
		return
	}
	model := t.extensions.ObjectModel
	limit := t.base + env.Address(t.usedSize()*uintptr(options.FrequentObjectAllocationSamplingRate)/100)
	for cursor := t.base; cursor < limit; {
		size := model.ConsumedSizeInBytes(cursor)
		if size == 0 {
			break
		}
		t.frequentObjects.Update(size)
		cursor += env.Address(size)
	}
}

// clearBytes zeroes [base, base+length) of the managed span.
func clearBytes(slab *heap.Slab, base env.Address, length uintptr) {
	if slab == nil || length == 0 {
		return
	}
	span := slab.Bytes(base, length)
	clear(span)
}

func roundToCeiling(granularity, value uintptr) uintptr {
	if granularity == 0 {
		return value
	}
	return (value + granularity - 1) / granularity * granularity
}
