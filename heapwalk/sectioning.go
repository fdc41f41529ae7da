package heapwalk

import (
	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
)

// sweepChunkRounding is the page-friendly multiple auto-tuned chunk
// sizes round up to.
const sweepChunkRounding = 256 * 1024

// sweepChunksPerThread is the load-balancing target used by the
// auto-tuner.
const sweepChunksPerThread = 32

// SweepChunk is one unit of parallel sweep work: a sub-range of a
// region bounded by the chunk size and by memory-pool boundaries,
// cross-referenced with the pool whose free lists are rebuilt for it.
type SweepChunk struct {
	Base env.Address
	Top  env.Address

	MemoryPool env.MemoryPool

	// MinimumFreeSize is the smallest span worth recording as free in
	// this chunk's pool.
	MinimumFreeSize uintptr

	Previous *SweepChunk
	Next     *SweepChunk

	// CoalesceCandidate is false for a region's first chunk, which can
	// never coalesce with the prior region.
	CoalesceCandidate bool
}

// Clear wipes the chunk for reassignment.
func (c *SweepChunk) Clear() {
	*c = SweepChunk{}
}

// chunkArray is one backing allocation of chunk descriptors. Arrays
// are linked head-to-tail and never shrink.
type chunkArray struct {
	chunks []SweepChunk
	used   int
	next   *chunkArray
}

// PoolLookup resolves which memory pool covers a heap range, and where
// the pool ends when the range straddles a boundary. Subspaces with a
// single pool may return poolHigh of 0.
type PoolLookup interface {
	PoolForRange(e *env.Environment, base, top env.Address) (pool env.MemoryPool, poolHigh env.Address)
}

// SweepHeapSectioning partitions sweep-ready regions into evenly sized
// chunks for work distribution. Chunk descriptor storage grows across
// reconfigurations but never shrinks.
type SweepHeapSectioning struct {
	extensions *env.Extensions
	h          *heap.Heap

	head      *chunkArray
	baseArray *chunkArray

	totalSize uintptr // descriptors allocated
	totalUsed uintptr // descriptors reserved for the current shape

	chunkSize uintptr

	// poolLookup is optional; when nil every chunk in a region belongs
	// to the region subspace's default pool.
	poolLookup PoolLookup
}

// NewSweepHeapSectioning estimates the chunk population from the heap
// ceiling and allocates the lead descriptor array.
func NewSweepHeapSectioning(extensions *env.Extensions, h *heap.Heap, threadCountMaximum int, poolLookup PoolLookup) (*SweepHeapSectioning, error) {
	s := &SweepHeapSectioning{
		extensions: extensions,
		h:          h,
		poolLookup: poolLookup,
	}
	s.chunkSize = resolveChunkSize(extensions.Options(), h.MaximumMemorySize(), threadCountMaximum)

	estimate := (h.MaximumMemorySize() + s.chunkSize - 1) / s.chunkSize
	s.head = &chunkArray{chunks: make([]SweepChunk, estimate)}
	s.baseArray = s.head
	s.totalSize = estimate
	return s, nil
}

// resolveChunkSize applies the configured chunk size or the
// maxHeap/(threads*32) heuristic rounded up to a page-friendly
// multiple.
func resolveChunkSize(options *env.Options, maximumHeapSize uintptr, threadCountMaximum int) uintptr {
	if options.ParSweepChunkSize != 0 {
		return options.ParSweepChunkSize
	}
	if threadCountMaximum < 1 {
		threadCountMaximum = 1
	}
	size := maximumHeapSize / (uintptr(threadCountMaximum) * sweepChunksPerThread)
	return roundToCeiling(sweepChunkRounding, size)
}

// ChunkSize returns the resolved chunk size.
func (s *SweepHeapSectioning) ChunkSize() uintptr { return s.chunkSize }

// TotalUsed returns the descriptor count reserved for the current heap
// shape; after Reassign it is the dispatcher's work-unit total.
func (s *SweepHeapSectioning) TotalUsed() uintptr { return s.totalUsed }

// Update re-reserves descriptors to match the current heap shape,
// growing the backing store when the estimate was exceeded.
func (s *SweepHeapSectioning) Update(e *env.Environment) bool {
	totalChunkCount := s.calculateActualChunkNumbers(e)

	if totalChunkCount > s.totalSize {
		newArray := &chunkArray{chunks: make([]SweepChunk, totalChunkCount-s.totalSize)}
		for i := range newArray.chunks {
			newArray.chunks[i].Clear()
		}
		newArray.next = s.head
		s.head = newArray
		s.totalSize = totalChunkCount
	}
	s.totalUsed = totalChunkCount

	return s.initArrays(totalChunkCount)
}

// calculateActualChunkNumbers counts the chunks the current region
// population needs. It performs the same splitting walk Reassign does,
// so pool boundaries are accounted for in the reservation.
func (s *SweepHeapSectioning) calculateActualChunkNumbers(e *env.Environment) uintptr {
	return s.walkChunks(e, nil)
}

// initArrays walks the array list reserving chunkCount descriptors;
// arrays past the requirement have their used counts zeroed.
func (s *SweepHeapSectioning) initArrays(chunkCount uintptr) bool {
	remaining := chunkCount
	array := s.head
	for remaining != 0 {
		if array == nil {
			return false
		}
		if remaining > uintptr(len(array.chunks)) {
			array.used = len(array.chunks)
		} else {
			array.used = int(remaining)
		}
		remaining -= uintptr(array.used)
		array = array.next
	}
	for array != nil {
		array.used = 0
		array = array.next
	}
	return true
}

// Reassign walks sweep-ready regions in address order carving them into
// chunks, never crossing a memory-pool boundary within a region.
// Returns the chunk count, which becomes the dispatcher work-unit
// total.
func (s *SweepHeapSectioning) Reassign(e *env.Environment) uintptr {
	var previousChunk *SweepChunk
	sectioning := NewSweepSectioningIterator(s)

	total := s.walkChunks(e, func(region *heap.RegionDescriptor, base, top env.Address, pool env.MemoryPool) {
		chunk := sectioning.NextChunk()
		env.Assert(chunk != nil, "sweep sectioning ran out of chunk descriptors")
		chunk.Clear()

		chunk.Base = base
		chunk.Top = top
		chunk.MemoryPool = pool
		if pool != nil {
			chunk.MinimumFreeSize = pool.MinimumFreeEntrySize()
		}
		chunk.CoalesceCandidate = base != region.LowAddress()
		chunk.Previous = previousChunk
		if previousChunk != nil {
			previousChunk.Next = chunk
		}
		previousChunk = chunk
	})

	if previousChunk != nil {
		previousChunk.Next = nil
	}
	return total
}

// walkChunks carves every sweep-ready region into chunks, clipping at
// memory-pool boundaries, and reports each to visit (which may be nil
// when only the count is wanted). Returns the chunk count.
func (s *SweepHeapSectioning) walkChunks(e *env.Environment, visit func(region *heap.RegionDescriptor, base, top env.Address, pool env.MemoryPool)) uintptr {
	var total uintptr

	it := heap.NewRegionIterator(s.h.RegionManager())
	for region := it.NextRegion(); region != nil; region = it.NextRegion() {
		if !region.IsSweepable() {
			continue
		}
		chunkBase := region.LowAddress()
		regionHigh := region.HighAddress()

		for chunkBase < regionHigh {
			chunkTop := chunkBase + env.Address(s.chunkSize)
			if uintptr(regionHigh-chunkBase) < s.chunkSize {
				chunkTop = regionHigh
			}

			// A chunk belongs to exactly one pool; clip at the pool
			// boundary when the range straddles two.
			var pool env.MemoryPool
			var poolHigh env.Address
			if s.poolLookup != nil {
				pool, poolHigh = s.poolLookup.PoolForRange(e, chunkBase, chunkTop)
			} else if subSpace := region.SubSpace(); subSpace != nil {
				pool = subSpace.DefaultPool()
			}
			if poolHigh != 0 {
				env.Assert(poolHigh > chunkBase && poolHigh < chunkTop, "pool boundary outside chunk")
				chunkTop = poolHigh
			} else if chunkTop > regionHigh {
				chunkTop = regionHigh
			}

			total++
			if visit != nil {
				visit(region, chunkBase, chunkTop, pool)
			}
			chunkBase = chunkTop
		}
	}
	return total
}

// SweepSectioningIterator hands out reserved chunk descriptors in
// order.
type SweepSectioningIterator struct {
	currentArray *chunkArray
	currentIndex int
}

// NewSweepSectioningIterator starts at the head array.
func NewSweepSectioningIterator(s *SweepHeapSectioning) *SweepSectioningIterator {
	return &SweepSectioningIterator{currentArray: s.head}
}

// NextChunk returns the next reserved descriptor, nil when exhausted.
func (it *SweepSectioningIterator) NextChunk() *SweepChunk {
	for it.currentArray != nil {
		if it.currentIndex < it.currentArray.used {
			chunk := &it.currentArray.chunks[it.currentIndex]
			it.currentIndex++
			return chunk
		}
		it.currentArray = it.currentArray.next
		it.currentIndex = 0
	}
	return nil
}
