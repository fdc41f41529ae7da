package stats

import (
	"sync"

	"github.com/orizon-lang/orizon-gc/env"
)

// maxCountersPerFrequentSize bounds how many overlay nodes one frequent
// allocation size can occupy across size classes.
const maxCountersPerFrequentSize = 3

// veryLargeEntryPoolSizeForThread is the very-large pool size for
// per-thread instances, which see few distinct very-large entries.
const veryLargeEntryPoolSizeForThread = 16

// FrequentAllocation is one overlay node: an exact free-entry size
// within a size class with its own count.
type FrequentAllocation struct {
	size  uintptr
	count uintptr
	next  *FrequentAllocation
}

// Size returns the exact entry size.
func (f *FrequentAllocation) Size() uintptr { return f.size }

// Count returns the entry count.
func (f *FrequentAllocation) Count() uintptr { return f.count }

// FreeEntrySizeClassStats is the histogram of free entries by size
// class, with an ordered overlay of frequent exact sizes per class.
// Classes at or above the very-large boundary draw overlay nodes from a
// shared preallocated pool so merges never allocate.
type FreeEntrySizeClassStats struct {
	sizeClasses *SizeClasses

	maxFrequentAllocateSizes int
	veryLargeEntrySizeClass  int

	count                  []uintptr
	frequentAllocationHead []*FrequentAllocation

	// frequentAllocation is the fixed pool for below-boundary overlays.
	frequentAllocation           []FrequentAllocation
	frequentAllocateSizeCounters int

	// veryLargeEntryPool backs at-or-above-boundary overlays; exhausted
	// entries recycle through freeHeadVeryLargeEntry.
	veryLargeEntryPool     []FrequentAllocation
	freeHeadVeryLargeEntry *FrequentAllocation

	guaranteeEnoughPoolSizeForVeryLargeEntry bool

	lock sync.Mutex
}

// FreeEntrySizeClassStatsConfig sizes a histogram instance.
type FreeEntrySizeClassStatsConfig struct {
	SizeClasses *SizeClasses

	// MaxFrequentAllocateSizes is 0 when the instance only gathers a
	// plain TLH allocation profile with no overlays.
	MaxFrequentAllocateSizes int

	// VeryLargeEntrySizeClass is the boundary class index.
	VeryLargeEntrySizeClass int

	// VeryLargeObjectThreshold sizes the shared pool against MemoryMax;
	// 0 selects the small per-thread pool.
	VeryLargeObjectThreshold uintptr
	FactorVeryLargeEntryPool uintptr
	MemoryMax                uintptr
}

// NewFreeEntryStatsFromOptions builds a histogram shaped by the tuning
// options: the very-large boundary class comes from the profiling
// option, and perThread selects the small recycling pool instead of the
// guaranteed global one.
func NewFreeEntryStatsFromOptions(options *env.Options, sizeClasses *SizeClasses, veryLargeObjectThreshold uintptr, perThread bool) *FreeEntrySizeClassStats {
	cfg := FreeEntrySizeClassStatsConfig{
		SizeClasses:              sizeClasses,
		MaxFrequentAllocateSizes: options.MaxFrequentAllocateSizes,
		VeryLargeEntrySizeClass:  options.LargeObjectAllocationProfilingVeryLargeObjectSizeClass,
		FactorVeryLargeEntryPool: 1,
		MemoryMax:                options.MemoryMax,
	}
	if cfg.VeryLargeEntrySizeClass > sizeClasses.Count() {
		cfg.VeryLargeEntrySizeClass = sizeClasses.Count()
	}
	if !perThread {
		cfg.VeryLargeObjectThreshold = veryLargeObjectThreshold
	}
	return NewFreeEntrySizeClassStats(cfg)
}

// NewFreeEntrySizeClassStats builds a histogram.
func NewFreeEntrySizeClassStats(cfg FreeEntrySizeClassStatsConfig) *FreeEntrySizeClassStats {
	s := &FreeEntrySizeClassStats{
		sizeClasses:              cfg.SizeClasses,
		maxFrequentAllocateSizes: cfg.MaxFrequentAllocateSizes,
		veryLargeEntrySizeClass:  cfg.VeryLargeEntrySizeClass,
	}
	classes := cfg.SizeClasses.Count()
	s.count = make([]uintptr, classes)

	if cfg.MaxFrequentAllocateSizes != 0 {
		s.frequentAllocationHead = make([]*FrequentAllocation, classes)
		s.frequentAllocation = make([]FrequentAllocation, maxCountersPerFrequentSize*cfg.MaxFrequentAllocateSizes)

		poolSize := uintptr(veryLargeEntryPoolSizeForThread)
		if cfg.VeryLargeObjectThreshold != 0 {
			if cfg.VeryLargeObjectThreshold > cfg.MemoryMax {
				poolSize = 0
			} else {
				poolSize = cfg.MemoryMax / cfg.VeryLargeObjectThreshold * cfg.FactorVeryLargeEntryPool
				s.guaranteeEnoughPoolSizeForVeryLargeEntry = true
			}
		}
		if poolSize != 0 {
			s.veryLargeEntryPool = make([]FrequentAllocation, poolSize)
		}
	}

	s.ClearFrequentAllocation()
	s.initializeVeryLargeEntryPool()
	s.ResetCounts()
	return s
}

// MaxSizeClasses returns the class count.
func (s *FreeEntrySizeClassStats) MaxSizeClasses() int { return len(s.count) }

// VeryLargeEntrySizeClass returns the boundary class index.
func (s *FreeEntrySizeClassStats) VeryLargeEntrySizeClass() int { return s.veryLargeEntrySizeClass }

// ResetCounts zeroes the class counts and every overlay count.
func (s *FreeEntrySizeClassStats) ResetCounts() {
	clear(s.count)
	for i := range s.frequentAllocationHead {
		for cur := s.frequentAllocationHead[i]; cur != nil; cur = cur.next {
			cur.count = 0
		}
	}
}

// ClearFrequentAllocation detaches every overlay list.
func (s *FreeEntrySizeClassStats) ClearFrequentAllocation() {
	for i := range s.frequentAllocationHead {
		s.frequentAllocationHead[i] = nil
	}
	s.frequentAllocateSizeCounters = 0
}

// initializeVeryLargeEntryPool threads the shared pool onto the free
// list.
func (s *FreeEntrySizeClassStats) initializeVeryLargeEntryPool() {
	s.freeHeadVeryLargeEntry = nil
	for i := range s.veryLargeEntryPool {
		entry := &s.veryLargeEntryPool[i]
		entry.next = s.freeHeadVeryLargeEntry
		s.freeHeadVeryLargeEntry = entry
	}
}

// InitializeFrequentAllocation installs overlay entries for the given
// frequent sizes, drawn from the space-saving estimator. Sizes are
// installed below the very-large boundary only; each overlay list stays
// strictly ascending.
func (s *FreeEntrySizeClassStats) InitializeFrequentAllocation(frequentSizes []uintptr) {
	s.ClearFrequentAllocation()
	for _, size := range frequentSizes {
		classIndex := s.sizeClasses.ClassIndex(size)
		if classIndex >= s.veryLargeEntrySizeClass {
			continue
		}
		if s.frequentAllocateSizeCounters >= len(s.frequentAllocation) {
			break
		}
		entry := &s.frequentAllocation[s.frequentAllocateSizeCounters]
		s.frequentAllocateSizeCounters++
		entry.size = size
		entry.count = 0
		s.insertOrdered(classIndex, entry)
	}
}

func (s *FreeEntrySizeClassStats) insertOrdered(classIndex int, entry *FrequentAllocation) {
	head := s.frequentAllocationHead[classIndex]
	if head == nil || head.size > entry.size {
		entry.next = head
		s.frequentAllocationHead[classIndex] = entry
		return
	}
	prev := head
	for prev.next != nil && prev.next.size < entry.size {
		prev = prev.next
	}
	env.Assertf(prev.size != entry.size, "duplicate frequent size %d in class %d", entry.size, classIndex)
	entry.next = prev.next
	prev.next = entry
}

// RecordFreeEntry counts one free entry of exactly size bytes. An exact
// overlay match is preferred over the class count; very-large classes
// materialize an overlay node per exact size from the shared pool.
func (s *FreeEntrySizeClassStats) RecordFreeEntry(size uintptr) {
	classIndex := s.sizeClasses.ClassIndex(size)
	if s.frequentAllocationHead != nil {
		if classIndex >= s.veryLargeEntrySizeClass {
			s.recordVeryLargeEntry(classIndex, size)
			return
		}
		for cur := s.frequentAllocationHead[classIndex]; cur != nil && cur.size <= size; cur = cur.next {
			if cur.size == size {
				cur.count++
				return
			}
		}
	}
	s.count[classIndex]++
}

func (s *FreeEntrySizeClassStats) recordVeryLargeEntry(classIndex int, size uintptr) {
	var prev *FrequentAllocation
	for cur := s.frequentAllocationHead[classIndex]; cur != nil && cur.size <= size; cur = cur.next {
		if cur.size == size {
			cur.count++
			return
		}
		prev = cur
	}
	entry := s.freeHeadVeryLargeEntry
	if entry == nil {
		env.Assert(!s.guaranteeEnoughPoolSizeForVeryLargeEntry, "very large entry pool exhausted")
		s.count[classIndex]++
		return
	}
	s.freeHeadVeryLargeEntry = entry.next
	entry.size = size
	entry.count = 1
	if prev == nil {
		entry.next = s.frequentAllocationHead[classIndex]
		s.frequentAllocationHead[classIndex] = entry
	} else {
		entry.next = prev.next
		prev.next = entry
	}
}

// CountForClass returns the plain (non-overlay) count of a class.
func (s *FreeEntrySizeClassStats) CountForClass(classIndex int) uintptr {
	return s.count[classIndex]
}

// FrequentCount returns the overlay count for an exact size, 0 when the
// size has no overlay entry.
func (s *FreeEntrySizeClassStats) FrequentCount(classIndex int, size uintptr) uintptr {
	for cur := s.frequentAllocationHead[classIndex]; cur != nil && cur.size <= size; cur = cur.next {
		if cur.size == size {
			return cur.count
		}
	}
	return 0
}

// FreeMemory estimates the total free bytes described by the histogram:
// class counts at the class lower-bound size plus exact overlay bytes.
func (s *FreeEntrySizeClassStats) FreeMemory() uintptr {
	var total uintptr
	for i := range s.count {
		total += s.count[i] * s.sizeClasses.ClassSize(i)
		if s.frequentAllocationHead == nil {
			continue
		}
		for cur := s.frequentAllocationHead[i]; cur != nil; cur = cur.next {
			total += cur.count * cur.size
		}
	}
	return total
}

// Merge folds a per-thread histogram into s under the histogram lock.
// The caller resets other afterwards. Below the very-large boundary the
// receiver's overlay sizes are fixed and matching counts add; at or
// above it the ordered lists merge, copying nodes from the receiver's
// pool and recycling emptied ones.
func (s *FreeEntrySizeClassStats) Merge(other *FreeEntrySizeClassStats) {
	env.Assert(other.MaxSizeClasses() <= s.MaxSizeClasses(), "merging histogram with more classes than target")
	s.lock.Lock()
	defer s.lock.Unlock()

	for classIndex := 0; classIndex < other.MaxSizeClasses(); classIndex++ {
		s.count[classIndex] += other.count[classIndex]
		if s.frequentAllocationHead == nil {
			continue
		}
		if classIndex >= s.veryLargeEntrySizeClass {
			s.mergeVeryLargeClass(classIndex, other)
			continue
		}
		for cur := s.frequentAllocationHead[classIndex]; cur != nil; cur = cur.next {
			for otherCur := other.frequentAllocationHead[classIndex]; otherCur != nil; otherCur = otherCur.next {
				if cur.size == otherCur.size {
					cur.count += otherCur.count
					break
				}
			}
		}
	}
}

func (s *FreeEntrySizeClassStats) mergeVeryLargeClass(classIndex int, other *FreeEntrySizeClassStats) {
	if other.frequentAllocationHead == nil {
		return
	}
	dest := s.frequentAllocationHead[classIndex]
	var predest *FrequentAllocation
	src := other.frequentAllocationHead[classIndex]
	for src != nil {
		switch {
		case src.count == 0:
			src = src.next
		case dest == nil || dest.size > src.size:
			entry := s.freeHeadVeryLargeEntry
			env.Assert(entry != nil || !s.guaranteeEnoughPoolSizeForVeryLargeEntry, "very large entry pool exhausted in merge")
			if entry == nil {
				s.count[classIndex] += src.count
				src = src.next
				continue
			}
			s.freeHeadVeryLargeEntry = entry.next
			entry.size = src.size
			entry.count = src.count
			entry.next = dest
			if predest == nil {
				s.frequentAllocationHead[classIndex] = entry
			} else {
				predest.next = entry
			}
			predest = entry
			src = src.next
		case dest.size == src.size:
			nextDest := dest.next
			dest.count += src.count
			if dest.count == 0 {
				if predest == nil {
					s.frequentAllocationHead[classIndex] = nextDest
				} else {
					predest.next = nextDest
				}
				dest.next = s.freeHeadVeryLargeEntry
				s.freeHeadVeryLargeEntry = dest
			} else {
				predest = dest
			}
			dest = nextDest
			src = src.next
		default:
			predest = dest
			dest = dest.next
		}
	}
}
