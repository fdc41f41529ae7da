package env

import "sync/atomic"

// AllocationCategory tags native allocations made by the substrate for
// its own bookkeeping, so footprint can be attributed per concern.
type AllocationCategory int

const (
	CategoryFixed AllocationCategory = iota
	CategoryWork
	CategoryStatistics
	CategoryRemembered
	CategoryOther
	categoryCount
)

func (c AllocationCategory) String() string {
	switch c {
	case CategoryFixed:
		return "fixed"
	case CategoryWork:
		return "work"
	case CategoryStatistics:
		return "statistics"
	case CategoryRemembered:
		return "remembered"
	default:
		return "other"
	}
}

// Forge is the substrate's own allocator for metadata (chunk arrays,
// dispatcher tables, stats pools). It tracks live bytes per category.
type Forge struct {
	liveBytes [categoryCount]atomic.Int64
}

// NewForge returns an empty forge.
func NewForge() *Forge {
	return &Forge{}
}

// Allocate obtains size bytes of zeroed metadata storage charged to the
// given category. Returns nil when size is zero.
func (f *Forge) Allocate(size uintptr, category AllocationCategory) []byte {
	if size == 0 {
		return nil
	}
	f.liveBytes[category].Add(int64(size))
	return make([]byte, size)
}

// Free returns storage obtained from Allocate. The backing memory is
// reclaimed by the Go runtime; only the accounting is adjusted here.
func (f *Forge) Free(block []byte, category AllocationCategory) {
	if block == nil {
		return
	}
	f.liveBytes[category].Add(-int64(len(block)))
}

// LiveBytes reports the bytes currently charged to a category.
func (f *Forge) LiveBytes(category AllocationCategory) int64 {
	return f.liveBytes[category].Load()
}

// TotalLiveBytes reports the bytes currently charged across all
// categories.
func (f *Forge) TotalLiveBytes() int64 {
	var total int64
	for i := range f.liveBytes {
		total += f.liveBytes[i].Load()
	}
	return total
}
