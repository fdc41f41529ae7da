package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/orizon-gc/env"
)

func TestSpaceSavingInheritedMinEviction(t *testing.T) {
	// k = 4; updates (A,1)..(E,5). E replaces the minimum A and
	// inherits its count as a lower bound: 1+5 = 6.
	const keyA, keyB, keyC, keyD, keyE = 100, 200, 300, 400, 500

	s := NewSpaceSaving(4)
	s.Update(keyA, 1)
	s.Update(keyB, 2)
	s.Update(keyC, 3)
	s.Update(keyD, 4)
	s.Update(keyE, 5)

	wantKeys := []uintptr{keyE, keyD, keyC, keyB}
	wantCounts := []uintptr{6, 4, 3, 2}
	for k := 1; k <= 4; k++ {
		key, ok := s.KthMostFrequent(k)
		require.True(t, ok, "rank %d missing", k)
		assert.Equal(t, wantKeys[k-1], key, "rank %d key", k)
		assert.Equal(t, wantCounts[k-1], s.KthMostFrequentCount(k), "rank %d count", k)
	}

	// A has been evicted.
	for k := 1; k <= s.CurSize(); k++ {
		key, _ := s.KthMostFrequent(k)
		assert.NotEqual(t, uintptr(keyA), key)
	}
}

func TestRankingOrderInvariant(t *testing.T) {
	r := NewRanking(8)
	updates := []struct {
		key   uintptr
		count uintptr
	}{
		{16, 3}, {24, 1}, {32, 7}, {40, 2}, {16, 4}, {24, 10}, {48, 1},
	}
	for _, u := range updates {
		if !r.IncrementEntry(u.key, u.count) {
			r.UpdateLowest(u.key, u.count)
		}
	}

	// Ranking is sorted by count: each k-th count dominates the next.
	for k := 1; k < r.CurSize(); k++ {
		assert.GreaterOrEqual(t, r.KthHighestCount(k), r.KthHighestCount(k+1))
	}
	top, ok := r.KthHighest(1)
	require.True(t, ok)
	assert.Equal(t, uintptr(24), top, "24 accumulated 11, the maximum")

	r.Clear()
	assert.Equal(t, 0, r.CurSize())
	assert.Equal(t, uintptr(0), r.LowestCount())
}

func TestAllocationStatsMergeTwice(t *testing.T) {
	var global, local AllocationStats
	local.TLHRefreshCountFresh = 3
	local.TLHAllocatedFresh = 12288
	local.TLHDiscardedBytes = 100
	local.TLHMaxAbandonedListSize = 5
	local.AllocationBytes = 2048
	local.AllocationSearchCountMax = 7

	global.Merge(&local)
	global.Merge(&local)

	// After the second merge the totals equal global + 2x thread-local;
	// the high-water fields take the maximum, not the sum.
	assert.Equal(t, uint64(6), global.TLHRefreshCountFresh)
	assert.Equal(t, uint64(24576), global.TLHAllocatedFresh)
	assert.Equal(t, uint64(200), global.TLHDiscardedBytes)
	assert.Equal(t, uint64(5), global.TLHMaxAbandonedListSize)
	assert.Equal(t, uint64(4096), global.AllocationBytes)
	assert.Equal(t, uint64(7), global.AllocationSearchCountMax)
}

func TestAllocationStatsConcurrentMerge(t *testing.T) {
	var global AllocationStats
	const threads = 8

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			local := AllocationStats{
				TLHRefreshCountFresh:    1,
				TLHMaxAbandonedListSize: uint64(id),
			}
			global.Merge(&local)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(threads), global.TLHRefreshCountFresh)
	assert.Equal(t, uint64(threads-1), global.TLHMaxAbandonedListSize)
}

func TestAllocationStatsDerived(t *testing.T) {
	s := AllocationStats{
		TLHAllocatedFresh:           10000,
		TLHDiscardedBytes:           1000,
		AllocationBytes:             500,
		ArrayletLeafAllocationBytes: 250,
	}
	assert.Equal(t, uint64(9000), s.TLHBytesAllocated())
	assert.Equal(t, uint64(9750), s.BytesAllocated())
}

func TestAllocationFailureStats(t *testing.T) {
	var s AllocationFailureStats
	s.RecordFailure(100)
	s.RecordFailure(5000)
	s.RecordFailure(200)
	assert.Equal(t, uint64(3), s.AllocationFailureCount)
	assert.Equal(t, uint64(5300), s.AllocationFailureTotalBytes)
	assert.Equal(t, uint64(5000), s.AllocationFailureMaxBytes)
}

func TestSizeClasses(t *testing.T) {
	c := NewSizeClasses([]uintptr{16, 32, 64, 128})
	assert.Equal(t, 0, c.ClassIndex(8))
	assert.Equal(t, 0, c.ClassIndex(16))
	assert.Equal(t, 0, c.ClassIndex(31))
	assert.Equal(t, 1, c.ClassIndex(32))
	assert.Equal(t, 3, c.ClassIndex(128))
	assert.Equal(t, 3, c.ClassIndex(1<<20))

	g := NewGeometricSizeClasses(16, 10, 5, 4, 8)
	assert.Equal(t, 10, g.Count())
	for i := 1; i < g.Count(); i++ {
		assert.Greater(t, g.ClassSize(i), g.ClassSize(i-1))
	}
}

func testHistogramConfig(maxFrequent int) FreeEntrySizeClassStatsConfig {
	return FreeEntrySizeClassStatsConfig{
		SizeClasses:              NewSizeClasses([]uintptr{16, 32, 64, 128, 256, 512}),
		MaxFrequentAllocateSizes: maxFrequent,
		VeryLargeEntrySizeClass:  4, // classes 256+ use the shared pool
	}
}

func TestFreeEntryHistogramPlainCounts(t *testing.T) {
	s := NewFreeEntrySizeClassStats(testHistogramConfig(0))
	s.RecordFreeEntry(20)
	s.RecordFreeEntry(24)
	s.RecordFreeEntry(70)
	assert.Equal(t, uintptr(2), s.CountForClass(0))
	assert.Equal(t, uintptr(1), s.CountForClass(2))
	assert.Equal(t, uintptr(2*16+64), s.FreeMemory())
}

func TestFreeEntryHistogramFrequentOverlay(t *testing.T) {
	s := NewFreeEntrySizeClassStats(testHistogramConfig(4))
	s.InitializeFrequentAllocation([]uintptr{48, 40, 24})

	s.RecordFreeEntry(48) // exact overlay hit
	s.RecordFreeEntry(48)
	s.RecordFreeEntry(40)
	s.RecordFreeEntry(44) // same class, no overlay: plain count

	assert.Equal(t, uintptr(2), s.FrequentCount(1, 48))
	assert.Equal(t, uintptr(1), s.FrequentCount(1, 40))
	assert.Equal(t, uintptr(1), s.CountForClass(1))
	// Exact bytes for overlay hits, class lower bound for the rest.
	assert.Equal(t, uintptr(2*48+40+32), s.FreeMemory())
}

func TestFreeEntryHistogramVeryLargePool(t *testing.T) {
	s := NewFreeEntrySizeClassStats(testHistogramConfig(4))

	s.RecordFreeEntry(300)
	s.RecordFreeEntry(300)
	s.RecordFreeEntry(272)
	s.RecordFreeEntry(600)

	assert.Equal(t, uintptr(2), s.FrequentCount(4, 300))
	assert.Equal(t, uintptr(1), s.FrequentCount(4, 272))
	assert.Equal(t, uintptr(1), s.FrequentCount(5, 600))
	// Every very-large entry went to the overlay, not the class count.
	assert.Equal(t, uintptr(0), s.CountForClass(4))
	assert.Equal(t, uintptr(0), s.CountForClass(5))
}

func TestFreeEntryHistogramMerge(t *testing.T) {
	global := NewFreeEntrySizeClassStats(testHistogramConfig(4))
	global.InitializeFrequentAllocation([]uintptr{48})

	local := NewFreeEntrySizeClassStats(testHistogramConfig(4))
	local.InitializeFrequentAllocation([]uintptr{48})
	local.RecordFreeEntry(48)
	local.RecordFreeEntry(20)
	local.RecordFreeEntry(300)

	global.Merge(local)
	local.ResetCounts()

	assert.Equal(t, uintptr(1), global.FrequentCount(1, 48))
	assert.Equal(t, uintptr(1), global.CountForClass(0))
	assert.Equal(t, uintptr(1), global.FrequentCount(4, 300))

	// Merging the reset thread stats again changes nothing.
	global.Merge(local)
	assert.Equal(t, uintptr(1), global.FrequentCount(1, 48))
	assert.Equal(t, uintptr(1), global.CountForClass(0))
}

func TestFreeEntryStatsFromOptions(t *testing.T) {
	options := env.NewOptions(64 * 1024 * 1024)
	classes := NewSizeClasses([]uintptr{16, 32, 64, 128, 256, 512})

	// The configured boundary exceeds this class table, so it clamps.
	s := NewFreeEntryStatsFromOptions(options, classes, 0, true)
	assert.Equal(t, classes.Count(), s.VeryLargeEntrySizeClass())

	options.LargeObjectAllocationProfilingVeryLargeObjectSizeClass = 4
	global := NewFreeEntryStatsFromOptions(options, classes, 1024*1024, false)
	assert.Equal(t, 4, global.VeryLargeEntrySizeClass())
	global.RecordFreeEntry(300)
	assert.Equal(t, uintptr(1), global.FrequentCount(4, 300))
}

func TestFrequentObjectsStats(t *testing.T) {
	s := NewFrequentObjectsStats(4)
	for i := 0; i < 20; i++ {
		s.Update(64)
	}
	for i := 0; i < 10; i++ {
		s.Update(128)
	}
	s.Update(72)

	top := s.TopSizes()
	require.NotEmpty(t, top)
	assert.Equal(t, uintptr(64), top[0])
	assert.Equal(t, uintptr(128), top[1])

	other := NewFrequentObjectsStats(4)
	other.Update(512)
	s.Merge(other)
	found := false
	for _, size := range s.TopSizes() {
		if size == 512 {
			found = true
		}
	}
	assert.True(t, found, "merged size missing from ranking")
}

func TestCPUUtilStats(t *testing.T) {
	s := NewCPUUtilStats()
	assert.False(t, s.Valid())
	s.Record()
	if !s.Valid() {
		t.Skip("cpu probe unavailable in this environment")
	}
	s.Record()
	if s.BusyFraction() >= 0 {
		assert.LessOrEqual(t, s.BusyFraction(), 1.5)
	}
	s.Clear()
	assert.False(t, s.Valid())
	assert.Equal(t, -1.0, s.BusyFraction())
}
