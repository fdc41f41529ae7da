package markmap

import (
	"sync"
	"testing"

	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
)

const (
	testRegionSize = 2 * 1024 * 1024
	testHeapSize   = 32 * testRegionSize // 64 MiB
)

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	h, err := heap.NewHeap(testHeapSize, testRegionSize)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	t.Cleanup(func() { _ = h.Release() })
	return h
}

// fixedSizeModel reports every object as a constant consumed size.
type fixedSizeModel struct {
	size uintptr
}

func (m fixedSizeModel) ConsumedSizeInBytes(addr env.Address) uintptr                  { return m.size }
func (m fixedSizeModel) InitializeMinimumSizeObject(e *env.Environment, a env.Address) {}
func (m fixedSizeModel) IsDeadObject(addr env.Address) bool                            { return false }
func (m fixedSizeModel) SizeInBytesDeadObject(addr env.Address) uintptr                { return 0 }
func (m fixedSizeModel) CompressObjectReferences() bool                                { return false }

func TestSetTestClearRoundTrip(t *testing.T) {
	h := newTestHeap(t)
	m := NewHeapMap(h.Base(), h.MaximumMemorySize(), false)

	addr := h.Base() + 4096
	if m.IsBitSet(addr) {
		t.Fatal("fresh map has a set bit")
	}
	if !m.SetBit(addr) {
		t.Fatal("SetBit on clear bit returned false")
	}
	if !m.IsBitSet(addr) {
		t.Fatal("bit not observable after SetBit")
	}
	if m.SetBit(addr) {
		t.Fatal("SetBit on set bit returned true")
	}
	if !m.ClearBit(addr) {
		t.Fatal("ClearBit on set bit returned false")
	}
	if m.IsBitSet(addr) {
		t.Fatal("bit observable after ClearBit")
	}
	if m.ClearBit(addr) {
		t.Fatal("ClearBit on clear bit returned true")
	}
}

func TestAtomicSetBitExactlyOneWinner(t *testing.T) {
	h := newTestHeap(t)
	m := NewHeapMap(h.Base(), h.MaximumMemorySize(), false)

	const contenders = 8
	for trial := 0; trial < 200; trial++ {
		addr := h.Base() + env.Address(trial*env.ObjectAlignment)

		var wg sync.WaitGroup
		var winners sync.Map
		start := make(chan struct{})
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				<-start
				if m.AtomicSetBit(addr) {
					winners.Store(id, true)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		count := 0
		winners.Range(func(any, any) bool { count++; return true })
		if count != 1 {
			t.Fatalf("trial %d: %d winners, want exactly 1", trial, count)
		}
	}
}

func TestAtomicSetSlotMergesMask(t *testing.T) {
	h := newTestHeap(t)
	m := NewHeapMap(h.Base(), h.MaximumMemorySize(), false)

	m.AtomicSetSlot(3, 0b1010)
	m.AtomicSetSlot(3, 0b0101)
	if got := m.Slot(3); got != 0b1111 {
		t.Fatalf("slot = %b, want 1111", got)
	}
}

func TestRangeOperations(t *testing.T) {
	h := newTestHeap(t)
	m := NewHeapMap(h.Base(), h.MaximumMemorySize(), false)

	low := h.Base() + 8192
	high := low + 4096
	m.SetBitsInRange(low, high, false)
	if got := m.NumberBitsInRange(low, high); got != 4096/env.ObjectAlignment {
		t.Fatalf("set bits in range = %d", got)
	}
	// Bits outside the range stay clear.
	if m.IsBitSet(low-env.ObjectAlignment) || m.IsBitSet(high) {
		t.Fatal("range operation leaked outside bounds")
	}

	m.SetBitsInRange(low, high, true)
	if got := m.NumberBitsInRange(low, high); got != 0 {
		t.Fatalf("bits after clear = %d", got)
	}

	// Clearing an empty range is a no-op.
	if got := m.SetBitsInRange(low, low, true); got != 0 {
		t.Fatalf("empty range touched %d bytes", got)
	}
}

func TestClearUnitSizeHeuristic(t *testing.T) {
	// 64 MiB across 4 threads: 64MiB / (4*32) = 512 KiB per unit.
	if got := ClearUnitSize(64*1024*1024, 4); got != 512*1024 {
		t.Fatalf("clear unit = %d, want %d", got, 512*1024)
	}
	// Single threaded clears in one sweep of the whole heap.
	if got := ClearUnitSize(64*1024*1024, 1); got != 64*1024*1024 {
		t.Fatalf("single-thread clear unit = %d", got)
	}
}

func TestParallelClearWorkUnitCount(t *testing.T) {
	h := newTestHeap(t)
	manager := h.RegionManager()
	for r := manager.FirstTableRegion(); r != nil; r = manager.NextTableRegion(r) {
		h.CommitRegion(r)
	}

	m := NewMarkMap(h)
	// Dirty the map everywhere.
	m.SetBitsInRange(h.Base(), h.Top(), false)

	// Four simulated threads sharing one work-unit counter. Each walks
	// the same deterministic unit sequence; the clear-unit count for a
	// 64 MiB heap at 4 threads is 128.
	extensions := env.NewExtensions(env.NewOptions(testHeapSize))
	taskSync := env.NewTaskSync(4)
	var wg sync.WaitGroup
	unitCounts := make([]int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			e := env.NewEnvironment(extensions)
			e.SetCurrentTask(taskSync)
			before := countClaims(e, m, manager)
			unitCounts[slot] = before
		}(i)
	}
	wg.Wait()

	total := 0
	for _, c := range unitCounts {
		total += c
	}
	if total != 128 {
		t.Fatalf("work units processed = %d, want 128", total)
	}

	// The final bitmap is all-zero.
	if got := m.NumberBitsInRange(h.Base(), h.Top()); got != 0 {
		t.Fatalf("bits remaining after parallel clear = %d", got)
	}
}

// countClaims walks the same region/unit sequence InitializeMarkMap
// does, clearing each claimed unit and counting the claims.
func countClaims(e *env.Environment, m *MarkMap, manager *heap.RegionManager) int {
	claimed := 0
	unitSize := ClearUnitSize(testHeapSize, 4)
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
				m.SetBitsInRange(clearAddress, clearAddress+env.Address(currentSize), true)
				claimed++
			}
			clearAddress += env.Address(currentSize)
			remaining -= currentSize
		}
	}
	return claimed
}

func TestInitializeMarkMapClearsCommittedRegions(t *testing.T) {
	h := newTestHeap(t)
	manager := h.RegionManager()
	first := manager.FirstTableRegion()
	h.CommitRegion(first)

	m := NewMarkMap(h)
	m.SetBitsInRange(first.LowAddress(), first.HighAddress(), false)

	extensions := env.NewExtensions(env.NewOptions(testHeapSize))
	e := env.NewEnvironment(extensions)
	m.InitializeMarkMap(e, manager, testHeapSize)

	if !m.CheckBitsForRegion(first) {
		t.Fatal("committed region not cleared")
	}
}

func TestIteratorYieldsSetBits(t *testing.T) {
	h := newTestHeap(t)
	m := NewHeapMap(h.Base(), h.MaximumMemorySize(), false)

	objects := []env.Address{
		h.Base(),
		h.Base() + 64,
		h.Base() + 520, // crosses into the second map word
		h.Base() + 4096,
		h.Base() + 65536,
	}
	for _, obj := range objects {
		m.SetBit(obj)
	}

	it := NewIterator(m, nil, h.Base(), h.Base()+128*1024)
	var got []env.Address
	for obj := it.NextObject(); obj != 0; obj = it.NextObject() {
		got = append(got, obj)
	}
	if len(got) != len(objects) {
		t.Fatalf("iterator yielded %d objects, want %d", len(got), len(objects))
	}
	for i := range objects {
		if got[i] != objects[i] {
			t.Fatalf("object %d = %#x, want %#x", i, got[i], objects[i])
		}
	}
}

func TestIteratorSkipsLargeObjectInterior(t *testing.T) {
	h := newTestHeap(t)
	m := NewHeapMap(h.Base(), h.MaximumMemorySize(), false)

	// A 1 KiB object followed by a neighbor; interior bits of the large
	// object are set but must not be yielded because the object model
	// advances by consumed size.
	first := h.Base()
	interior := h.Base() + 512
	next := h.Base() + 1024
	m.SetBit(first)
	m.SetBit(interior)
	m.SetBit(next)

	it := NewIterator(m, fixedSizeModel{size: 1024}, h.Base(), h.Base()+64*1024)
	if got := it.NextObject(); got != first {
		t.Fatalf("first object = %#x", got)
	}
	if got := it.NextObject(); got != next {
		t.Fatalf("second object = %#x, want %#x (interior skipped)", got, next)
	}
}

func TestIteratorRespectsChunkTop(t *testing.T) {
	h := newTestHeap(t)
	m := NewHeapMap(h.Base(), h.MaximumMemorySize(), false)

	inside := h.Base() + 256
	outside := h.Base() + 8192
	m.SetBit(inside)
	m.SetBit(outside)

	it := NewIterator(m, nil, h.Base(), h.Base()+4096)
	if got := it.NextObject(); got != inside {
		t.Fatalf("object = %#x", got)
	}
	if got := it.NextObject(); got != 0 {
		t.Fatalf("iterator crossed chunk top: %#x", got)
	}
}

func TestSegmentChunkIterator(t *testing.T) {
	h := newTestHeap(t)
	m := NewHeapMap(h.Base(), h.MaximumMemorySize(), false)

	for offset := uintptr(0); offset < 64*1024; offset += 1024 {
		m.SetBit(h.Base() + env.Address(offset))
	}

	segments := NewSegmentChunkIterator(m, nil, h.Base(), h.Base()+64*1024, 16*1024)
	var it Iterator
	chunks, objects := 0, 0
	for {
		_, _, ok := segments.NextChunk(&it)
		if !ok {
			break
		}
		chunks++
		for obj := it.NextObject(); obj != 0; obj = it.NextObject() {
			objects++
		}
	}
	if chunks != 4 {
		t.Fatalf("chunks = %d, want 4", chunks)
	}
	if objects != 64 {
		t.Fatalf("objects = %d, want 64", objects)
	}
}

func TestHeapAddRangeMonotone(t *testing.T) {
	h := newTestHeap(t)
	m := NewHeapMap(h.Base(), h.MaximumMemorySize(), false)

	m.HeapAddRange(h.Base(), h.Base()+env.Address(testRegionSize))
	first := m.CommittedWords()
	if first == 0 {
		t.Fatal("commit did not advance")
	}
	m.HeapAddRange(h.Base(), h.Base()+env.Address(testRegionSize/2))
	if m.CommittedWords() != first {
		t.Fatal("commit footprint shrank")
	}
}
