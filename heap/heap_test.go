package heap

import (
	"testing"

	"github.com/orizon-lang/orizon-gc/env"
)

const (
	testRegionSize = 1 * 1024 * 1024
	testHeapSize   = 16 * testRegionSize
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	h, err := NewHeap(testHeapSize, testRegionSize)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	t.Cleanup(func() { _ = h.Release() })
	return h
}

func TestRegionTableShape(t *testing.T) {
	h := newTestHeap(t)
	manager := h.RegionManager()

	if manager.RegionCount() != 16 {
		t.Fatalf("region count = %d, want 16", manager.RegionCount())
	}

	var previous *RegionDescriptor
	count := 0
	for r := manager.FirstTableRegion(); r != nil; r = manager.NextTableRegion(r) {
		if r.Size() != testRegionSize {
			t.Fatalf("region size = %d", r.Size())
		}
		if previous != nil && previous.HighAddress() != r.LowAddress() {
			t.Fatalf("regions not contiguous at %#x", r.LowAddress())
		}
		if r.Type() != RegionFree {
			t.Fatalf("fresh region type = %v", r.Type())
		}
		previous = r
		count++
	}
	if count != 16 {
		t.Fatalf("walked %d regions, want 16", count)
	}
}

func TestTableRegionFor(t *testing.T) {
	h := newTestHeap(t)
	manager := h.RegionManager()

	first := manager.FirstTableRegion()
	if got := manager.TableRegionFor(first.LowAddress()); got != first {
		t.Fatal("low address resolved to wrong region")
	}
	mid := first.LowAddress() + env.Address(testRegionSize) + 12345
	second := manager.NextTableRegion(first)
	if got := manager.TableRegionFor(mid); got != second {
		t.Fatal("interior address resolved to wrong region")
	}
	if manager.TableRegionFor(h.Top()) != nil {
		t.Fatal("top address resolved inside the table")
	}
	if manager.TableRegionFor(first.LowAddress()-1) != nil {
		t.Fatal("address below base resolved inside the table")
	}
}

func TestRegionIteratorMergesAddressOrder(t *testing.T) {
	h := newTestHeap(t)
	manager := h.RegionManager()

	// Auxiliary regions interleave with table regions in address order.
	// Give them addresses outside the table so ordering is observable.
	auxLow := &RegionDescriptor{low: h.Base() - 4096, high: h.Base(), regionType: RegionArrayletLeaf}
	auxHigh := &RegionDescriptor{low: h.Top() + 4096, high: h.Top() + 8192, regionType: RegionArrayletLeaf}
	manager.InsertAuxiliaryRegion(auxHigh)
	manager.InsertAuxiliaryRegion(auxLow)

	it := NewRegionIterator(manager)
	var last env.Address
	seen := 0
	for r := it.NextRegion(); r != nil; r = it.NextRegion() {
		if r.LowAddress() < last {
			t.Fatalf("iteration not address ordered at %#x", r.LowAddress())
		}
		last = r.LowAddress()
		seen++
	}
	if seen != manager.RegionCount()+2 {
		t.Fatalf("saw %d regions, want %d", seen, manager.RegionCount()+2)
	}
}

func TestRegionIteratorMask(t *testing.T) {
	h := newTestHeap(t)
	manager := h.RegionManager()

	// Commit and populate two regions; the rest stay free.
	first := manager.FirstTableRegion()
	second := manager.NextTableRegion(first)
	h.CommitRegion(first)
	h.CommitRegion(second)
	first.SetType(RegionBumpAllocated)
	second.SetType(RegionAddressOrdered)

	it := NewMaskedRegionIterator(manager, PropertyContainsObjects)
	seen := 0
	for r := it.NextRegion(); r != nil; r = it.NextRegion() {
		if !r.ContainsObjects() {
			t.Fatalf("mask leaked region type %v", r.Type())
		}
		seen++
	}
	if seen != 2 {
		t.Fatalf("mask matched %d regions, want 2", seen)
	}

	// A mask matching nothing yields zero iterations.
	none := NewMaskedRegionIterator(manager, PropertyAuxiliary)
	if none.NextRegion() != nil {
		t.Fatal("auxiliary mask matched a table region")
	}
}

func TestRegionIteratorSpaceFilter(t *testing.T) {
	h := newTestHeap(t)
	manager := h.RegionManager()

	space := &MemorySpace{Name: "tenure"}
	first := manager.FirstTableRegion()
	first.SetMemorySpace(space)

	it := NewSpaceRegionIterator(manager, space)
	if got := it.NextRegion(); got != first {
		t.Fatal("space filter missed the tagged region")
	}
	if it.NextRegion() != nil {
		t.Fatal("space filter leaked untagged regions")
	}
}

func TestCommitAccounting(t *testing.T) {
	h := newTestHeap(t)
	manager := h.RegionManager()

	if h.ActiveMemorySize() != 0 {
		t.Fatal("fresh heap reports active memory")
	}
	first := manager.FirstTableRegion()
	h.CommitRegion(first)
	h.CommitRegion(first) // idempotent
	if h.ActiveMemorySize() != testRegionSize {
		t.Fatalf("active = %d, want %d", h.ActiveMemorySize(), testRegionSize)
	}
	if !first.IsCommitted() {
		t.Fatal("region not marked committed")
	}

	h.RecycleRegion(first)
	if first.Type() != RegionFree || first.Alloc() != first.LowAddress() {
		t.Fatal("recycle did not reset the region")
	}
	if !first.IsCommitted() {
		t.Fatal("recycle released the commit")
	}
}

func TestSlabBytes(t *testing.T) {
	h := newTestHeap(t)
	slab := h.Slab()

	span := slab.Bytes(h.Base()+100, 16)
	for i := range span {
		span[i] = byte(i)
	}
	again := slab.Bytes(h.Base()+100, 16)
	for i := range again {
		if again[i] != byte(i) {
			t.Fatalf("slab byte %d = %d", i, again[i])
		}
	}
	if !slab.Contains(h.Base()) || slab.Contains(h.Top()) {
		t.Fatal("slab bounds wrong")
	}
}

func TestIterationSafeOnEmptyManager(t *testing.T) {
	// During shutdown both lists may be partially populated; a nil head
	// must not fault.
	manager := &RegionManager{regionSize: testRegionSize}
	it := NewRegionIterator(manager)
	if it.NextRegion() != nil {
		t.Fatal("empty manager yielded a region")
	}
}
