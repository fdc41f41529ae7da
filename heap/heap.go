package heap

import (
	"sync/atomic"

	"github.com/orizon-lang/orizon-gc/env"
)

// Heap ties the reserved slab to the region table and tracks committed
// occupancy. It satisfies env.HeapSizer for thread-count clamping.
type Heap struct {
	slab    *Slab
	manager *RegionManager

	maximumSize uintptr
	activeSize  atomic.Uintptr
}

// NewHeap reserves maximumSize bytes of backing storage and builds the
// region table over it. maximumSize must be a multiple of regionSize.
func NewHeap(maximumSize, regionSize uintptr) (*Heap, error) {
	slab, err := ReserveSlab(maximumSize)
	if err != nil {
		return nil, err
	}
	return &Heap{
		slab:        slab,
		manager:     NewRegionManager(slab.Base(), maximumSize, regionSize),
		maximumSize: maximumSize,
	}, nil
}

// Slab returns the backing span.
func (h *Heap) Slab() *Slab { return h.slab }

// RegionManager returns the region table.
func (h *Heap) RegionManager() *RegionManager { return h.manager }

// MaximumMemorySize returns the reserved heap ceiling in bytes.
func (h *Heap) MaximumMemorySize() uintptr { return h.maximumSize }

// ActiveMemorySize returns the committed heap size in bytes.
func (h *Heap) ActiveMemorySize() uintptr { return h.activeSize.Load() }

// Base returns the lowest heap address.
func (h *Heap) Base() env.Address { return h.slab.Base() }

// Top returns the exclusive highest heap address.
func (h *Heap) Top() env.Address { return h.slab.Base() + env.Address(h.maximumSize) }

// CommitRegion marks a region's storage committed and charges it to the
// active size. Once committed, a region's footprint stays committed for
// the process lifetime.
func (h *Heap) CommitRegion(r *RegionDescriptor) {
	h.manager.Lock()
	defer h.manager.Unlock()
	if r.committed {
		return
	}
	r.committed = true
	h.slab.Advise(r.low, r.Size(), true)
	h.activeSize.Add(r.Size())
}

// RecycleRegion returns a region to the free type without releasing its
// commit; the kernel is advised the contents are disposable.
func (h *Heap) RecycleRegion(r *RegionDescriptor) {
	h.manager.Lock()
	defer h.manager.Unlock()
	r.regionType = RegionFree
	r.alloc = r.low
	r.cellSize = 0
	h.slab.Advise(r.low, r.Size(), false)
}

// Release tears down the backing storage. Only valid after the last GC
// thread has exited.
func (h *Heap) Release() error {
	return h.slab.Release()
}
