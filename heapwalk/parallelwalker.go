package heapwalk

import (
	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
)

// ObjectVisitor is called for each object during a heap walk.
type ObjectVisitor func(e *env.Environment, object env.Address)

// ParallelHeapWalkerTask walks every object-bearing region through the
// buffered iterator, splitting each region into evenly sized spans that
// threads claim through the dispatcher work-unit counter. It satisfies
// the dispatcher's Task interface.
type ParallelHeapWalkerTask struct {
	cfg     *WalkConfig
	manager *heap.RegionManager

	// splitSize bounds the span one work unit covers inside a region.
	splitSize uintptr

	includeDead bool
	visitor     ObjectVisitor
}

// NewParallelHeapWalkerTask builds a walk over manager's regions with
// work parcels of splitSize bytes.
func NewParallelHeapWalkerTask(cfg *WalkConfig, manager *heap.RegionManager, splitSize uintptr, includeDead bool, visitor ObjectVisitor) *ParallelHeapWalkerTask {
	env.Assert(splitSize > 0, "heap walker split size must be positive")
	return &ParallelHeapWalkerTask{
		cfg:         cfg,
		manager:     manager,
		splitSize:   splitSize,
		includeDead: includeDead,
		visitor:     visitor,
	}
}

// Name identifies the task in logs.
func (t *ParallelHeapWalkerTask) Name() string { return "parallelHeapWalk" }

// RecommendedWorkingThreads reports no adaptive hint.
func (t *ParallelHeapWalkerTask) RecommendedWorkingThreads() int { return 0 }

// MainSetup runs on the dispatching thread before workers wake.
func (t *ParallelHeapWalkerTask) MainSetup(e *env.Environment) {}

// MainCleanup runs on the dispatching thread after completion.
func (t *ParallelHeapWalkerTask) MainCleanup(e *env.Environment) {}

// Accept runs on each reserved thread before Run.
func (t *ParallelHeapWalkerTask) Accept(e *env.Environment) {}

// Complete runs on each thread after Run.
func (t *ParallelHeapWalkerTask) Complete(e *env.Environment) {}

// Run walks the region table; every thread enumerates the same span
// sequence and claims spans through the work-unit counter.
func (t *ParallelHeapWalkerTask) Run(e *env.Environment) {
	it := heap.NewMaskedRegionIterator(t.manager, heap.PropertyContainsObjects)
	for region := it.NextRegion(); region != nil; region = it.NextRegion() {
		base := region.LowAddress()
		high := region.HighAddress()
		for base < high {
			top := base + env.Address(t.splitSize)
			if top > high {
				top = high
			}
			if e.HandleNextWorkUnit() {
				t.walkSpan(e, region, base, top)
			}
			base = top
		}
	}
}

func (t *ParallelHeapWalkerTask) walkSpan(e *env.Environment, region *heap.RegionDescriptor, base, top env.Address) {
	it := NewBufferedIteratorRange(t.cfg, region, base, top, t.includeDead, bufferedIteratorCacheSize)
	for object := it.NextObject(); object != 0; object = it.NextObject() {
		t.visitor(e, object)
	}
}
