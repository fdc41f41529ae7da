package markmap

import (
	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
)

// ClearTask zeroes the mark map across all committed regions as a
// parallel dispatcher task; every thread walks the same unit sequence
// and claims units through the work-unit counter.
type ClearTask struct {
	markMap  *MarkMap
	manager  *heap.RegionManager
	heapSize uintptr
}

// NewClearTask builds the clear task for one collection cycle.
func NewClearTask(markMap *MarkMap, manager *heap.RegionManager, heapSize uintptr) *ClearTask {
	return &ClearTask{markMap: markMap, manager: manager, heapSize: heapSize}
}

// Name identifies the task in logs.
func (t *ClearTask) Name() string { return "clearMarkMap" }

// RecommendedWorkingThreads reports no adaptive hint.
func (t *ClearTask) RecommendedWorkingThreads() int { return 0 }

// MainSetup runs on the dispatching thread before workers wake.
func (t *ClearTask) MainSetup(e *env.Environment) {}

// MainCleanup runs on the dispatching thread after completion.
func (t *ClearTask) MainCleanup(e *env.Environment) {}

// Accept runs on each reserved thread before Run.
func (t *ClearTask) Accept(e *env.Environment) {}

// Complete runs on each thread after Run.
func (t *ClearTask) Complete(e *env.Environment) {}

// Run clears this thread's share of the map.
func (t *ClearTask) Run(e *env.Environment) {
	t.markMap.InitializeMarkMap(e, t.manager, t.heapSize)
}
