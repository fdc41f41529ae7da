package heapwalk

import (
	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
	"github.com/orizon-lang/orizon-gc/markmap"
)

// iteratorState is the populator scratch: a cursor pair, the
// skip-first-object flag, and the region facts the variant needs.
type iteratorState struct {
	includeDead bool
	skipFirst   bool

	cursor env.Address
	top    env.Address

	regionType heap.RegionType
	cellSize   uintptr

	mapIterator *markmap.Iterator
}

// populator refills the buffered iterator cache for one region layout.
type populator interface {
	initialize(cfg *WalkConfig, region *heap.RegionDescriptor, state *iteratorState)
	reset(cfg *WalkConfig, region *heap.RegionDescriptor, state *iteratorState, base, top env.Address)
	populate(cfg *WalkConfig, cache []env.Address, state *iteratorState) int
	advance(cfg *WalkConfig, size uintptr, state *iteratorState)
}

// WalkConfig carries the collaborators populators consult.
type WalkConfig struct {
	Model env.ObjectModel

	// PreviousMarkMap drives the marked-object populator.
	PreviousMarkMap *markmap.MarkMap
}

// populatorFor selects the variant for a region's current type. The
// dispatch table replaces the original's subclass polymorphism.
func populatorFor(regionType heap.RegionType) populator {
	switch regionType {
	case heap.RegionReserved, heap.RegionFree,
		heap.RegionAddressOrderedIdle, heap.RegionBumpAllocatedIdle,
		heap.RegionArrayletLeaf:
		// An idle region holds nothing live; same as free.
		return emptyListPopulator{}
	case heap.RegionBumpAllocated:
		return bumpAllocatedPopulator{}
	case heap.RegionAddressOrdered:
		return addressOrderedPopulator{}
	case heap.RegionAddressOrderedMarked, heap.RegionBumpAllocatedMarked:
		return markedObjectPopulator{}
	case heap.RegionSegregatedSmall, heap.RegionSegregatedLarge:
		return segregatedListPopulator{}
	default:
		env.Unreachable("populator for region type")
		return nil
	}
}

// emptyListPopulator yields nothing.
type emptyListPopulator struct{}

func (emptyListPopulator) initialize(*WalkConfig, *heap.RegionDescriptor, *iteratorState) {}
func (emptyListPopulator) reset(*WalkConfig, *heap.RegionDescriptor, *iteratorState, env.Address, env.Address) {
}
func (emptyListPopulator) populate(*WalkConfig, []env.Address, *iteratorState) int { return 0 }
func (emptyListPopulator) advance(*WalkConfig, uintptr, *iteratorState)            {}

// addressOrderedPopulator drains the free-list-interleaved walk.
type addressOrderedPopulator struct{}

func (p addressOrderedPopulator) initialize(cfg *WalkConfig, region *heap.RegionDescriptor, state *iteratorState) {
	p.reset(cfg, region, state, region.LowAddress(), region.HighAddress())
}

func (addressOrderedPopulator) reset(cfg *WalkConfig, region *heap.RegionDescriptor, state *iteratorState, base, top env.Address) {
	state.skipFirst = false
	state.cursor = base
	state.top = top
}

func (addressOrderedPopulator) populate(cfg *WalkConfig, cache []env.Address, state *iteratorState) int {
	if state.cursor == 0 {
		return 0
	}
	it := NewAddressOrderedIterator(cfg.Model, state.cursor, state.top, state.includeDead, state.skipFirst)
	count := 0
	var last env.Address
	for count < len(cache) {
		object := it.NextObject()
		if object == 0 {
			break
		}
		cache[count] = object
		last = object
		count++
	}
	if count != 0 {
		state.cursor = last
		state.skipFirst = true
	}
	return count
}

func (addressOrderedPopulator) advance(cfg *WalkConfig, size uintptr, state *iteratorState) {
	state.cursor += env.Address(size)
	state.skipFirst = false
}

// bumpAllocatedPopulator walks packed objects and stops cleanly at the
// live high-water.
type bumpAllocatedPopulator struct{}

func (p bumpAllocatedPopulator) initialize(cfg *WalkConfig, region *heap.RegionDescriptor, state *iteratorState) {
	p.reset(cfg, region, state, region.LowAddress(), region.Alloc())
}

func (bumpAllocatedPopulator) reset(cfg *WalkConfig, region *heap.RegionDescriptor, state *iteratorState, base, top env.Address) {
	state.skipFirst = false
	state.cursor = base
	state.top = top
	if alloc := region.Alloc(); state.top > alloc {
		state.top = alloc
	}
}

func (bumpAllocatedPopulator) populate(cfg *WalkConfig, cache []env.Address, state *iteratorState) int {
	count := 0
	cursor := state.cursor
	for count < len(cache) && cursor < state.top {
		size := cfg.Model.ConsumedSizeInBytes(cursor)
		if size == 0 {
			break
		}
		cache[count] = cursor
		cursor += env.Address(size)
		count++
	}
	state.cursor = cursor
	return count
}

func (bumpAllocatedPopulator) advance(cfg *WalkConfig, size uintptr, state *iteratorState) {
	state.cursor += env.Address(size)
}

// markedObjectPopulator emits only objects set in the previous mark
// map, advancing past each by its consumed size.
type markedObjectPopulator struct{}

func (p markedObjectPopulator) initialize(cfg *WalkConfig, region *heap.RegionDescriptor, state *iteratorState) {
	p.reset(cfg, region, state, region.LowAddress(), region.HighAddress())
}

func (markedObjectPopulator) reset(cfg *WalkConfig, region *heap.RegionDescriptor, state *iteratorState, base, top env.Address) {
	env.Assert(cfg.PreviousMarkMap != nil, "marked-object walk without a mark map")
	state.skipFirst = false
	state.cursor = base
	state.top = top
	state.mapIterator = markmap.NewIterator(cfg.PreviousMarkMap.HeapMap, cfg.Model, base, top)
}

func (markedObjectPopulator) populate(cfg *WalkConfig, cache []env.Address, state *iteratorState) int {
	if state.mapIterator == nil {
		return 0
	}
	count := 0
	for count < len(cache) {
		object := state.mapIterator.NextObject()
		if object == 0 {
			break
		}
		cache[count] = object
		count++
	}
	if count != 0 {
		state.cursor = cache[count-1] + env.Address(env.MinimumObjectSize)
	}
	return count
}

func (markedObjectPopulator) advance(cfg *WalkConfig, size uintptr, state *iteratorState) {
	state.cursor += env.Address(size)
	state.mapIterator = markmap.NewIterator(cfg.PreviousMarkMap.HeapMap, cfg.Model, state.cursor, state.top)
}

// segregatedListPopulator respects the cell grain of small classes and
// the single-object layout of large-class regions.
type segregatedListPopulator struct{}

func (p segregatedListPopulator) initialize(cfg *WalkConfig, region *heap.RegionDescriptor, state *iteratorState) {
	p.reset(cfg, region, state, region.LowAddress(), region.HighAddress())
	state.regionType = region.Type()
	state.cellSize = region.CellSize()
}

func (segregatedListPopulator) reset(cfg *WalkConfig, region *heap.RegionDescriptor, state *iteratorState, base, top env.Address) {
	state.skipFirst = false
	state.cursor = base
	state.top = top
	state.regionType = region.Type()
	state.cellSize = region.CellSize()
}

func (segregatedListPopulator) populate(cfg *WalkConfig, cache []env.Address, state *iteratorState) int {
	if state.cursor == 0 {
		return 0
	}
	count := 0
	if state.regionType == heap.RegionSegregatedLarge {
		// One object fills the region.
		if state.cursor == 0 || state.cursor >= state.top {
			return 0
		}
		if !cfg.Model.IsDeadObject(state.cursor) || state.includeDead {
			cache[0] = state.cursor
			count = 1
		}
		state.cursor = state.top
		return count
	}

	env.Assert(state.cellSize != 0, "segregated small region without cell size")
	cursor := state.cursor
	for count < len(cache) && cursor+env.Address(state.cellSize) <= state.top {
		if state.includeDead || !cfg.Model.IsDeadObject(cursor) {
			cache[count] = cursor
			count++
		}
		cursor += env.Address(state.cellSize)
	}
	state.cursor = cursor
	return count
}

func (segregatedListPopulator) advance(cfg *WalkConfig, size uintptr, state *iteratorState) {
	state.cursor += env.Address(size)
}
