package heap

// RegionIterator walks table and auxiliary regions merged in address
// order, applying a property mask and an optional memory-space filter.
// Iteration is safe against a nil head on either stream, which can
// happen during shutdown while the lists are partially populated.
type RegionIterator struct {
	manager *RegionManager
	mask    uint32
	space   *MemorySpace

	auxRegion   *RegionDescriptor
	tableRegion *RegionDescriptor
}

// NewRegionIterator walks every region.
func NewRegionIterator(manager *RegionManager) *RegionIterator {
	return NewMaskedRegionIterator(manager, PropertyAll)
}

// NewMaskedRegionIterator walks regions whose properties intersect
// mask.
func NewMaskedRegionIterator(manager *RegionManager, mask uint32) *RegionIterator {
	return &RegionIterator{
		manager:     manager,
		mask:        mask,
		auxRegion:   manager.FirstAuxiliaryRegion(),
		tableRegion: manager.FirstTableRegion(),
	}
}

// NewSpaceRegionIterator walks regions belonging to the given memory
// space.
func NewSpaceRegionIterator(manager *RegionManager, space *MemorySpace) *RegionIterator {
	it := NewMaskedRegionIterator(manager, PropertyAll)
	it.space = space
	return it
}

func (it *RegionIterator) shouldInclude(r *RegionDescriptor) bool {
	if it.mask != PropertyAll && it.mask&r.Properties() == 0 {
		return false
	}
	if it.space != nil {
		return r.MemorySpace() == it.space
	}
	return true
}

// NextRegion returns the next matching region in address order, or nil
// when the walk is complete.
func (it *RegionIterator) NextRegion() *RegionDescriptor {
	for it.auxRegion != nil || it.tableRegion != nil {
		var current *RegionDescriptor
		// The two streams are each address ordered; emit the lower head.
		if it.auxRegion != nil && (it.tableRegion == nil || it.auxRegion.low < it.tableRegion.low) {
			current = it.auxRegion
			it.auxRegion = it.manager.NextAuxiliaryRegion(it.auxRegion)
		} else {
			current = it.tableRegion
			it.tableRegion = it.manager.NextTableRegion(it.tableRegion)
		}
		if it.shouldInclude(current) {
			return current
		}
	}
	return nil
}
