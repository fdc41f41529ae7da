package heap

import (
	"sync"

	"github.com/orizon-lang/orizon-gc/env"
)

// RegionManager owns the address-ordered table of fixed-size regions
// plus the auxiliary region list. Topology mutation (adding auxiliary
// regions, committing) excludes walkers through the manager lock.
type RegionManager struct {
	mu sync.Mutex

	regionSize uintptr

	// table holds the fixed-size regions in address order. Slots are
	// created at heap initialization and never destroyed.
	table []*RegionDescriptor

	// auxHead is the address-ordered list of auxiliary regions.
	auxHead *RegionDescriptor
}

// NewRegionManager builds the table covering [base, base+size) with
// fixed-size regions. size must be a multiple of regionSize.
func NewRegionManager(base env.Address, size, regionSize uintptr) *RegionManager {
	env.Assertf(size%regionSize == 0, "heap size %d not a multiple of region size %d", size, regionSize)
	count := size / regionSize
	table := make([]*RegionDescriptor, count)
	for i := uintptr(0); i < count; i++ {
		low := base + env.Address(i*regionSize)
		table[i] = &RegionDescriptor{
			low:        low,
			high:       low + env.Address(regionSize),
			alloc:      low,
			regionType: RegionFree,
		}
	}
	return &RegionManager{regionSize: regionSize, table: table}
}

// RegionSize returns the fixed table-region size.
func (m *RegionManager) RegionSize() uintptr { return m.regionSize }

// RegionCount returns the number of table regions.
func (m *RegionManager) RegionCount() int { return len(m.table) }

// Lock excludes topology changes while a GC thread walks regions.
func (m *RegionManager) Lock() { m.mu.Lock() }

// Unlock releases the topology lock.
func (m *RegionManager) Unlock() { m.mu.Unlock() }

// FirstTableRegion returns the lowest-addressed table region, or nil
// during early startup or late shutdown.
func (m *RegionManager) FirstTableRegion() *RegionDescriptor {
	if len(m.table) == 0 {
		return nil
	}
	return m.table[0]
}

// NextTableRegion returns the table region after r in address order, or
// nil past the end.
func (m *RegionManager) NextTableRegion(r *RegionDescriptor) *RegionDescriptor {
	index := int(uintptr(r.low-m.table[0].low) / m.regionSize)
	if index+1 >= len(m.table) {
		return nil
	}
	return m.table[index+1]
}

// FirstAuxiliaryRegion returns the lowest-addressed auxiliary region,
// or nil when none exist.
func (m *RegionManager) FirstAuxiliaryRegion() *RegionDescriptor {
	return m.auxHead
}

// NextAuxiliaryRegion returns the auxiliary region after r in address
// order, or nil past the end.
func (m *RegionManager) NextAuxiliaryRegion(r *RegionDescriptor) *RegionDescriptor {
	return r.next
}

// TableRegionFor returns the table region containing addr, or nil when
// addr is outside the table span.
func (m *RegionManager) TableRegionFor(addr env.Address) *RegionDescriptor {
	if len(m.table) == 0 {
		return nil
	}
	base := m.table[0].low
	top := m.table[len(m.table)-1].high
	if addr < base || addr >= top {
		return nil
	}
	return m.table[uintptr(addr-base)/m.regionSize]
}

// InsertAuxiliaryRegion adds an auxiliary region descriptor keeping the
// list address ordered. Held under the manager lock.
func (m *RegionManager) InsertAuxiliaryRegion(r *RegionDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.auxiliary = true
	if m.auxHead == nil || r.low < m.auxHead.low {
		r.next = m.auxHead
		m.auxHead = r
		return
	}
	prev := m.auxHead
	for prev.next != nil && prev.next.low < r.low {
		prev = prev.next
	}
	r.next = prev.next
	prev.next = r
}
