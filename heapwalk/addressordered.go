// Package heapwalk provides object-level iteration over heap regions:
// a buffered iterator refilled by per-region-type populators, the
// address-ordered object walk, sweep chunk sectioning, and a parallel
// heap walker task.
package heapwalk

import (
	"github.com/orizon-lang/orizon-gc/env"
)

// AddressOrderedIterator walks [cursor, top) of a region whose objects
// are interleaved with free-list fillers, consulting the object model
// for both live sizes and dead-object markers.
type AddressOrderedIterator struct {
	model       env.ObjectModel
	cursor      env.Address
	top         env.Address
	includeDead bool
	skipFirst   bool
}

// NewAddressOrderedIterator positions a walk at base. With skipFirst
// the object at base is stepped over before the first yield, which lets
// a caller resume a walk from its last returned object.
func NewAddressOrderedIterator(model env.ObjectModel, base, top env.Address, includeDead, skipFirst bool) *AddressOrderedIterator {
	return &AddressOrderedIterator{model: model, cursor: base, top: top, includeDead: includeDead, skipFirst: skipFirst}
}

// NextObject returns the next object address, or 0 at the end of the
// range. Dead objects are yielded only when includeDead is set.
func (it *AddressOrderedIterator) NextObject() env.Address {
	for it.cursor < it.top {
		object := it.cursor
		dead := it.model.IsDeadObject(object)
		var size uintptr
		if dead {
			size = it.model.SizeInBytesDeadObject(object)
		} else {
			size = it.model.ConsumedSizeInBytes(object)
		}
		if size == 0 {
			// A zero-length header means the walk ran off the end of
			// initialized memory; stop rather than loop.
			return 0
		}
		it.cursor += env.Address(size)
		if it.skipFirst {
			it.skipFirst = false
			continue
		}
		if dead && !it.includeDead {
			continue
		}
		return object
	}
	return 0
}
