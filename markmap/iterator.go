package markmap

import (
	"math/bits"

	"github.com/orizon-lang/orizon-gc/env"
)

// Iterator yields each heap address whose map bit is set within a
// chunk. It caches the current map word and jumps over runs of clear
// bits with a trailing-zero count instead of testing bit by bit; with
// the large-object optimization it also skips the interior of each
// object by its consumed size.
type Iterator struct {
	m           *HeapMap
	objectModel env.ObjectModel

	current env.Address
	top     env.Address

	wordIndex    uintptr
	wordValue    uint64 // shifted so bit 0 corresponds to current
	bitIndexHead uintptr

	useLargeObjectOptimization bool
}

// NewIterator positions an iterator over [chunkBase, chunkTop). When
// objectModel is non-nil, marked objects are skipped over by their
// consumed size so interior bits of large objects are never revisited.
func NewIterator(m *HeapMap, objectModel env.ObjectModel, chunkBase, chunkTop env.Address) *Iterator {
	it := &Iterator{m: m, objectModel: objectModel, useLargeObjectOptimization: objectModel != nil}
	it.Reset(chunkBase, chunkTop)
	return it
}

// Reset repositions the iterator over [chunkBase, chunkTop).
func (it *Iterator) Reset(chunkBase, chunkTop env.Address) {
	it.current = chunkBase
	it.top = chunkTop
	offset := uintptr(chunkBase - it.m.baseDelta)
	it.wordIndex = offset >> it.m.indexShift
	it.bitIndexHead = it.m.BitIndex(chunkBase)
	// Cache the first word only when there is at least one slot to
	// scan.
	if it.current < it.top {
		it.wordValue = it.m.bits[it.wordIndex] >> it.bitIndexHead
	}
}

// NextObject returns the next set-bit address, or 0 when the chunk is
// exhausted.
func (it *Iterator) NextObject() env.Address {
	grain := env.Address(it.m.ObjectGrain())

	for it.current < it.top {
		if it.wordValue != 0 {
			skip := uintptr(bits.TrailingZeros64(it.wordValue))
			if skip != 0 {
				it.current += grain * env.Address(skip)
				it.wordValue >>= skip
				it.bitIndexHead += skip
			}

			object := it.current
			sizeInBits := uintptr(1)
			if it.useLargeObjectOptimization {
				sizeInBits = it.objectModel.ConsumedSizeInBytes(object) / it.m.ObjectGrain()
				if sizeInBits == 0 {
					sizeInBits = 1
				}
			}

			// Jump over the body of the object.
			it.current += grain * env.Address(sizeInBits)
			wordAdvance := (it.bitIndexHead + sizeInBits) / bitsPerWord
			it.wordIndex += wordAdvance
			it.bitIndexHead = (it.bitIndexHead + sizeInBits) % bitsPerWord

			if wordAdvance != 0 {
				if it.current < it.top {
					it.wordValue = it.m.bits[it.wordIndex] >> it.bitIndexHead
				}
			} else {
				it.wordValue >>= sizeInBits % bitsPerWord
			}

			if object < it.top {
				return object
			}
			return 0
		}

		// The rest of this word is clear; advance to the next word
		// boundary.
		it.current += grain * env.Address(bitsPerWord-it.bitIndexHead)
		it.wordIndex++
		it.bitIndexHead = 0
		if it.current < it.top && it.wordIndex < uintptr(len(it.m.bits)) {
			it.wordValue = it.m.bits[it.wordIndex]
		}
	}

	return 0
}
