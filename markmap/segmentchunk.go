package markmap

import "github.com/orizon-lang/orizon-gc/env"

// SegmentChunkIterator carves a heap segment into bounded chunks and
// positions a bit iterator over each in turn, so a worker can bound how
// much map it scans between yield checks.
type SegmentChunkIterator struct {
	m           *HeapMap
	objectModel env.ObjectModel
	chunkSize   uintptr

	current env.Address
	top     env.Address
}

// NewSegmentChunkIterator walks [base, top) in chunks of chunkSize
// bytes.
func NewSegmentChunkIterator(m *HeapMap, objectModel env.ObjectModel, base, top env.Address, chunkSize uintptr) *SegmentChunkIterator {
	env.Assert(chunkSize > 0, "segment chunk size must be positive")
	return &SegmentChunkIterator{m: m, objectModel: objectModel, chunkSize: chunkSize, current: base, top: top}
}

// NextChunk resets out over the next chunk and returns its bounds.
// Returns ok=false when the segment is exhausted.
func (it *SegmentChunkIterator) NextChunk(out *Iterator) (base, top env.Address, ok bool) {
	if it.current >= it.top {
		return 0, 0, false
	}
	base = it.current
	top = base + env.Address(it.chunkSize)
	if top > it.top {
		top = it.top
	}
	it.current = top
	if out.m == nil {
		out.m = it.m
		out.objectModel = it.objectModel
		out.useLargeObjectOptimization = it.objectModel != nil
	}
	out.Reset(base, top)
	return base, top, true
}
