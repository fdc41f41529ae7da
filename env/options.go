package env

import "fmt"

// Default tuning values.
const (
	DefaultTLHInitialSize   = 2 * 1024
	DefaultTLHMinimumSize   = 512
	DefaultTLHMaximumSize   = 128 * 1024
	DefaultTLHIncrementSize = 4 * 1024

	DefaultGCThreadCount               = 4
	DefaultHybridNotifyThreadBound     = 16
	DefaultMinimumHeapPerThread        = 2 * 1024 * 1024
	DefaultTLHAbandonedListMaximum     = 32
	DefaultAllocationCacheInitialSize  = 1 * 1024
	DefaultAllocationCacheIncrement    = 4 * 1024
	DefaultAllocationCacheMaximumSize  = 64 * 1024
	DefaultFrequentObjectSamplingRate  = 100
	DefaultVeryLargeObjectSizeClass    = 48
	DefaultFrequentAllocateSizeSamples = 10

	// HeapAlignment is the grain for heap spans, clear units and chunk
	// boundaries.
	HeapAlignment = 1024

	// ObjectAlignment is the minimum object alignment; one mark-map bit
	// covers one such slot.
	ObjectAlignment = 8

	// MinimumObjectSize is the smallest legal object, used for trailing
	// dummy objects when a reservation window is restored.
	MinimumObjectSize = 16
)

// Options carries the tuning knobs consumed by the substrate. A single
// Options instance is shared through Extensions; the dynamic subset may
// be swapped between cycles by the config watcher.
type Options struct {
	// GCThreadCount is the dispatcher pool capacity and the default
	// active thread count.
	GCThreadCount int
	// GCThreadCountForced disables the heap and CPU clamps on the
	// active thread count.
	GCThreadCountForced bool

	// TLH refresh-size growth schedule.
	TLHInitialSize   uintptr
	TLHMinimumSize   uintptr
	TLHMaximumSize   uintptr
	TLHIncrementSize uintptr

	// TLHAbandonedListMaximum bounds the per-thread abandoned TLH list;
	// remainders past the cap return to the owning pool.
	TLHAbandonedListMaximum int

	// BatchClearTLH zeroes a whole freshly acquired TLH instead of
	// relying on lazy zeroing.
	BatchClearTLH bool

	// ParSweepChunkSize is the sweep chunk size in bytes; 0 selects the
	// heap-size/thread-count heuristic.
	ParSweepChunkSize uintptr

	// DispatcherHybridNotifyThreadBound is the wake-set size below
	// which workers are notified individually rather than broadcast.
	DispatcherHybridNotifyThreadBound int

	// MinimumHeapPerThread clamps the active thread count for small
	// heaps.
	MinimumHeapPerThread uintptr

	// Allocation-profile statistics.
	LargeObjectAllocationProfilingVeryLargeObjectSizeClass int
	FrequentObjectAllocationSamplingRate                   int // percent of a TLH walked on refresh
	FrequentObjectsStatsEnabled                            bool
	MaxFrequentAllocateSizes                               int

	// Segregated allocation cache replenish schedule.
	AllocationCacheInitialSize   uintptr
	AllocationCacheIncrementSize uintptr
	AllocationCacheMaximumSize   uintptr

	// MemoryMax is the maximum heap size in bytes.
	MemoryMax uintptr
}

// NewOptions returns options populated with defaults for the given
// maximum heap size.
func NewOptions(memoryMax uintptr) *Options {
	return &Options{
		GCThreadCount:                     DefaultGCThreadCount,
		TLHInitialSize:                    DefaultTLHInitialSize,
		TLHMinimumSize:                    DefaultTLHMinimumSize,
		TLHMaximumSize:                    DefaultTLHMaximumSize,
		TLHIncrementSize:                  DefaultTLHIncrementSize,
		TLHAbandonedListMaximum:           DefaultTLHAbandonedListMaximum,
		DispatcherHybridNotifyThreadBound: DefaultHybridNotifyThreadBound,
		MinimumHeapPerThread:              DefaultMinimumHeapPerThread,
		LargeObjectAllocationProfilingVeryLargeObjectSizeClass: DefaultVeryLargeObjectSizeClass,
		FrequentObjectAllocationSamplingRate:                   DefaultFrequentObjectSamplingRate,
		MaxFrequentAllocateSizes:                               DefaultFrequentAllocateSizeSamples,
		AllocationCacheInitialSize:                             DefaultAllocationCacheInitialSize,
		AllocationCacheIncrementSize:                           DefaultAllocationCacheIncrement,
		AllocationCacheMaximumSize:                             DefaultAllocationCacheMaximumSize,
		MemoryMax:                                              memoryMax,
	}
}

// Validate checks the option set for internally inconsistent values.
// reservedForGC is the collector's TLH reservation window size; it must
// fit below the TLH minimum or every refresh would bounce.
func (o *Options) Validate(reservedForGC uintptr) error {
	if o.GCThreadCount < 1 {
		return fmt.Errorf("%w: gcThreadCount %d < 1", ErrInitializationError, o.GCThreadCount)
	}
	if o.TLHMinimumSize > o.TLHInitialSize || o.TLHInitialSize > o.TLHMaximumSize {
		return fmt.Errorf("%w: tlh size schedule min=%d initial=%d max=%d",
			ErrInitializationError, o.TLHMinimumSize, o.TLHInitialSize, o.TLHMaximumSize)
	}
	if reservedForGC >= o.TLHMinimumSize {
		return fmt.Errorf("%w: reservedForGC %d >= tlhMinimumSize %d",
			ErrInitializationError, reservedForGC, o.TLHMinimumSize)
	}
	if o.FrequentObjectAllocationSamplingRate < 0 || o.FrequentObjectAllocationSamplingRate > 100 {
		return fmt.Errorf("%w: frequentObjectAllocationSamplingRate %d outside [0,100]",
			ErrInitializationError, o.FrequentObjectAllocationSamplingRate)
	}
	if o.MemoryMax == 0 {
		return fmt.Errorf("%w: memoryMax is zero", ErrInitializationError)
	}
	return nil
}
