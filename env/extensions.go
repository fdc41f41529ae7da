package env

import (
	"log/slog"
	"sync/atomic"
)

// Extensions is the process-wide GC context: options, the metadata
// forge, and handles to the host collaborators. It is built once at
// startup, before any GC thread exists, and torn down after the last
// one exits.
type Extensions struct {
	Forge *Forge

	// ObjectModel interprets object headers; opaque to the substrate.
	ObjectModel ObjectModel

	// GlobalCollector provides the reservation-window and cache-flush
	// hooks allocation caches cooperate with.
	GlobalCollector GlobalCollector

	// Heap reports occupancy for thread-count clamping.
	Heap HeapSizer

	// Log is the component logger; quiet on fast paths.
	Log *slog.Logger

	options atomic.Pointer[Options]
}

// NewExtensions builds the global context around the given options.
func NewExtensions(options *Options) *Extensions {
	ext := &Extensions{
		Forge: NewForge(),
		Log:   slog.Default().With("component", "gc"),
	}
	ext.options.Store(options)
	return ext
}

// Options returns the current option set. The pointer is swapped
// atomically by the config watcher between cycles; callers should load
// once per operation rather than once per field.
func (x *Extensions) Options() *Options {
	return x.options.Load()
}

// SetOptions installs a new option set. Static fields (pool capacity,
// heap ceiling) must be carried over unchanged by the caller.
func (x *Extensions) SetOptions(o *Options) {
	x.options.Store(o)
}
