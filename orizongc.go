// Package orizongc assembles the GC substrate: heap and region table,
// mark map, worker-pool dispatcher, main GC thread controller,
// allocation statistics and telemetry, started and torn down in
// dependency order.
package orizongc

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/orizon-lang/orizon-gc/config"
	"github.com/orizon-lang/orizon-gc/dispatch"
	"github.com/orizon-lang/orizon-gc/driver"
	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
	"github.com/orizon-lang/orizon-gc/markmap"
	"github.com/orizon-lang/orizon-gc/telemetry"
	"github.com/orizon-lang/orizon-gc/tlh"
)

// SubstrateConfig collects what the host runtime supplies at startup.
type SubstrateConfig struct {
	// Options tunes the substrate; nil selects defaults for HeapSize.
	Options *env.Options

	// HeapSize and RegionSize shape the managed heap. HeapSize must be
	// a multiple of RegionSize.
	HeapSize   uintptr
	RegionSize uintptr

	// HostInterfaceVersion gates startup against the supported range;
	// empty skips the gate (embedded test harnesses).
	HostInterfaceVersion string

	// ObjectModel interprets object headers.
	ObjectModel env.ObjectModel

	// GlobalCollector supplies the reservation-window and cache-flush
	// hooks; may be nil when no concurrent barriers are in play.
	GlobalCollector env.GlobalCollector

	// Collector is the policy driven by the main GC thread; nil leaves
	// the controller disabled.
	Collector driver.Collector

	// MainThread selects the controller's execution modes.
	MainThread driver.Config

	// OptionsFile, when set, is loaded over the defaults and watched
	// for dynamic-tunable changes.
	OptionsFile string

	// TelemetryAddr, when set, serves /metrics and /snapshot there.
	TelemetryAddr string

	// TelemetryAddr3, when set, serves the same endpoints over HTTP/3.
	// TelemetryTLS must carry a server certificate; QUIC has no
	// plaintext mode.
	TelemetryAddr3 string
	TelemetryTLS   *tls.Config
}

// Substrate is the assembled core. Construction is all-or-nothing:
// a failed subsystem tears down the ones already started.
type Substrate struct {
	extensions *env.Extensions

	heap       *heap.Heap
	markMap    *markmap.MarkMap
	dispatcher *dispatch.ParallelDispatcher
	mainThread *driver.MainGCThread

	globalStats *tlh.GlobalStats

	exporter       *telemetry.Exporter
	telemetryAddr  string
	telemetryStop  func() error
	telemetryHTTP3 *telemetry.HTTP3Server
	watcher        *config.Watcher
}

// Startup assembles and starts the substrate.
func Startup(cfg SubstrateConfig) (*Substrate, error) {
	if cfg.HostInterfaceVersion != "" {
		if err := config.CheckRuntimeCompatibility(cfg.HostInterfaceVersion); err != nil {
			return nil, err
		}
	}

	options := cfg.Options
	if options == nil {
		options = env.NewOptions(cfg.HeapSize)
	}
	if cfg.OptionsFile != "" {
		loaded, err := config.Load(cfg.OptionsFile, options)
		if err != nil {
			return nil, err
		}
		options = loaded
	}
	var reserved uintptr
	if cfg.GlobalCollector != nil {
		reserved = cfg.GlobalCollector.ReservedForGCAllocCacheSize()
	}
	if err := options.Validate(reserved); err != nil {
		return nil, err
	}

	extensions := env.NewExtensions(options)
	extensions.ObjectModel = cfg.ObjectModel
	extensions.GlobalCollector = cfg.GlobalCollector

	s := &Substrate{extensions: extensions}

	h, err := heap.NewHeap(cfg.HeapSize, cfg.RegionSize)
	if err != nil {
		return nil, err
	}
	s.heap = h
	extensions.Heap = h

	s.markMap = markmap.NewMarkMap(h)
	s.markMap.HeapAddRange(h.Base(), h.Top())

	s.globalStats = tlh.NewGlobalStats(options.MaxFrequentAllocateSizes)

	// The dispatcher and controller are process-wide; they start before
	// any mutator can request a collection and stop after the last one.
	s.dispatcher, err = dispatch.NewParallelDispatcher(extensions)
	if err != nil {
		s.teardownPartial()
		return nil, err
	}
	if err := s.dispatcher.StartUpThreads(); err != nil {
		s.dispatcher = nil
		s.teardownPartial()
		return nil, err
	}

	if cfg.Collector != nil {
		mainCfg := cfg.MainThread
		s.mainThread = driver.NewMainGCThread(extensions, cfg.Collector, mainCfg)
		if !s.mainThread.Startup() {
			s.teardownPartial()
			return nil, fmt.Errorf("%w: main GC thread", env.ErrThreadStartFailure)
		}
	}

	if cfg.OptionsFile != "" {
		s.watcher, err = config.Watch(cfg.OptionsFile, extensions)
		if err != nil {
			s.teardownPartial()
			return nil, err
		}
	}

	if cfg.TelemetryAddr != "" || cfg.TelemetryAddr3 != "" {
		s.exporter = telemetry.NewExporter()
		s.registerCollectors()
	}
	if cfg.TelemetryAddr != "" {
		bound, stop, err := s.exporter.StartServer(cfg.TelemetryAddr)
		if err != nil {
			s.teardownPartial()
			return nil, err
		}
		s.telemetryAddr = bound
		s.telemetryStop = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return stop(ctx)
		}
	}
	if cfg.TelemetryAddr3 != "" {
		s.telemetryHTTP3 = telemetry.NewHTTP3Server(cfg.TelemetryAddr3, cfg.TelemetryTLS, s.exporter.Handler())
		if _, err := s.telemetryHTTP3.Start(); err != nil {
			s.telemetryHTTP3 = nil
			s.teardownPartial()
			return nil, err
		}
	}

	return s, nil
}

// registerCollectors exposes the substrate's statistics.
func (s *Substrate) registerCollectors() {
	s.exporter.Register("heap", func() map[string]float64 {
		return map[string]float64{
			"active_bytes":  float64(s.heap.ActiveMemorySize()),
			"maximum_bytes": float64(s.heap.MaximumMemorySize()),
		}
	})
	s.exporter.Register("tlh", func() map[string]float64 {
		a := &s.globalStats.Allocation
		return map[string]float64{
			"refresh_fresh":       float64(a.TLHRefreshCountFresh),
			"refresh_reused":      float64(a.TLHRefreshCountReused),
			"allocated_fresh":     float64(a.TLHAllocatedFresh),
			"discarded_bytes":     float64(a.TLHDiscardedBytes),
			"abandoned_list_max":  float64(a.TLHMaxAbandonedListSize),
			"bytes_allocated":     float64(a.BytesAllocated()),
			"allocation_failures": float64(s.globalStats.Failure.AllocationFailureCount),
		}
	})
	s.exporter.Register("dispatcher", func() map[string]float64 {
		return map[string]float64{
			"thread_count_maximum": float64(s.dispatcher.ThreadCountMaximum()),
			"active_threads":       float64(s.dispatcher.ActiveThreadCount()),
		}
	})
	s.exporter.Register("forge", func() map[string]float64 {
		return map[string]float64{
			"live_bytes": float64(s.extensions.Forge.TotalLiveBytes()),
		}
	})
	if s.mainThread != nil {
		s.exporter.Register("cpu", func() map[string]float64 {
			util := s.mainThread.CPUUtil()
			valid := 0.0
			if util.Valid() {
				valid = 1
			}
			return map[string]float64{
				"phase_busy_fraction": util.BusyFraction(),
				"valid":               valid,
			}
		})
	}
}

// TelemetryAddr returns the bound telemetry address, empty when
// telemetry is off.
func (s *Substrate) TelemetryAddr() string { return s.telemetryAddr }

// TelemetryAddr3 returns the bound HTTP/3 telemetry address, empty
// when the HTTP/3 endpoint is off.
func (s *Substrate) TelemetryAddr3() string {
	if s.telemetryHTTP3 == nil {
		return ""
	}
	return s.telemetryHTTP3.Addr()
}

// Extensions returns the global context for attaching threads.
func (s *Substrate) Extensions() *env.Extensions { return s.extensions }

// Heap returns the managed heap.
func (s *Substrate) Heap() *heap.Heap { return s.heap }

// MarkMap returns the current cycle's mark map.
func (s *Substrate) MarkMap() *markmap.MarkMap { return s.markMap }

// Dispatcher returns the worker pool.
func (s *Substrate) Dispatcher() *dispatch.ParallelDispatcher { return s.dispatcher }

// MainThread returns the controller, or nil when no collector was
// configured.
func (s *Substrate) MainThread() *driver.MainGCThread { return s.mainThread }

// GlobalStats returns the merge target for thread allocation stats.
func (s *Substrate) GlobalStats() *tlh.GlobalStats { return s.globalStats }

// NewAllocationInterface attaches a mutator thread's allocation front
// end.
func (s *Substrate) NewAllocationInterface() *tlh.AllocationInterface {
	return tlh.NewAllocationInterface(s.extensions, s.heap.Slab(), s.globalStats)
}

// ClearMarkMap runs the parallel mark-map clear across the pool.
func (s *Substrate) ClearMarkMap(e *env.Environment) {
	task := markmap.NewClearTask(s.markMap, s.heap.RegionManager(), s.heap.MaximumMemorySize())
	s.dispatcher.Run(e, task, s.dispatcher.ThreadCountMaximum())
}

// Shutdown tears the substrate down in reverse dependency order. The
// heap backing is released last, after the last GC thread has exited.
func (s *Substrate) Shutdown() {
	if s.telemetryHTTP3 != nil {
		_ = s.telemetryHTTP3.Close()
		s.telemetryHTTP3 = nil
	}
	if s.telemetryStop != nil {
		_ = s.telemetryStop()
		s.telemetryStop = nil
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
	if s.mainThread != nil {
		s.mainThread.Shutdown()
		s.mainThread = nil
	}
	if s.dispatcher != nil {
		s.dispatcher.ShutDownThreads()
		s.dispatcher = nil
	}
	if s.heap != nil {
		_ = s.heap.Release()
		s.heap = nil
	}
}

// teardownPartial unwinds a failed startup.
func (s *Substrate) teardownPartial() {
	s.Shutdown()
}
