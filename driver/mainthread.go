package driver

import (
	"sync"

	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/stats"
)

// MainThreadState is the controller state.
type MainThreadState int

const (
	StateError MainThreadState = iota
	StateDisabled
	StateStarting
	StateWaiting
	StateGCRequested
	StateRunningConcurrent
	StateTerminationRequested
	StateTerminated
)

func (s MainThreadState) String() string {
	switch s {
	case StateError:
		return "error"
	case StateDisabled:
		return "disabled"
	case StateStarting:
		return "starting"
	case StateWaiting:
		return "waiting"
	case StateGCRequested:
		return "gc-requested"
	case StateRunningConcurrent:
		return "running-concurrent"
	case StateTerminationRequested:
		return "termination-requested"
	case StateTerminated:
		return "terminated"
	default:
		return "invalid"
	}
}

// Config selects the controller's execution modes.
type Config struct {
	// RunAsImplicit makes STW collections run on the requesting
	// mutator; the main thread still exists to drive concurrent work.
	RunAsImplicit bool

	// AcquireVMAccessDuringConcurrent holds VM access across concurrent
	// increments.
	AcquireVMAccessDuringConcurrent bool

	// ConcurrentResumable loops the concurrent phase while work
	// remains instead of returning to waiting after each increment.
	ConcurrentResumable bool

	// Disabled skips creating the thread; collections run inline on
	// the requester.
	Disabled bool

	// VMAccess is consulted only when AcquireVMAccessDuringConcurrent
	// is set.
	VMAccess VMAccessController
}

// MainGCThread is the controller for the dedicated GC driver thread.
// All state below controlMu is covered by it.
type MainGCThread struct {
	extensions *env.Extensions
	collector  Collector
	cfg        Config

	controlMu   sync.Mutex
	controlCond *sync.Cond

	state       MainThreadState
	mainStarted bool

	// Scratch handed from a requesting mutator to the main thread;
	// safe because the requester holds exclusive access while storing.
	incomingCycleState any
	allocDesc          *env.AllocateDescription

	// cpuStats brackets each STW and concurrent phase with CPU time
	// snapshots.
	cpuStats *stats.CPUUtilStats
}

// NewMainGCThread builds the controller around a collector.
func NewMainGCThread(extensions *env.Extensions, collector Collector, cfg Config) *MainGCThread {
	m := &MainGCThread{
		extensions: extensions,
		collector:  collector,
		cfg:        cfg,
		state:      StateError,
		cpuStats:   stats.NewCPUUtilStats(),
	}
	m.controlCond = sync.NewCond(&m.controlMu)
	return m
}

// CPUUtil returns the CPU snapshots bracketing this controller's
// phases.
func (m *MainGCThread) CPUUtil() *stats.CPUUtilStats { return m.cpuStats }

// State returns the current controller state.
func (m *MainGCThread) State() MainThreadState {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	return m.state
}

// Startup creates the main GC thread and blocks until it reports in.
// With Disabled set the controller accepts requests inline instead.
func (m *MainGCThread) Startup() bool {
	if m.cfg.Disabled {
		m.controlMu.Lock()
		m.state = StateDisabled
		m.controlMu.Unlock()
		return true
	}

	// Hold the monitor across thread creation so the thread cannot
	// report before we wait.
	m.controlMu.Lock()
	m.state = StateStarting
	go m.mainThreadEntryPoint()
	for m.state == StateStarting {
		m.controlCond.Wait()
	}
	success := m.state != StateError
	m.controlMu.Unlock()
	if success {
		m.extensions.Log.Info("gc main thread started")
	} else {
		m.extensions.Log.Error("gc main thread failed to start")
	}
	return success
}

// Shutdown asks the main thread to exit and waits until it has.
func (m *MainGCThread) Shutdown() {
	m.controlMu.Lock()
	if m.state == StateError || m.state == StateDisabled {
		m.controlMu.Unlock()
		return
	}
	for m.state != StateTerminated {
		m.state = StateTerminationRequested
		m.controlCond.Signal()
		m.controlCond.Wait()
	}
	m.controlMu.Unlock()
	m.extensions.Log.Info("gc main thread terminated")
}

// mainThreadEntryPoint is the dedicated thread body.
func (m *MainGCThread) mainThreadEntryPoint() {
	e := env.NewEnvironment(m.extensions)
	e.SetThreadType(env.ThreadTypeMain)

	m.controlMu.Lock()

	m.collector.PreMainGCThreadInitialize(e)

	m.state = StateWaiting
	m.mainStarted = true
	m.controlCond.Broadcast()

	for m.state != StateTerminationRequested {
		if m.state == StateGCRequested {
			if m.cfg.RunAsImplicit {
				m.handleConcurrent(e)
			} else {
				m.handleSTW(e)
			}
		}

		if m.state == StateWaiting {
			if m.cfg.RunAsImplicit || !m.handleConcurrent(e) {
				m.controlCond.Wait()
			}
		}
	}

	m.state = StateTerminated
	m.mainStarted = false
	m.controlCond.Broadcast()
	m.controlMu.Unlock()
}

// handleSTW runs one stop-the-world collection on behalf of the
// requesting mutator. The mutator's exclusive access is inherited here
// and handed back on completion so access counts stay conserved.
func (m *MainGCThread) handleSTW(e *env.Environment) {
	env.Assert(m.incomingCycleState != nil, "STW request without cycle state")
	e.CycleState = m.incomingCycleState

	e.AssumeExclusiveVMAccess(1)

	m.cpuStats.Record()
	m.collector.MainThreadGarbageCollect(e, m.allocDesc)
	m.cpuStats.Record()

	exclusiveCount := e.RelinquishExclusiveVMAccess()
	env.Assertf(exclusiveCount == 1, "exclusive count %d after STW", exclusiveCount)

	e.CycleState = nil
	m.incomingCycleState = nil
	m.state = StateWaiting
	m.controlCond.Broadcast()
}

// handleConcurrent runs concurrent increments while work is available.
// Returns whether any work was done. Called with controlMu held;
// increments run outside it.
func (m *MainGCThread) handleConcurrent(e *env.Environment) bool {
	workDone := false

	m.state = StateRunningConcurrent

	for {
		if m.cfg.AcquireVMAccessDuringConcurrent {
			m.controlMu.Unlock()
			m.cfg.VMAccess.AcquireVMAccess(e)
			m.controlMu.Lock()
		}
		if m.collector.IsConcurrentWorkAvailable(e) {
			phaseStats := m.collector.ConcurrentPhaseStats()
			phaseStats.Clear()

			m.collector.PreConcurrentInitializeStatsAndReport(e, phaseStats)
			m.cpuStats.Record()
			m.controlMu.Unlock()

			bytesScanned := m.collector.MainThreadConcurrentCollect(e)

			m.controlMu.Lock()
			m.cpuStats.Record()
			phaseStats.CPUUtilization = m.cpuStats.BusyFraction()
			m.collector.PostConcurrentUpdateStatsAndReport(e, phaseStats, bytesScanned)
			workDone = true
		}
		if m.cfg.AcquireVMAccessDuringConcurrent {
			m.controlMu.Unlock()
			m.cfg.VMAccess.ReleaseVMAccess(e)
			m.controlMu.Lock()
		}
		if !(m.cfg.ConcurrentResumable && m.collector.IsConcurrentWorkAvailable(e)) {
			break
		}
		// An STW request may have arrived while the increment ran.
		if m.state != StateRunningConcurrent {
			break
		}
	}

	if m.state == StateRunningConcurrent {
		m.state = StateWaiting
	}

	return workDone
}

// GarbageCollect bridges a mutator's STW request to the main thread.
// The caller must hold exclusive VM access. Returns false when no
// collector has started up, in which case the caller handles the
// failure itself.
func (m *MainGCThread) GarbageCollect(e *env.Environment, desc *env.AllocateDescription) bool {
	if m.collector == nil {
		return false
	}
	env.Assert(e.ThreadType() != env.ThreadTypeMain, "main GC thread requesting a collection")

	m.controlMu.Lock()
	started := m.mainStarted
	m.controlMu.Unlock()

	if m.cfg.RunAsImplicit || !started {
		// Early startup, late shutdown, or implicit mode: collect
		// inline on the requester.
		env.Assert(e.WorkerID() == 0, "inline collection off the driving slot")
		m.collector.PreMainGCThreadInitialize(e)
		m.collector.MainThreadGarbageCollect(e, desc)

		if m.cfg.RunAsImplicit && m.collector.IsConcurrentWorkAvailable(e) {
			m.controlMu.Lock()
			if m.state == StateWaiting {
				m.state = StateGCRequested
				m.controlCond.Signal()
			}
			m.controlMu.Unlock()
		}
		return true
	}

	m.controlMu.Lock()
	// Storing the request parameters is safe under exclusive access:
	// no other mutator can race these fields while we hold it.
	m.allocDesc = desc
	m.incomingCycleState = e.CycleState
	previousState := m.state
	m.state = StateGCRequested
	switch previousState {
	case StateWaiting:
		m.controlCond.Broadcast()
	case StateRunningConcurrent:
		m.collector.ForceConcurrentFinish()
	default:
		env.Unreachable("STW request in state " + previousState.String())
	}

	// The main thread claims exclusive access itself; artificially give
	// ours up so access-count checking stays balanced.
	savedExclusiveCount := e.RelinquishExclusiveVMAccess()
	for m.state == StateGCRequested {
		m.controlCond.Wait()
	}
	e.AssumeExclusiveVMAccess(savedExclusiveCount)

	env.Assert(m.incomingCycleState == nil, "cycle state not consumed by STW")
	m.controlMu.Unlock()

	return true
}
