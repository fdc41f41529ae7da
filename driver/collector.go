// Package driver implements the main GC thread controller: the
// dedicated thread multiplexing stop-the-world collection requests with
// background concurrent work, and the collector-facing interface it
// drives.
package driver

import (
	"github.com/google/uuid"

	"github.com/orizon-lang/orizon-gc/env"
)

// Collector is the policy side of a collection: the controller drives
// it through these hooks and never looks inside.
type Collector interface {
	// PreMainGCThreadInitialize runs once on the thread that will drive
	// collections, before the first cycle.
	PreMainGCThreadInitialize(e *env.Environment)

	// MainThreadGarbageCollect runs one stop-the-world collection for
	// the given allocation request.
	MainThreadGarbageCollect(e *env.Environment, desc *env.AllocateDescription)

	// IsConcurrentWorkAvailable reports whether background work
	// remains.
	IsConcurrentWorkAvailable(e *env.Environment) bool

	// MainThreadConcurrentCollect performs one concurrent increment and
	// returns the bytes scanned.
	MainThreadConcurrentCollect(e *env.Environment) uintptr

	// ForceConcurrentFinish asks a running concurrent increment to stop
	// promptly; progress is preserved, not discarded.
	ForceConcurrentFinish()

	// ConcurrentPhaseStats returns the stats block bracketing
	// concurrent increments.
	ConcurrentPhaseStats() *ConcurrentPhaseStats

	// PreConcurrentInitializeStatsAndReport runs before an increment.
	PreConcurrentInitializeStatsAndReport(e *env.Environment, stats *ConcurrentPhaseStats)

	// PostConcurrentUpdateStatsAndReport runs after an increment with
	// the bytes it scanned.
	PostConcurrentUpdateStatsAndReport(e *env.Environment, stats *ConcurrentPhaseStats, bytesScanned uintptr)
}

// VMAccessController lets the controller hold VM access across
// concurrent increments when the collector's policy wants it.
type VMAccessController interface {
	AcquireVMAccess(e *env.Environment)
	ReleaseVMAccess(e *env.Environment)
}

// ConcurrentPhaseStats brackets one concurrent phase.
type ConcurrentPhaseStats struct {
	// CycleID correlates the phase's telemetry across increments.
	CycleID uuid.UUID

	// BytesScanned is the progress made before completion or forced
	// termination.
	BytesScanned uintptr

	// TerminationWasRequested records that the phase was asked to stop
	// early; its partial progress stands.
	TerminationWasRequested bool

	// CPUUtilization is the machine busy fraction across the phase,
	// in [0, 1]; -1 when the interval could not be measured.
	CPUUtilization float64
}

// Clear resets the stats for a new phase and stamps a fresh
// correlation ID.
func (s *ConcurrentPhaseStats) Clear() {
	s.CycleID = uuid.New()
	s.BytesScanned = 0
	s.TerminationWasRequested = false
	s.CPUUtilization = -1
}
