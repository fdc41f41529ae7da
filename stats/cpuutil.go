package stats

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
)

// CPUUtilStats brackets GC phases with CPU time snapshots so the
// collector can report how much of the machine a phase consumed. The
// recording thread and telemetry readers may race, so access is
// serialized internally.
type CPUUtilStats struct {
	mu sync.Mutex

	validData bool

	lastTimestamp time.Time
	lastBusy      float64
	lastTotal     float64

	// elapsedBusyFraction is the busy fraction of the last recorded
	// interval, in [0, 1]; -1 until two snapshots exist.
	elapsedBusyFraction float64
}

// NewCPUUtilStats returns stats with no recorded interval.
func NewCPUUtilStats() *CPUUtilStats {
	return &CPUUtilStats{elapsedBusyFraction: -1}
}

// Record takes a snapshot and, when a previous snapshot exists, folds
// the interval utilization into the busy fraction. Probe errors leave
// the stats invalid rather than failing the phase.
func (s *CPUUtilStats) Record() {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		s.mu.Lock()
		s.validData = false
		s.mu.Unlock()
		return
	}
	t := times[0]
	busy := t.User + t.System + t.Nice + t.Irq + t.Softirq + t.Steal
	total := busy + t.Idle + t.Iowait
	now := time.Now()

	s.mu.Lock()
	if s.validData && total > s.lastTotal {
		s.elapsedBusyFraction = (busy - s.lastBusy) / (total - s.lastTotal)
	}
	s.lastTimestamp = now
	s.lastBusy = busy
	s.lastTotal = total
	s.validData = true
	s.mu.Unlock()
}

// Valid reports whether a snapshot has been taken successfully.
func (s *CPUUtilStats) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validData
}

// BusyFraction returns the busy fraction of the last recorded
// interval; -1 until two snapshots exist.
func (s *CPUUtilStats) BusyFraction() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedBusyFraction
}

// Clear invalidates the stats.
func (s *CPUUtilStats) Clear() {
	s.mu.Lock()
	s.validData = false
	s.lastTimestamp = time.Time{}
	s.lastBusy = 0
	s.lastTotal = 0
	s.elapsedBusyFraction = -1
	s.mu.Unlock()
}
