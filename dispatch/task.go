// Package dispatch implements the parallel GC dispatcher: a
// fixed-capacity pool of worker threads with a deterministic
// reserve/accept/complete protocol, hybrid wake policy, per-task active
// thread recomputation, and pool contraction/expansion across
// checkpoint and restart.
package dispatch

import (
	"github.com/orizon-lang/orizon-gc/env"
)

// Task is one unit of parallel GC work. Run is invoked exactly once on
// each reserved thread; tasks parcel finer-grained work internally
// through the environment work-unit counter and check their own yield
// conditions.
type Task interface {
	// Name identifies the task in logs.
	Name() string

	// RecommendedWorkingThreads is the adaptive-threading hint; 0 means
	// no recommendation.
	RecommendedWorkingThreads() int

	// MainSetup runs once on the dispatching thread before workers are
	// woken.
	MainSetup(e *env.Environment)

	// MainCleanup runs once on the dispatching thread after the task
	// completed on every thread.
	MainCleanup(e *env.Environment)

	// Accept runs on each reserved thread before Run, with the
	// dispatcher protocol state already updated.
	Accept(e *env.Environment)

	// Run is the task body.
	Run(e *env.Environment)

	// Complete runs on each thread after Run returns.
	Complete(e *env.Environment)
}

// TaskBase carries the default no-op halves of the Task protocol so
// tasks only spell out what they use.
type TaskBase struct{}

// RecommendedWorkingThreads reports no adaptive hint.
func (TaskBase) RecommendedWorkingThreads() int { return 0 }

// MainSetup does nothing.
func (TaskBase) MainSetup(e *env.Environment) {}

// MainCleanup does nothing.
func (TaskBase) MainCleanup(e *env.Environment) {}

// Accept does nothing.
func (TaskBase) Accept(e *env.Environment) {}

// Complete does nothing.
func (TaskBase) Complete(e *env.Environment) {}
