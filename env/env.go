// Package env provides the shared per-thread and global context for the
// GC substrate: the thread environment, global extensions, tuning
// options, allocation descriptions and the interfaces the substrate
// consumes from the host runtime.
package env

// Address is a location inside the managed heap. The substrate never
// dereferences an Address itself; object contents are interpreted only
// through the host ObjectModel.
type Address = uintptr

// ThreadType classifies the role of an attached thread.
type ThreadType int

const (
	// ThreadTypeMutator runs application code and allocates.
	ThreadTypeMutator ThreadType = iota
	// ThreadTypeWorker executes GC tasks for the dispatcher.
	ThreadTypeWorker
	// ThreadTypeMain drives the collection state machine.
	ThreadTypeMain
)

func (t ThreadType) String() string {
	switch t {
	case ThreadTypeMutator:
		return "mutator"
	case ThreadTypeWorker:
		return "worker"
	case ThreadTypeMain:
		return "main"
	default:
		return "unknown"
	}
}
