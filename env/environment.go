package env

// Environment is the per-thread GC context. Every thread touching the
// substrate — mutator, dispatcher worker or the main GC thread — owns
// exactly one Environment for its lifetime.
type Environment struct {
	extensions *Extensions

	workerID   int
	threadType ThreadType

	// workUnitIndex is this thread's position in the current task's
	// work-unit sequence; reset when a task is accepted.
	workUnitIndex uint64

	// currentTask is the shared state of the task this thread is
	// reserved for, nil outside a dispatch.
	currentTask *TaskSync

	// exclusiveCount tracks VM exclusive access held by this thread.
	// The STW hand-off moves counts between mutator and main thread so
	// the totals stay conserved.
	exclusiveCount uintptr

	// CycleState is the collection-cycle context owned by the collector
	// driving this thread; opaque to the substrate.
	CycleState any
}

// NewEnvironment attaches a thread context to the given extensions.
func NewEnvironment(extensions *Extensions) *Environment {
	return &Environment{extensions: extensions}
}

// Extensions returns the global context.
func (e *Environment) Extensions() *Extensions {
	return e.extensions
}

// Forge returns the metadata allocator.
func (e *Environment) Forge() *Forge {
	return e.extensions.Forge
}

// WorkerID returns the dispatcher slot index of this thread; 0 for the
// thread driving a dispatch.
func (e *Environment) WorkerID() int {
	return e.workerID
}

// SetWorkerID records the dispatcher slot index.
func (e *Environment) SetWorkerID(id int) {
	e.workerID = id
}

// ThreadType returns the role of this thread.
func (e *Environment) ThreadType() ThreadType {
	return e.threadType
}

// SetThreadType records the role of this thread.
func (e *Environment) SetThreadType(t ThreadType) {
	e.threadType = t
}

// CurrentTask returns the task-shared state this thread is reserved
// for, or nil.
func (e *Environment) CurrentTask() *TaskSync {
	return e.currentTask
}

// SetCurrentTask installs (or clears, with nil) the task-shared state.
func (e *Environment) SetCurrentTask(t *TaskSync) {
	e.currentTask = t
}

// ResetWorkUnitIndex rewinds this thread's work-unit position; called
// when a task is accepted.
func (e *Environment) ResetWorkUnitIndex() {
	e.workUnitIndex = 0
}

// HandleNextWorkUnit claims the next work unit of the current task for
// this thread. With no task installed (single-threaded phases) every
// unit belongs to the caller.
func (e *Environment) HandleNextWorkUnit() bool {
	if e.currentTask == nil {
		e.workUnitIndex++
		return true
	}
	return e.currentTask.handleNextWorkUnit(e)
}

// AssumeExclusiveVMAccess transfers count units of exclusive access to
// this thread, as when the main GC thread inherits exclusive access
// from a requesting mutator.
func (e *Environment) AssumeExclusiveVMAccess(count uintptr) {
	e.exclusiveCount += count
}

// RelinquishExclusiveVMAccess gives up all exclusive access held by
// this thread and returns the count that was held.
func (e *Environment) RelinquishExclusiveVMAccess() uintptr {
	count := e.exclusiveCount
	e.exclusiveCount = 0
	return count
}

// ExclusiveCount reports the exclusive access units held.
func (e *Environment) ExclusiveCount() uintptr {
	return e.exclusiveCount
}
