package dispatch

import (
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/cpu"

	"github.com/orizon-lang/orizon-gc/env"
)

// workerStatus is the per-slot worker state.
type workerStatus int

const (
	workerInactive workerStatus = iota
	workerWaiting
	workerReserved
	workerActive
	workerDying
)

func (s workerStatus) String() string {
	switch s {
	case workerInactive:
		return "inactive"
	case workerWaiting:
		return "waiting"
	case workerReserved:
		return "reserved"
	case workerActive:
		return "active"
	case workerDying:
		return "dying"
	default:
		return "invalid"
	}
}

// ParallelDispatcher owns the GC worker pool. One slot per possible
// thread holds the thread environment, a status, and the task the slot
// is reserved for; the worker mutex covers all three tables plus the
// reservation pair.
type ParallelDispatcher struct {
	extensions *env.Extensions

	// workerMu is the worker monitor: it covers the three per-slot
	// tables, workersReservedForGC and threadsToReserve.
	workerMu   sync.Mutex
	workerCond *sync.Cond

	// controlMu is the dispatcher control monitor used for startup and
	// shutdown handshakes.
	controlMu   sync.Mutex
	controlCond *sync.Cond

	threadCountMaximum  int // pool capacity (one slot is the dispatching thread)
	poolMaxCapacity     int // table capacity, >= threadCountMaximum
	threadCount         int // threads currently forked
	activeThreadCount   int // threads for the current task
	threadShutdownCount int

	inShutdown bool

	workersReservedForGC bool
	threadsToReserve     int
	task                 Task
	taskSync             *env.TaskSync

	envTable    []*env.Environment
	statusTable []workerStatus
	taskTable   []Task

	// startupState records, per slot, whether the worker attached; the
	// startup handshake waits on it under the control monitor.
	startupState map[int]bool
}

// NewParallelDispatcher builds a dispatcher with pool capacity taken
// from the options. No workers run until StartUpThreads.
func NewParallelDispatcher(extensions *env.Extensions) (*ParallelDispatcher, error) {
	threadCountMaximum := extensions.Options().GCThreadCount
	if threadCountMaximum < 1 {
		return nil, fmt.Errorf("%w: dispatcher requires gcThreadCount >= 1", env.ErrInitializationError)
	}
	d := &ParallelDispatcher{
		extensions:         extensions,
		threadCountMaximum: threadCountMaximum,
		poolMaxCapacity:    threadCountMaximum,
		envTable:           make([]*env.Environment, threadCountMaximum),
		statusTable:        make([]workerStatus, threadCountMaximum),
		taskTable:          make([]Task, threadCountMaximum),
		startupState:       make(map[int]bool),
	}
	d.workerCond = sync.NewCond(&d.workerMu)
	d.controlCond = sync.NewCond(&d.controlMu)
	return d, nil
}

// ThreadCountMaximum returns the pool capacity.
func (d *ParallelDispatcher) ThreadCountMaximum() int { return d.threadCountMaximum }

// ThreadCount returns the currently forked thread count.
func (d *ParallelDispatcher) ThreadCount() int { return d.threadCount }

// ActiveThreadCount returns the thread count of the current task.
func (d *ParallelDispatcher) ActiveThreadCount() int { return d.activeThreadCount }

// ThreadShutdownCount returns the workers that will signal on exit.
func (d *ParallelDispatcher) ThreadShutdownCount() int { return d.threadShutdownCount }

// StartUpThreads forks the worker pool: capacity minus the slot
// reserved for the dispatching thread. Startup is all-or-nothing; any
// worker failing to attach shuts down those already started.
func (d *ParallelDispatcher) StartUpThreads() error {
	d.threadShutdownCount = 0

	if err := d.internalStartupThreads(1, d.threadCountMaximum); err != nil {
		d.ShutDownThreads()
		return err
	}

	d.threadCount = d.threadCountMaximum
	d.activeThreadCount = d.adjustThreadCount(d.threadCount)
	d.extensions.Log.Info("gc worker pool started",
		"threads", d.threadCount, "active", d.activeThreadCount)
	return nil
}

// internalStartupThreads forks workers for slots [from, to), waiting
// for each to report in before forking the next.
func (d *ParallelDispatcher) internalStartupThreads(from, to int) error {
	d.controlMu.Lock()
	defer d.controlMu.Unlock()

	for workerID := from; workerID < to; workerID++ {
		env.Assertf(d.envTable[workerID] == nil, "slot %d already populated", workerID)
		env.Assertf(d.statusTable[workerID] == workerInactive, "slot %d not inactive", workerID)

		delete(d.startupState, workerID)
		go d.workerProc(workerID)

		for {
			ok, reported := d.startupState[workerID]
			if reported {
				if !ok {
					return fmt.Errorf("%w: GC worker %d failed to attach", env.ErrThreadStartFailure, workerID)
				}
				break
			}
			if d.inShutdown {
				return fmt.Errorf("%w: shutdown during worker startup", env.ErrThreadStartFailure)
			}
			d.controlCond.Wait()
		}

		d.threadShutdownCount++
	}
	return nil
}

// workerProc is the worker thread body: attach, report in, loop.
func (d *ParallelDispatcher) workerProc(workerID int) {
	e := env.NewEnvironment(d.extensions)
	e.SetWorkerID(workerID)
	e.SetThreadType(env.ThreadTypeWorker)

	d.controlMu.Lock()
	d.envTable[workerID] = e
	d.statusTable[workerID] = workerWaiting
	d.startupState[workerID] = true
	d.controlCond.Broadcast()
	d.controlMu.Unlock()

	d.workerEntryPoint(e)

	// Thread is terminating; report for the shutdown handshake.
	d.controlMu.Lock()
	d.threadShutdownCount--
	d.controlCond.Broadcast()
	d.controlMu.Unlock()
}

// workerEntryPoint runs the main worker loop. The monotone
// waiting -> reserved -> active -> waiting edge under the worker mutex
// is the sole synchronization point; a worker never touches the global
// task pointer outside it.
func (d *ParallelDispatcher) workerEntryPoint(e *env.Environment) {
	workerID := e.WorkerID()
	// lastSync is the task-shared state of the last dispatch this worker
	// joined; a worker is reserved at most once per dispatch.
	var lastSync *env.TaskSync

	d.workerMu.Lock()
	for d.statusTable[workerID] != workerDying {
		for d.statusTable[workerID] == workerWaiting {
			if d.workersReservedForGC && d.threadsToReserve > 0 && d.taskSync != lastSync {
				d.threadsToReserve--
				d.statusTable[workerID] = workerReserved
				d.taskTable[workerID] = d.task
				lastSync = d.taskSync
			} else {
				d.workerCond.Wait()
			}
		}

		if d.workersReservedForGC {
			// A thread can only leave the wait loop reserved, except in
			// the rare case a task is dispatched during shutdown, when
			// it runs single threaded and exiting workers are dying.
			env.Assert(d.statusTable[workerID] == workerReserved ||
				(d.threadsToReserve == 0 && d.statusTable[workerID] == workerDying),
				"worker observed in impossible state during dispatch")
		} else {
			env.Assert(d.inShutdown && d.statusTable[workerID] == workerDying,
				"worker left wait loop with no task and no shutdown")
		}

		if d.statusTable[workerID] == workerReserved {
			task := d.acceptTask(e)
			d.workerMu.Unlock()

			task.Run(e)

			d.workerMu.Lock()
			d.completeTask(e)
		}
	}
	d.workerMu.Unlock()
}

// acceptTask transitions the slot to active and installs the task into
// the environment. Called with the worker mutex held by workers; the
// dispatching thread's slot is private to it during dispatch.
func (d *ParallelDispatcher) acceptTask(e *env.Environment) Task {
	workerID := e.WorkerID()
	e.ResetWorkUnitIndex()
	e.SetCurrentTask(d.taskSync)
	d.statusTable[workerID] = workerActive
	task := d.taskTable[workerID]
	task.Accept(e)
	return task
}

// completeTask returns the slot to waiting and drops the task
// references. The broadcast unblocks the dispatching thread waiting in
// cleanupAfterTask.
func (d *ParallelDispatcher) completeTask(e *env.Environment) {
	workerID := e.WorkerID()
	d.statusTable[workerID] = workerWaiting

	task := d.taskTable[workerID]
	d.taskTable[workerID] = nil
	e.SetCurrentTask(nil)

	task.Complete(e)
	d.workerCond.Broadcast()
}

// wakeUpThreads wakes at least count workers. Small wake sets from a
// large pool get individual notifies to keep the held region short;
// larger sets are broadcast.
func (d *ParallelDispatcher) wakeUpThreads(count int) {
	bound := d.extensions.Options().DispatcherHybridNotifyThreadBound
	if half := d.threadCountMaximum / 2; half < bound {
		bound = half
	}
	if count < bound {
		for i := 0; i < count; i++ {
			d.workerCond.Signal()
		}
	} else {
		d.workerCond.Broadcast()
	}
}

// adjustThreadCount clamps maxThreadCount to the heap size and the
// active CPU count unless the user forced a thread count.
func (d *ParallelDispatcher) adjustThreadCount(maxThreadCount int) int {
	result := maxThreadCount
	options := d.extensions.Options()
	if options.GCThreadCountForced {
		return result
	}

	// Too many threads on a small heap fragments it and wastes
	// parallelism overhead.
	if d.extensions.Heap != nil {
		heapSize := d.extensions.Heap.ActiveMemorySize()
		threadsForHeap := 1
		if heapSize > options.MinimumHeapPerThread {
			threadsForHeap = int(heapSize / options.MinimumHeapPerThread)
		}
		if threadsForHeap < result {
			result = threadsForHeap
		}
	}

	if activeCPUs, err := cpu.Counts(true); err == nil && activeCPUs > 0 && activeCPUs < result {
		result = activeCPUs
	}

	return result
}

// recomputeActiveThreadCountForTask settles the thread count for one
// task: the clamped pool count, bounded by the caller's request, then
// overridden downward by the task's adaptive recommendation.
func (d *ParallelDispatcher) recomputeActiveThreadCountForTask(task Task, threadCount int) int {
	d.activeThreadCount = d.adjustThreadCount(d.threadCount)

	taskActiveThreadCount := d.activeThreadCount
	if threadCount < taskActiveThreadCount {
		taskActiveThreadCount = threadCount
	}

	if hint := task.RecommendedWorkingThreads(); hint > 0 {
		taskActiveThreadCount = d.threadCount
		if hint < taskActiveThreadCount {
			taskActiveThreadCount = hint
		}
		d.activeThreadCount = taskActiveThreadCount
	}

	return taskActiveThreadCount
}

// prepareThreadsForTask publishes the task and wakes the wake set.
func (d *ParallelDispatcher) prepareThreadsForTask(e *env.Environment, task Task, threadCount int) {
	d.workerMu.Lock()

	activeThreads := d.recomputeActiveThreadCountForTask(task, threadCount)
	d.taskSync = env.NewTaskSync(activeThreads)
	task.MainSetup(e)

	// Reserving the pool keeps shutdown from retiring workers until the
	// task completes.
	d.workersReservedForGC = true
	env.Assert(d.task == nil, "task already in flight")
	d.task = task

	// The dispatching thread uses its own slot and needs no wake.
	d.statusTable[e.WorkerID()] = workerReserved
	d.taskTable[e.WorkerID()] = task

	env.Assert(d.threadsToReserve == 0, "threadsToReserve nonzero at dispatch")
	d.threadsToReserve = activeThreads - 1
	d.wakeUpThreads(d.threadsToReserve)

	d.workerMu.Unlock()
}

// cleanupAfterTask waits until every reserved thread has come back to
// waiting, then clears the reservation.
func (d *ParallelDispatcher) cleanupAfterTask(e *env.Environment) {
	d.workerMu.Lock()

	for d.threadsToReserve > 0 || d.anyWorkerBusy(e.WorkerID()) {
		d.workerCond.Wait()
	}

	d.workersReservedForGC = false
	env.Assert(d.threadsToReserve == 0, "threadsToReserve nonzero after task")
	d.task = nil
	d.taskSync = nil

	if d.inShutdown {
		d.workerCond.Broadcast()
	}

	d.workerMu.Unlock()
}

// anyWorkerBusy reports whether any slot other than the dispatching
// thread's is reserved or active. Worker mutex held.
func (d *ParallelDispatcher) anyWorkerBusy(selfID int) bool {
	for i := range d.statusTable {
		if i == selfID {
			continue
		}
		if d.statusTable[i] == workerReserved || d.statusTable[i] == workerActive {
			return true
		}
	}
	return false
}

// Run executes task with up to threadCount threads, the dispatching
// thread being one of them. On return the task has completed on every
// reserved thread and no worker retains a reference to it.
func (d *ParallelDispatcher) Run(e *env.Environment, task Task, threadCount int) {
	d.prepareThreadsForTask(e, task, threadCount)
	runTask := d.acceptTask(e)
	runTask.Run(e)
	d.workerMu.Lock()
	d.completeTask(e)
	d.workerMu.Unlock()
	d.cleanupAfterTask(e)
	task.MainCleanup(e)
}

// ShutDownThreads retires the whole pool: waits out any in-flight task,
// marks every slot dying, and blocks until the last worker has exited.
// threadCount drops to 1 so a dying worker can still drive a solo
// collection during its detach.
func (d *ParallelDispatcher) ShutDownThreads() {
	d.controlMu.Lock()
	d.inShutdown = true
	d.controlCond.Broadcast()
	d.controlMu.Unlock()

	d.workerMu.Lock()
	for d.workersReservedForGC {
		d.workerCond.Wait()
	}
	for i := 0; i < d.threadCountMaximum; i++ {
		d.statusTable[i] = workerDying
	}
	d.threadCount = 1
	d.wakeUpThreads(d.threadShutdownCount)
	d.workerMu.Unlock()

	d.controlMu.Lock()
	for d.threadShutdownCount != 0 {
		d.controlCond.Wait()
	}
	d.controlMu.Unlock()

	d.extensions.Log.Info("gc worker pool shut down")
}

// ContractThreadPool permanently shrinks the pool to newThreadCount
// slots ahead of a checkpoint. The dispatching thread's slot cannot be
// retired, so the count floors at 1.
func (d *ParallelDispatcher) ContractThreadPool(newThreadCount int) {
	env.Assert(!d.workersReservedForGC, "contract during dispatch")
	env.Assert(!d.inShutdown, "contract during shutdown")
	env.Assertf(d.threadShutdownCount == d.threadCountMaximum-1,
		"contract with %d live workers, pool %d", d.threadShutdownCount, d.threadCountMaximum)

	if newThreadCount == 0 {
		newThreadCount = 1
	}
	if newThreadCount >= d.threadCountMaximum {
		return
	}

	d.workerMu.Lock()
	d.inShutdown = true
	for i := newThreadCount; i < d.threadCountMaximum; i++ {
		d.statusTable[i] = workerDying
	}
	d.workerCond.Broadcast()
	d.workerMu.Unlock()

	expected := newThreadCount - 1
	d.controlMu.Lock()
	for d.threadShutdownCount != expected {
		d.controlCond.Wait()
	}
	d.controlMu.Unlock()

	for i := newThreadCount; i < d.threadCountMaximum; i++ {
		env.Assert(d.statusTable[i] == workerDying, "contracted slot not dying")
		d.statusTable[i] = workerInactive
		d.envTable[i] = nil
	}

	d.activeThreadCount = newThreadCount
	d.threadCount = newThreadCount
	d.threadCountMaximum = newThreadCount
	d.inShutdown = false

	d.extensions.Log.Info("gc worker pool contracted", "threads", newThreadCount)
}

// ExpandThreadPool grows the pool back toward the configured
// gcThreadCount after a restore. A partial startup failure leaves the
// pool at whatever actually started.
func (d *ParallelDispatcher) ExpandThreadPool() error {
	env.Assert(!d.workersReservedForGC, "expand during dispatch")
	env.Assert(!d.inShutdown, "expand during shutdown")
	env.Assertf(d.threadShutdownCount == d.threadCountMaximum-1,
		"expand with %d live workers, pool %d", d.threadShutdownCount, d.threadCountMaximum)

	preExpand := d.threadCountMaximum
	newThreadCount := d.extensions.Options().GCThreadCount
	env.Assertf(newThreadCount >= preExpand, "expand target %d below pool %d", newThreadCount, preExpand)

	d.reinitializeThreadPool(newThreadCount)

	var err error
	if newThreadCount > preExpand {
		err = d.internalStartupThreads(preExpand, newThreadCount)
		if err != nil {
			// Infer how many threads started before the failure.
			newThreadCount = d.threadShutdownCount + 1
		}
		d.threadCount = newThreadCount
		d.threadCountMaximum = newThreadCount
	}

	d.activeThreadCount = d.adjustThreadCount(d.threadCount)
	d.extensions.Log.Info("gc worker pool expanded",
		"threads", d.threadCountMaximum, "active", d.activeThreadCount)
	return err
}

// reinitializeThreadPool grows the three slot tables preserving prefix
// contents. The worker mutex is taken for the swap so idle workers
// never observe a stale table.
func (d *ParallelDispatcher) reinitializeThreadPool(newPoolSize int) {
	if newPoolSize <= d.poolMaxCapacity {
		return
	}
	d.workerMu.Lock()
	defer d.workerMu.Unlock()
	envTable := make([]*env.Environment, newPoolSize)
	statusTable := make([]workerStatus, newPoolSize)
	taskTable := make([]Task, newPoolSize)
	copy(envTable, d.envTable)
	copy(statusTable, d.statusTable)
	copy(taskTable, d.taskTable)
	d.envTable = envTable
	d.statusTable = statusTable
	d.taskTable = taskTable
	d.poolMaxCapacity = newPoolSize
}
