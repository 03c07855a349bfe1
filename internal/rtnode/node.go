// Package rtnode runs the per-node worker goroutines that make up a graph:
// the main loop, the termination predicate, and the timing counters
// attached to every node. It is modeled directly on the teacher's
// Worker.Loop state-machine dispatcher (StateCreated/StatePartitionsAssigned/
// StateRunning/StateCloseRequested/StateClosed), generalized from "one
// goroutine per Kafka consumer-group member" to "one goroutine per graph
// node copy", and from a fixed Kafka record type to an arbitrary tagged
// value dequeued from an internal/rtqueue.Queue.
package rtnode

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/birdayz/graphflow/internal/rtqueue"
)

// State is a node's lifecycle stage (see I4/I5).
type State int32

const (
	StateConstructed State = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "Constructed"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Counters holds the per-node timing statistics described in the data
// model: time spent waiting on the queue, time spent executing handlers,
// and time spent blocked acquiring managed memory.
type Counters struct {
	mu          sync.Mutex
	waited      time.Duration
	executed    time.Duration
	memoryWait  time.Duration
	elements    int64
}

func (c *Counters) addWaited(d time.Duration) {
	c.mu.Lock()
	c.waited += d
	c.mu.Unlock()
}

func (c *Counters) addExecuted(d time.Duration) {
	c.mu.Lock()
	c.executed += d
	c.elements++
	c.mu.Unlock()
}

// AddMemoryWait records time spent blocked in a MemoryManager.Acquire call;
// called directly by task code, not by the scheduler loop.
func (c *Counters) AddMemoryWait(d time.Duration) {
	c.mu.Lock()
	c.memoryWait += d
	c.mu.Unlock()
}

// Snapshot is a read-only copy of Counters for the dot-file exporter.
type Snapshot struct {
	Waited       time.Duration
	Executed     time.Duration
	MemoryWait   time.Duration
	Elements     int64
	AvgPerElem   time.Duration
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{Waited: c.waited, Executed: c.executed, MemoryWait: c.memoryWait, Elements: c.elements}
	if c.elements > 0 {
		s.AvgPerElem = c.executed / time.Duration(c.elements)
	}
	return s
}

// Dispatch processes one dequeued value on behalf of copy copyIdx.
// Implementations live in the higher-level node kinds (Task, StateManager,
// Switch); a Task builds one Dispatch per copy so cluster duplication gives
// each copy its own handler-set state (see Task.Clone).
type Dispatch func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error

// Runner drives 1..N identical copies of a node (N>1 is cluster
// duplication) over one shared Queue/Sender pair. The goroutine group is an
// errgroup.Group, the same mechanism the teacher's App.Run uses to launch
// and join a set of worker goroutines; error aggregation across copies
// still goes through recordErr/multierr, since unlike the teacher's
// single-error Run loop, more than one copy can fail independently and all
// of those failures are worth reporting, not just the first.
type Runner struct {
	Name   string
	Queue  *rtqueue.Queue
	Sender *rtqueue.Sender

	// CanTerminate overrides the default per-type live-sender/empty-queue
	// predicate (I5). nil means "use the default".
	CanTerminate func() bool

	Counters Counters

	state int32 // State, accessed atomically

	grp   errgroup.Group
	errMu sync.Mutex
	err   error
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *Runner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}

// Start launches `copies` goroutines (copies > 1 implements cluster
// duplication, §4.6), each running Init, then the dequeue/dispatch loop
// until the termination predicate is satisfied, then Shutdown. All copies
// share r.Queue and r.Sender.
//
// defaultCanTerminate is supplied by the caller since it must know the
// node's declared input types (the Queue itself only tracks per-type live
// sender counts).
func (r *Runner) Start(ctx context.Context, copies int, initFn func(copyIdx int) error, dispatch Dispatch, shutdownFn func(copyIdx int) error, defaultCanTerminate func() bool) {
	canTerminate := r.CanTerminate
	if canTerminate == nil {
		canTerminate = defaultCanTerminate
	}

	r.setState(StateRunning)
	for i := 0; i < copies; i++ {
		i := i
		r.grp.Go(func() error {
			r.runCopy(ctx, i, initFn, dispatch, shutdownFn, canTerminate)
			return nil
		})
	}
}

func (r *Runner) runCopy(ctx context.Context, copyIdx int, initFn func(copyIdx int) error, dispatch Dispatch, shutdownFn func(copyIdx int) error, canTerminate func() bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.recordErr(fmt.Errorf("node %s copy %d: panic: %v", r.Name, copyIdx, rec))
		}
	}()

	if initFn != nil {
		if err := initFn(copyIdx); err != nil {
			r.recordErr(fmt.Errorf("node %s copy %d: init: %w", r.Name, copyIdx, err))
			return
		}
	}

	for {
		a := time.Now()
		item, ok := r.Queue.Dequeue(canTerminate)
		b := time.Now()
		r.Counters.addWaited(b.Sub(a))
		if !ok {
			break
		}

		if err := dispatch(ctx, copyIdx, item); err != nil {
			r.recordErr(fmt.Errorf("node %s copy %d: %w", r.Name, copyIdx, err))
		}
		c := time.Now()
		r.Counters.addExecuted(c.Sub(b))
	}

	if shutdownFn != nil {
		if err := shutdownFn(copyIdx); err != nil {
			r.recordErr(fmt.Errorf("node %s copy %d: shutdown: %w", r.Name, copyIdx, err))
		}
	}
}

func (r *Runner) recordErr(err error) {
	r.errMu.Lock()
	r.err = multierr.Append(r.err, err)
	r.errMu.Unlock()
}

// Wait blocks until every copy's goroutine has returned (I4), then notifies
// every downstream subscriber of this node's termination, and returns any
// aggregated errors.
func (r *Runner) Wait() error {
	_ = r.grp.Wait() // copies never return an error directly; see recordErr.
	r.setState(StateTerminated)
	if r.Sender != nil {
		r.Sender.NotifyTerminated()
	}
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}
