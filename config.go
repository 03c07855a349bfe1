package graphflow

import (
	"context"
	"io"
	"log/slog"
)

// Option configures a Graph at construction time, following the teacher's
// functional-options idiom (config.go's `type Option func(*App)` plus its
// `WithX` constructors).
type Option func(*Graph)

// WithLog attaches a structured logger. Defaults to NullLogger().
func WithLog(log *slog.Logger) Option {
	return func(g *Graph) { g.log = log }
}

// WithName overrides the graph's name (used for nested-graph dot output and
// log attribution).
func WithName(name string) Option {
	return func(g *Graph) { g.name = name }
}

// NullWriter discards everything written to it, exactly mirroring the
// teacher's config.go NullWriter.
type NullWriter struct{}

func (NullWriter) Write(p []byte) (int, error) { return len(p), nil }

var _ io.Writer = NullWriter{}

// NullLogger returns a slog.Logger that discards all output, the same
// default the teacher wires in when no WithLog option is supplied.
func NullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(NullWriter{}, nil))
}

// TaskOption configures a Task[Out] at construction time. It is generic
// over the task's output type so the same option constructors work for
// every Task[Out] instantiation.
type TaskOption[Out any] func(*Task[Out])

// WithWorkers requests n worker goroutines sharing one input queue - cluster
// duplication (§4.6). n must be >= 1; the default is 1 (no duplication).
func WithWorkers[Out any](n int) TaskOption[Out] {
	return func(t *Task[Out]) {
		if n < 1 {
			n = 1
		}
		t.workers = n
	}
}

// WithCanTerminate overrides the default per-type termination predicate
// (I5), most commonly used to let a node on a legal cycle (§4.3) drain even
// while an upstream sender on that cycle is still technically live. fn must
// not be nil - ExecuteGraph rejects the graph with ErrNilScheduler instead
// of silently falling back to the default, since a TaskOption has no error
// return of its own to reject a nil function at the call site.
func WithCanTerminate[Out any](fn func() bool) TaskOption[Out] {
	return func(t *Task[Out]) {
		if fn == nil {
			t.cfgErr = ErrNilScheduler
			return
		}
		t.r.CanTerminate = fn
	}
}

// WithMemoryManager attaches a MemoryManager to the task; AcquireManagedMemory
// then blocks on its pool, which is the runtime's sole backpressure
// mechanism (§4.9).
func WithMemoryManager[Out any](mm *MemoryManager) TaskOption[Out] {
	return func(t *Task[Out]) { t.setMemoryManager(mm) }
}

// WithAutoStart marks the task as a source. The flag is read only by Kind();
// it does not change how the task runs. A task with zero declared input
// types never waits for input either way, since its default termination
// predicate holds as soon as its queue is empty; the WithInit hook receives
// no emit function, so it cannot produce values. Kind()
// reports KindSource only for a task both marked WithAutoStart(true) and
// still declaring zero input types - the explicit opt-in, rather than a
// bare "zero inputs so far" check, tells apart a genuine source from a task
// under construction that simply hasn't had RegisterHandler called yet.
func WithAutoStart[Out any](auto bool) TaskOption[Out] {
	return func(t *Task[Out]) { t.autoStart = auto }
}

// WithCloneFactory overrides Clone's default (copy-the-handler-map)
// behavior for cluster duplication (§4.6): fn(copyIdx) builds copy copyIdx's
// entire Task[Out] from scratch, letting handlers close over per-copy state
// instead of sharing it with copy 0. Grounded on Hedgehog's
// this->task()->copy() (core_task.h:192), which every stateful task
// implementation overrides for exactly this reason.
func WithCloneFactory[Out any](fn func(copyIdx int) *Task[Out]) TaskOption[Out] {
	return func(t *Task[Out]) { t.cloneFactory = fn }
}

// WithInit registers a per-copy Initialize hook (§4.3 step 1), run once on
// each worker goroutine before it starts dequeuing.
func WithInit[Out any](fn func(ctx context.Context) error) TaskOption[Out] {
	return func(t *Task[Out]) { t.onInit = fn }
}

// WithShutdown registers a per-copy Shutdown hook (§4.3 step 3), run once
// after a worker goroutine's main loop exits.
func WithShutdown[Out any](fn func(ctx context.Context) error) TaskOption[Out] {
	return func(t *Task[Out]) { t.onShutdown = fn }
}

// StateManagerOption configures a StateManager at construction time. It is
// generic over both the state and output types, mirroring TaskOption.
type StateManagerOption[S, Out any] func(*StateManager[S, Out])

// WithSMCanTerminate is the StateManager analogue of WithCanTerminate; fn
// must not be nil, for the same reason (ErrNilScheduler).
func WithSMCanTerminate[S, Out any](fn func() bool) StateManagerOption[S, Out] {
	return func(sm *StateManager[S, Out]) {
		if fn == nil {
			sm.cfgErr = ErrNilScheduler
			return
		}
		sm.r.CanTerminate = fn
	}
}

// PipelineOption configures an ExecutionPipeline at construction time.
type PipelineOption func(*ExecutionPipeline)

// WithDeviceIDs assigns an explicit device id to each graph copy. len(ids)
// must equal the pipeline's copy count k.
func WithDeviceIDs(ids []int) PipelineOption {
	return func(p *ExecutionPipeline) { p.deviceIDs = append([]int(nil), ids...) }
}

// WithIotaDeviceIDs assigns device ids 0..k-1 to the k copies - the default
// if no device-id option is supplied.
func WithIotaDeviceIDs() PipelineOption {
	return func(p *ExecutionPipeline) {
		ids := make([]int, p.k)
		for i := range ids {
			ids[i] = i
		}
		p.deviceIDs = ids
	}
}
