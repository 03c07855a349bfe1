package graphflow

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/birdayz/graphflow/internal/rtqueue"
)

// None is the conventional output type for a Task that has no output (a
// sink): nothing ever wires a child against it, since no handler declares
// None as an input type.
type None struct{}

// Task wraps one set of user handlers, one per declared input type,
// grounded on the teacher's RuntimeProcessorNode generic wrapper -
// generalized from a single fixed (Kin,Vin) pair to an arbitrary set of
// input types dispatched by reflect.Type, since Go has no variadic generic
// type parameter to express "N input types" directly.
type Task[Out any] struct {
	base

	handlers  map[reflect.Type]func(ctx context.Context, in any, emit func(Out)) error
	workers   int
	autoStart bool

	// cloneFactory, if set via WithCloneFactory, builds copy copyIdx (>=1)
	// from scratch instead of Clone's default handler-map copy. See Clone.
	cloneFactory func(copyIdx int) *Task[Out]

	onInit     func(ctx context.Context) error
	onShutdown func(ctx context.Context) error
}

// NewTask creates a Task with no declared input types yet; call
// RegisterHandler for each input type it should accept. The task's output
// type is Out (use None for a sink that never emits).
func NewTask[Out any](name string, opts ...TaskOption[Out]) *Task[Out] {
	outT := typeOf[Out]()
	hasOutput := outT != typeOf[None]()
	t := &Task[Out]{
		handlers: make(map[reflect.Type]func(ctx context.Context, in any, emit func(Out)) error),
		workers:  1,
	}
	t.base = newBase(name, KindTask, nil, outT, hasOutput)
	for _, opt := range opts {
		opt(t)
	}
	return t
}


// RegisterHandler registers fn as the handler for input type In on task t,
// and widens t's declared input-type set to include In. Mirrors the
// teacher's RegisterProcessor[Kin,Vin,Kout,Vout], generalized so the same
// task can register any number of distinct In types instead of exactly one.
func RegisterHandler[In, Out any](t *Task[Out], fn func(ctx context.Context, in In, emit func(Out)) error) {
	inT := typeOf[In]()
	if _, exists := t.handlers[inT]; !exists {
		t.inputTypes = append(t.inputTypes, inT)
		t.q = rtqueue.New(t.inputTypes)
		t.r.Queue = t.q
	}
	t.handlers[inT] = func(ctx context.Context, in any, emit func(Out)) error {
		return fn(ctx, in.(In), emit)
	}
}

// AttachMemoryManager binds mm to t; AcquireManagedMemory then blocks on
// mm's pool.
func (t *Task[Out]) AttachMemoryManager(mm *MemoryManager) { t.setMemoryManager(mm) }

// AcquireManagedMemory blocks until a buffer is available from t's attached
// MemoryManager, recording the wait in t's Counters. It panics if no
// MemoryManager was attached - a programming error, not a run-time
// condition (§4.9).
func (t *Task[Out]) AcquireManagedMemory(ctx context.Context) (any, error) {
	mm := t.attachedMemoryManager()
	if mm == nil {
		panic(fmt.Sprintf("task %s: AcquireManagedMemory called without an attached MemoryManager", t.name))
	}
	start := time.Now()
	v, err := mm.pool.Acquire(ctx)
	t.r.Counters.AddMemoryWait(time.Since(start))
	return v, err
}

// ReleaseManagedMemory returns buf to t's attached MemoryManager.
func (t *Task[Out]) ReleaseManagedMemory(buf any) error {
	mm := t.attachedMemoryManager()
	if mm == nil {
		panic(fmt.Sprintf("task %s: ReleaseManagedMemory called without an attached MemoryManager", t.name))
	}
	return mm.pool.Release(buf)
}

// Clone returns an independent copy of t for cluster duplication (§4.6),
// grounded on Hedgehog's Task::copy() (core_task.h:192): every worker copy
// beyond the first gets its own Task value so RegisterHandler-registered
// closures aren't shared wholesale across goroutines. The default clone
// copies the handlers map (so a later RegisterHandler call on one copy
// doesn't leak into another) but keeps the same underlying closures, which
// is sound as long as those closures don't close over mutable state the
// author expects to be copy-local; install WithCloneFactory when they do.
func (t *Task[Out]) Clone() *Task[Out] {
	clone := &Task[Out]{
		base:       t.base,
		handlers:   make(map[reflect.Type]func(ctx context.Context, in any, emit func(Out)) error, len(t.handlers)),
		workers:    t.workers,
		autoStart:  t.autoStart,
		onInit:     t.onInit,
		onShutdown: t.onShutdown,
	}
	for k, v := range t.handlers {
		clone.handlers[k] = v
	}
	return clone
}

// Kind reports KindSource/KindSink dynamically instead of the KindTask
// newBase hardcodes at construction, since a task's declared input/output
// shape (and WithAutoStart) are only known once the caller finishes
// registering handlers.
func (t *Task[Out]) Kind() Kind {
	switch {
	case t.autoStart && len(t.inputTypes) == 0 && t.hasOutput:
		return KindSource
	case len(t.inputTypes) > 0 && !t.hasOutput:
		return KindSink
	default:
		return KindTask
	}
}

// dispatchForCopy builds the Dispatch closure for one Task[Out] value (either
// t itself, for copy 0, or a Clone/cloneFactory-built copy for copy >= 1).
// Handlers come from tt; outputs always go through leader's sender, so every
// copy of a cluster shares one sender set.
func dispatchForCopy[Out any](leader, tt *Task[Out]) func(ctx context.Context, item rtqueue.Tagged) error {
	return func(ctx context.Context, item rtqueue.Tagged) error {
		h, ok := tt.handlers[item.Type]
		if !ok {
			return fmt.Errorf("task %s: no handler registered for %s", tt.name, item.Type)
		}
		emit := func(v Out) {
			if !leader.hasOutput {
				return
			}
			leader.s.Emit(leader.outputType, any(v))
		}
		return h(ctx, item.Value, emit)
	}
}

func (t *Task[Out]) start(execCtx *execContext) {
	// Build every copy's Task[Out] up front so Clone/WithCloneFactory run
	// once per copy (§4.6), rather than sharing t's handler-set state
	// across all t.workers goroutines.
	copies := make([]func(ctx context.Context, item rtqueue.Tagged) error, t.workers)
	copies[0] = dispatchForCopy(t, t)
	for i := 1; i < t.workers; i++ {
		var tt *Task[Out]
		if t.cloneFactory != nil {
			tt = t.cloneFactory(i)
		} else {
			tt = t.Clone()
		}
		copies[i] = dispatchForCopy(t, tt)
	}

	dispatch := func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error {
		return copies[copyIdx](ctx, item)
	}

	var initFn func(int) error
	if t.onInit != nil {
		initFn = func(int) error { return t.onInit(execCtx.ctx) }
	}
	var shutdownFn func(int) error
	if t.onShutdown != nil {
		shutdownFn = func(int) error { return t.onShutdown(execCtx.ctx) }
	}

	t.r.Start(execCtx.ctx, t.workers, initFn, dispatch, shutdownFn, t.defaultCanTerminate)
}
