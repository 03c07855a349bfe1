package graphflow

import (
	"reflect"
	"sync/atomic"

	"github.com/birdayz/graphflow/internal/rtnode"
	"github.com/birdayz/graphflow/internal/rtqueue"
)

// Kind identifies what role a Node plays in a graph.
type Kind int

const (
	KindSource Kind = iota
	KindSink
	KindTask
	KindStateManager
	KindGraph
	KindExecutionPipeline
	KindSwitch
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "Source"
	case KindSink:
		return "Sink"
	case KindTask:
		return "Task"
	case KindStateManager:
		return "StateManager"
	case KindGraph:
		return "Graph"
	case KindExecutionPipeline:
		return "ExecutionPipeline"
	case KindSwitch:
		return "Switch"
	default:
		return "Unknown"
	}
}

// Node is the build-time and run-time interface every vertex in a graph
// satisfies: Task, StateManager, *Graph (graphs nest), ExecutionPipeline,
// and the internal Switch node created by NewExecutionPipeline.
//
// This mirrors the teacher's minimal runtime.Node{Init, Close} interface,
// widened with the metadata (name, kind, declared types) that kdag.Node
// carried separately at build time - here both live on one value since
// Go's lack of a generic variadic input-type parameter means the node
// itself must expose runtime type witnesses for AddEdge to check.
type Node interface {
	Name() string
	// ID returns the node's identity: a process-wide monotonically
	// increasing value assigned at construction, distinct from Name (two
	// nodes may share a name only transiently, before AddEdge/Input rejects
	// the duplicate; ID never collides and never changes).
	ID() uint64
	Kind() Kind
	InputTypes() []reflect.Type
	OutputType() (reflect.Type, bool)

	queue() *rtqueue.Queue
	sender() *rtqueue.Sender
	// wait blocks until this node (and, for a Graph, everything nested
	// inside it) has terminated, returning any aggregated worker errors.
	wait() error
	start(execCtx *execContext)

	hasCustomTerminator() bool
	outputIsConst() bool

	// configError reports a construction-time configuration mistake (e.g. a
	// nil scheduler function passed to WithCanTerminate) that couldn't be
	// rejected at option-application time since a TaskOption has no error
	// return channel. ExecuteGraph checks every node for one before
	// starting any of them.
	configError() error

	// attachedMemoryManager and setMemoryManager let callers that only hold
	// a type-erased Node (ExecutionPipeline's copy-cloning pass, see
	// cloneMemoryManagers in pipeline.go) inspect and replace whatever
	// MemoryManager a node was built with, without a type switch over every
	// concrete node kind.
	attachedMemoryManager() *MemoryManager
	setMemoryManager(mm *MemoryManager)
}

// nodeIDSeq hands out the process-wide monotonic node identities described
// by Node.ID.
var nodeIDSeq uint64

// base is embedded by every concrete node kind. It owns the shared queue,
// sender set, and Runner that internal/rtnode drives.
type base struct {
	id         uint64
	name       string
	kind       Kind
	inputTypes []reflect.Type
	outputType reflect.Type
	hasOutput  bool

	q *rtqueue.Queue
	s *rtqueue.Sender
	r *rtnode.Runner

	constOutput bool

	mm     *MemoryManager
	cfgErr error
}

func newBase(name string, kind Kind, inputTypes []reflect.Type, outputType reflect.Type, hasOutput bool) base {
	b := base{
		id:         atomic.AddUint64(&nodeIDSeq, 1),
		name:       name,
		kind:       kind,
		inputTypes: inputTypes,
		outputType: outputType,
		hasOutput:  hasOutput,
	}
	b.q = rtqueue.New(inputTypes)
	b.s = rtqueue.NewSender()
	b.r = &rtnode.Runner{Name: name, Queue: b.q, Sender: b.s}
	return b
}

func (b *base) Name() string  { return b.name }
func (b *base) ID() uint64    { return b.id }
func (b *base) Kind() Kind    { return b.kind }

func (b *base) InputTypes() []reflect.Type { return b.inputTypes }

func (b *base) OutputType() (reflect.Type, bool) { return b.outputType, b.hasOutput }

func (b *base) queue() *rtqueue.Queue   { return b.q }
func (b *base) sender() *rtqueue.Sender { return b.s }
func (b *base) wait() error             { return b.r.Wait() }

// hasCustomTerminator reports whether this node overrides the default
// per-type termination predicate (consulted by analyzer.CycleTest).
func (b *base) hasCustomTerminator() bool { return b.r.CanTerminate != nil }

// outputIsConst reports whether the node's author declared its output
// immutable once emitted (consulted by analyzer.DataRaceTest).
func (b *base) outputIsConst() bool { return b.constOutput }

// MarkOutputConst declares that values this node emits are never mutated
// after Emit returns, letting analyzer.DataRaceTest treat fan-out to
// multiple receivers as safe.
func (b *base) MarkOutputConst() { b.constOutput = true }

// configError reports a deferred construction-time validation failure (see
// the Node interface doc).
func (b *base) configError() error { return b.cfgErr }

// attachedMemoryManager returns the MemoryManager this node was built with,
// or nil if none was attached.
func (b *base) attachedMemoryManager() *MemoryManager { return b.mm }

// setMemoryManager replaces this node's attached MemoryManager.
func (b *base) setMemoryManager(mm *MemoryManager) { b.mm = mm }

// defaultCanTerminate implements I5: a node may terminate once, for every
// declared input type, the live-sender count has reached zero and the
// queue is empty. This is evaluated per type, not as one aggregate counter,
// per the Open Question resolution recorded in SPEC_FULL.md §9.
func (b *base) defaultCanTerminate() bool {
	if !b.q.IsEmpty() {
		return false
	}
	for _, t := range b.inputTypes {
		if b.q.LiveSenders(t) > 0 {
			return false
		}
	}
	return true
}

// typeOf returns the reflect.Type for a type parameter, used by the
// generic registration helpers (RegisterHandler, Wire, RegisterSwitch).
func typeOf[T any]() reflect.Type {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		// T is an interface type; reflect.TypeOf(nil-interface) loses the
		// static type, so fall back to the pointer-indirection trick.
		t = reflect.TypeOf(&zero).Elem()
	}
	return t
}
