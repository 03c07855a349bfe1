package graphflow

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/birdayz/graphflow/internal/rtqueue"
)

// Graph is a container node: it owns a set of inside nodes, designates
// which of them receive externally-pushed data and which of them feed the
// graph's own output, and is itself a Node - so graphs nest (§4.7).
//
// Build-time use is single-goroutine, mirroring the teacher's kdag.Builder
// ("NOT safe for concurrent use... single-goroutine registration"); the
// resulting wiring is safe to run concurrently once ExecuteGraph starts it.
type Graph struct {
	base

	log *slog.Logger

	mu    sync.Mutex
	order []string
	nodes map[string]Node

	inputNodes map[reflect.Type][]Node
	edgesOut   map[string][]string

	outputCollector *rtqueue.Queue // fed by every Output()-declared node
	resultQueue     *rtqueue.Queue // fed by the export pump, drained by GetBlockingResult

	// externallyFed is the subset of inputTypes for which ExecuteGraph
	// registered g.q's own implicit "external feeder" sender (standalone
	// PushData usage). A type wired instead via a parent's AddEdge already
	// has its live sender registered by Sender.Subscribe before
	// ExecuteGraph runs, so ExecuteGraph skips it here; only this slice,
	// not the full inputTypes set, gets retired by FinishPushingData.
	externallyFed []reflect.Type

	started bool
	grp     errgroup.Group
	errMu   sync.Mutex
	err     error
}

// NewGraph creates an empty graph. Its declared input/output types widen as
// Input/Output are called.
func NewGraph(name string, opts ...Option) *Graph {
	g := &Graph{
		nodes:      make(map[string]Node),
		inputNodes: make(map[reflect.Type][]Node),
		edgesOut:   make(map[string][]string),
		log:        NullLogger(),
	}
	g.base = newBase(name, KindGraph, nil, nil, false)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// add registers node under the graph, rejecting a distinct node that reuses
// an existing name (I2). Adding the same node again is a no-op.
func (g *Graph) add(node Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if node == nil {
		return ErrNilNode
	}
	if existing, exists := g.nodes[node.Name()]; exists {
		if existing == node {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateName, node.Name())
	}
	g.nodes[node.Name()] = node
	g.order = append(g.order, node.Name())
	return nil
}

// Input declares node as an entry point for externally-pushed data: every
// type in node.InputTypes() becomes (if not already) one of the graph's own
// declared input types, so the graph itself can be fed via PushData or,
// when nested, via an edge from a parent graph.
func (g *Graph) Input(node Node) error {
	if err := g.add(node); err != nil && err != ErrDuplicateName {
		return err
	}
	for _, t := range node.InputTypes() {
		g.mu.Lock()
		g.inputNodes[t] = append(g.inputNodes[t], node)
		if !containsType(g.inputTypes, t) {
			g.inputTypes = append(g.inputTypes, t)
			g.q = rtqueue.New(g.inputTypes)
			g.r.Queue = g.q
		}
		g.mu.Unlock()
		// The graph's own external feed (PushData, or a parent's AddEdge
		// when nested) counts as one live sender against every node it
		// feeds directly, so defaultCanTerminate can't fire on such a node
		// while pumpIn still has data to deliver to it. pumpIn retires this
		// sender, per type, when it exits.
		node.queue().AddSender(t)
	}
	return nil
}

// Output declares node as one of the graph's output-producing nodes. All
// nodes ever declared as outputs of the same graph must share one output
// type (a graph, like any node, has at most one declared output type).
func (g *Graph) Output(node Node) error {
	if err := g.add(node); err != nil && err != ErrDuplicateName {
		return err
	}
	t, has := node.OutputType()
	if !has {
		return fmt.Errorf("%w: node %s has no output", ErrMissingOutput, node.Name())
	}
	g.mu.Lock()
	if g.hasOutput && g.outputType != t {
		g.mu.Unlock()
		return fmt.Errorf("%w: graph %s already outputs %v, node %s outputs %v", ErrMissingOutput, g.name, g.outputType, node.Name(), t)
	}
	if !g.hasOutput {
		g.hasOutput = true
		g.outputType = t
		g.outputCollector = rtqueue.New([]reflect.Type{t})
		g.resultQueue = rtqueue.New([]reflect.Type{t})
	}
	g.mu.Unlock()
	node.sender().Subscribe(t, g.outputCollector)
	return nil
}

// AddEdge wires from's output into to's matching declared input type,
// after verifying type compatibility (I1). Either node that does not yet
// belong to g is registered under it first.
func (g *Graph) AddEdge(from, to Node) error {
	if from == nil || to == nil {
		return ErrNilNode
	}
	if err := g.add(from); err != nil && err != ErrDuplicateName {
		return err
	}
	if err := g.add(to); err != nil && err != ErrDuplicateName {
		return err
	}
	outT, has := from.OutputType()
	if !has {
		return fmt.Errorf("%w: %s has no output", ErrTypeMismatch, from.Name())
	}
	if !containsType(to.InputTypes(), outT) {
		return fmt.Errorf("%w: %s outputs %v but %s does not declare it as an input", ErrTypeMismatch, from.Name(), outT, to.Name())
	}
	from.sender().Subscribe(outT, to.queue())
	g.mu.Lock()
	g.edgesOut[from.Name()] = append(g.edgesOut[from.Name()], to.Name())
	g.mu.Unlock()
	return nil
}

// Wire is the compile-time-checked convenience form of AddEdge for the
// common case where the caller already knows, at the call site, the single
// type T flowing from producer to consumer.
func Wire[T any](g *Graph, from, to Node) error {
	t := typeOf[T]()
	outT, has := from.OutputType()
	if !has || outT != t {
		return fmt.Errorf("%w: %s does not output %v", ErrTypeMismatch, from.Name(), t)
	}
	if !containsType(to.InputTypes(), t) {
		return fmt.Errorf("%w: %s does not accept %v", ErrTypeMismatch, to.Name(), t)
	}
	return g.AddEdge(from, to)
}

func containsType(types []reflect.Type, t reflect.Type) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// ExecuteGraph starts every inside node's worker goroutine(s) plus the
// graph's internal input-broadcast and output-collection pumps, and
// transitions the graph to Running.
func (g *Graph) ExecuteGraph(ctx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return ErrAlreadyRunning
	}
	g.started = true
	order := append([]string(nil), g.order...)
	inputTypes := append([]reflect.Type(nil), g.inputTypes...)
	g.mu.Unlock()

	for _, name := range order {
		if err := g.nodes[name].configError(); err != nil {
			g.mu.Lock()
			g.started = false
			g.mu.Unlock()
			return err
		}
	}

	execCtx := &execContext{ctx: ctx}

	// This graph's own queue g.q accepts one "external" sender per declared
	// input type, but only for a type no one has already subscribed an edge
	// into: PushData when the graph is used standalone, or a parent's
	// AddEdge-driven Sender.Subscribe when nested (which, for a nested
	// graph, already ran before this ExecuteGraph call and already bumped
	// g.q's live-sender count). Registering a second, ExecuteGraph-owned
	// sender on top of that edge's would leave one live sender nothing ever
	// retires, since FinishPushingData is a root-only API nobody calls on a
	// nested graph - so only types with zero live senders get the implicit
	// feeder, and only those are what FinishPushingData later retires.
	for _, t := range inputTypes {
		if g.q.LiveSenders(t) == 0 {
			g.q.AddSender(t)
			g.externallyFed = append(g.externallyFed, t)
		}
	}

	for _, name := range order {
		g.nodes[name].start(execCtx)
	}

	g.grp.Go(func() error { g.pumpIn(); return nil })

	if g.hasOutput {
		g.resultQueue.AddSender(g.outputType)
		g.grp.Go(func() error { g.pumpOut(); return nil })
	}

	for _, name := range order {
		node := g.nodes[name]
		g.grp.Go(func() error {
			if err := node.wait(); err != nil {
				g.recordErr(fmt.Errorf("node %s: %w", node.Name(), err))
			}
			return nil
		})
	}

	return nil
}

func (g *Graph) pumpIn() {
	for {
		item, ok := g.q.Dequeue(g.defaultCanTerminate)
		if !ok {
			break
		}
		g.mu.Lock()
		targets := g.inputNodes[item.Type]
		g.mu.Unlock()
		for _, node := range targets {
			node.queue().Enqueue(item.Type, item.Value)
		}
	}
	g.mu.Lock()
	inputNodes := g.inputNodes
	g.mu.Unlock()
	for t, nodes := range inputNodes {
		for _, node := range nodes {
			node.queue().NotifySenderTerminated(t)
		}
	}
}

func (g *Graph) pumpOut() {
	canTerminate := func() bool {
		return g.outputCollector.IsEmpty() && g.outputCollector.LiveSenders(g.outputType) == 0
	}
	for {
		item, ok := g.outputCollector.Dequeue(canTerminate)
		if !ok {
			break
		}
		g.s.Emit(g.outputType, item.Value)
		g.resultQueue.Enqueue(g.outputType, item.Value)
	}
	g.resultQueue.NotifySenderTerminated(g.outputType)
	g.s.NotifyTerminated()
}

func (g *Graph) recordErr(err error) {
	g.errMu.Lock()
	g.err = multierr.Append(g.err, err)
	g.errMu.Unlock()
}

// PushData enqueues value into every input node whose declared input types
// include reflect.TypeOf(value); it is the external-IO analogue of an edge
// from an imaginary parent.
func (g *Graph) PushData(value any) error {
	if !g.started {
		return ErrNotRunning
	}
	t := reflect.TypeOf(value)
	if !containsType(g.inputTypes, t) {
		return fmt.Errorf("%w: graph does not declare input type %v", ErrMissingInput, t)
	}
	g.q.Enqueue(t, value)
	return nil
}

// FinishPushingData notifies the graph that no more external data is
// coming, letting its termination predicate be satisfied once drained. Only
// meaningful for a graph driven via PushData (standalone, or an
// ExecutionPipeline copy); calling it on a graph nested via AddEdge is a
// no-op, since nothing here was ever self-registered for it to retire.
func (g *Graph) FinishPushingData() {
	for _, t := range g.externallyFed {
		g.q.NotifySenderTerminated(t)
	}
}

// GetBlockingResult blocks for the next output value. ok is false once
// every output-producing node (transitively) has terminated and no more
// results remain.
func (g *Graph) GetBlockingResult() (any, bool) {
	if !g.hasOutput {
		return nil, false
	}
	canTerminate := func() bool {
		return g.resultQueue.IsEmpty() && g.resultQueue.LiveSenders(g.outputType) == 0
	}
	item, ok := g.resultQueue.Dequeue(canTerminate)
	if !ok {
		return nil, false
	}
	return item.Value, true
}

// WaitForTermination blocks until every inside node (recursively, through
// nested graphs) and the graph's own pumps have joined (I4), returning any
// aggregated worker errors.
func (g *Graph) WaitForTermination() error {
	_ = g.grp.Wait() // members never return an error directly; see recordErr.
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.err
}

// wait overrides base.wait (which would just join the graph's own unused
// rtnode.Runner) so a parent graph's waiter correctly blocks on this
// graph's real completion: its pumps plus every node nested inside it.
func (g *Graph) wait() error {
	return g.WaitForTermination()
}

func (g *Graph) start(execCtx *execContext) {
	// A nested Graph is started the same way ExecuteGraph starts a root
	// one; its own "live" state is driven entirely by pumpIn/pumpOut and
	// its inside nodes, not by a Runner of its own.
	_ = g.ExecuteGraph(execCtx.ctx)
}

// The following methods let *Graph satisfy analyzer.OutputDescribable
// structurally, without the analyzer package importing graphflow.

// NodeNames returns every inside node's name in registration order.
func (g *Graph) NodeNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

// Edges returns the names of every node name directly wired downstream of
// node via AddEdge/Wire.
func (g *Graph) Edges(node string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.edgesOut[node]...)
}

// HasCustomTerminator reports whether node overrides the default
// termination predicate.
func (g *Graph) HasCustomTerminator(node string) bool {
	n, ok := g.nodes[node]
	if !ok {
		return false
	}
	return n.hasCustomTerminator()
}

// Receivers reports how many live subscribers node's output currently has.
func (g *Graph) Receivers(node string) int {
	n, ok := g.nodes[node]
	if !ok {
		return 0
	}
	t, has := n.OutputType()
	if !has {
		return 0
	}
	return n.sender().Receivers(t)
}

// OutputIsConst reports whether node's author marked its output immutable.
func (g *Graph) OutputIsConst(node string) bool {
	n, ok := g.nodes[node]
	if !ok {
		return false
	}
	return n.outputIsConst()
}

// AllReceiversReadOnly is conservatively approximated as false: this
// runtime does not track a read-only declaration per edge (Go has no
// native immutable-view type to enforce it), so DataRaceTest relies on
// OutputIsConst as the actual signal and treats every non-const fan-out as
// suspect regardless of how the receivers use the value.
func (g *Graph) AllReceiversReadOnly(node string) bool {
	return false
}
