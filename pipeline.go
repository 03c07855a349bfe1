package graphflow

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/birdayz/graphflow/internal/rtqueue"
)

// ExecutionPipeline duplicates a template graph into k independently
// running copies and owns a switch that routes each arriving value to
// whichever copies a user predicate selects (§4.8). Copies are built by
// invoking template k times rather than deep-copying an already-built
// *Graph: that sidesteps reference-sharing pitfalls a structural clone of
// live wiring would otherwise risk, at the cost of asking the caller to
// describe the graph as a factory instead of a value - a deliberate Open
// Question resolution, recorded in DESIGN.md.
type ExecutionPipeline struct {
	base

	k         int
	deviceIDs []int
	copies    []*Graph

	// sw is the switch sub-node the spec describes as the pipeline's
	// actual receiver: it owns the input queue every AddEdge into the
	// pipeline subscribes against, runs on its own thread (one per
	// execution-pipeline switch, per the scheduling model), and reports
	// Kind() == KindSwitch so dot-file rendering and node enumeration see
	// it distinctly from the pipeline that contains it.
	sw *switchNode

	grp   errgroup.Group
	errMu sync.Mutex
	err   error
}

// switchNode is the execution pipeline's receiver: for each arriving value
// it invokes the registered routing predicate (if any) once per copy and
// forwards to the copies that accept it, grounded on the teacher's
// dispatcher-goroutine idiom generalized from "one partition's records" to
// "one value broadcast/routed across k graph copies".
type switchNode struct {
	base

	copies         []*Graph
	switchHandlers map[reflect.Type]func(v any, graphID int) bool
}

func newSwitchNode(name string, inputTypes []reflect.Type, copies []*Graph) *switchNode {
	sw := &switchNode{
		copies:         copies,
		switchHandlers: make(map[reflect.Type]func(v any, graphID int) bool),
	}
	sw.base = newBase(name+"-switch", KindSwitch, append([]reflect.Type(nil), inputTypes...), nil, false)
	return sw
}

func (sw *switchNode) start(execCtx *execContext) {
	dispatch := func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error {
		handler, declared := sw.switchHandlers[item.Type]
		var errs error
		for i, c := range sw.copies {
			send := true
			if declared {
				send = handler(item.Value, i)
			}
			if send {
				if err := c.PushData(item.Value); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("copy %d: %w", i, err))
				}
			}
		}
		return errs
	}
	shutdownFn := func(int) error {
		for _, c := range sw.copies {
			c.FinishPushingData()
		}
		return nil
	}
	sw.r.Start(execCtx.ctx, 1, nil, dispatch, shutdownFn, sw.defaultCanTerminate)
}

// NewExecutionPipeline builds k copies of template() and wires a switch in
// front of them. All copies must declare identical input/output types,
// which holds automatically since they come from the same factory.
func NewExecutionPipeline(template func() *Graph, k int, opts ...PipelineOption) *ExecutionPipeline {
	if k < 1 {
		panic("graphflow: execution pipeline requires at least one copy")
	}
	copies := make([]*Graph, k)
	for i := 0; i < k; i++ {
		copies[i] = template()
	}
	cloneMemoryManagers(copies)

	first := copies[0]
	p := &ExecutionPipeline{
		k:      k,
		copies: copies,
	}
	p.base = newBase(fmt.Sprintf("%s-pipeline", first.Name()), KindExecutionPipeline, append([]reflect.Type(nil), first.inputTypes...), first.outputType, first.hasOutput)
	p.sw = newSwitchNode(first.Name(), first.inputTypes, copies)

	ids := make([]int, k)
	for i := range ids {
		ids[i] = i
	}
	p.deviceIDs = ids

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// cloneMemoryManagers gives every copy after the first its own independent
// MemoryManager per attached node (P10, SPEC_FULL.md §8): template()
// typically captures one MemoryManager value in its closure and attaches
// the identical pointer to the corresponding node in every copy, which
// would let all k copies share one pool's backpressure instead of each
// enforcing its own capacity. It walks each copy's type-erased Node values
// via attachedMemoryManager/setMemoryManager, so it works uniformly across
// Task, StateManager, and nested Graph/ExecutionPipeline nodes without a
// type switch.
func cloneMemoryManagers(copies []*Graph) {
	seen := make(map[*MemoryManager]bool)
	for _, g := range copies {
		for _, name := range g.NodeNames() {
			node := g.nodes[name]
			mm := node.attachedMemoryManager()
			if mm == nil {
				continue
			}
			if !seen[mm] {
				seen[mm] = true
				continue
			}
			node.setMemoryManager(mm.clone())
		}
	}
}

// DeviceID returns the device id assigned to copy graphID (§4.8). The id is
// not passed to the nodes or hooks inside that copy, and the runtime never
// interprets the value itself.
func (p *ExecutionPipeline) DeviceID(graphID int) int {
	return p.deviceIDs[graphID]
}

// Copies returns the pipeline's k graph instances, in device order.
func (p *ExecutionPipeline) Copies() []*Graph { return p.copies }

// queue returns the switch sub-node's queue: AddEdge into an
// ExecutionPipeline wires the upstream sender to the switch, not to a queue
// owned by the pipeline value itself.
func (p *ExecutionPipeline) queue() *rtqueue.Queue { return p.sw.queue() }

// RegisterSwitch registers fn as the routing predicate for values of type T
// arriving at the pipeline: fn is invoked once per copy, and the value is
// forwarded to copy i iff fn returns true for i. If no predicate is
// registered for a type, the pipeline broadcasts it to every copy.
func RegisterSwitch[T any](p *ExecutionPipeline, fn func(v T, graphID int) bool) {
	t := typeOf[T]()
	if !containsType(p.sw.inputTypes, t) {
		p.sw.inputTypes = append(p.sw.inputTypes, t)
		p.sw.q = rtqueue.New(p.sw.inputTypes)
		p.sw.r.Queue = p.sw.q
		p.inputTypes = append(p.inputTypes, t)
	}
	p.sw.switchHandlers[t] = func(v any, graphID int) bool {
		return fn(v.(T), graphID)
	}
}

func (p *ExecutionPipeline) start(execCtx *execContext) {
	for _, c := range p.copies {
		_ = c.ExecuteGraph(execCtx.ctx)
	}

	p.sw.start(execCtx)

	if p.hasOutput {
		for _, c := range p.copies {
			c := c
			p.grp.Go(func() error { p.mergeOutput(c); return nil })
		}
	}
}

func (p *ExecutionPipeline) mergeOutput(c *Graph) {
	for {
		v, ok := c.GetBlockingResult()
		if !ok {
			break
		}
		p.s.Emit(p.outputType, v)
	}
}

func (p *ExecutionPipeline) recordErr(err error) {
	p.errMu.Lock()
	p.err = multierr.Append(p.err, err)
	p.errMu.Unlock()
}

// wait joins the switch, every merge goroutine, and (transitively, through
// GetBlockingResult/WaitForTermination) every copy's own nodes.
func (p *ExecutionPipeline) wait() error {
	_ = p.grp.Wait() // members never return an error directly; see recordErr.
	if err := p.sw.r.Wait(); err != nil {
		p.recordErr(fmt.Errorf("execution pipeline %s: switch: %w", p.name, err))
	}
	for _, c := range p.copies {
		if err := c.WaitForTermination(); err != nil {
			p.recordErr(fmt.Errorf("execution pipeline %s: %w", p.name, err))
		}
	}
	if p.hasOutput {
		p.s.NotifyTerminated()
	}
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}
