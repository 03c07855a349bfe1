package graphflow

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/birdayz/graphflow/internal/rtqueue"
)

// SharedState wraps a user state value of type S with the mutex that
// serializes access to it. Several StateManagers may point at the same
// SharedState, in which case that mutex - not any per-manager lock - is
// what actually serializes them (§4.5).
type SharedState[S any] struct {
	mu    sync.Mutex
	value S
}

// NewSharedState creates a SharedState wrapping initial.
func NewSharedState[S any](initial S) *SharedState[S] {
	return &SharedState[S]{value: initial}
}

// StateManager serializes access to a SharedState under its mutex: on each
// incoming message it runs the registered handler for that message's type,
// which mutates the state directly and returns zero or more ready outputs
// to emit, grounded on the teacher's statemgr/InternalProcessorContext
// ready-output idiom (simplified away from changelog/checkpoint persistence,
// which this runtime does not implement - see DESIGN.md).
type StateManager[S, Out any] struct {
	base

	state    *SharedState[S]
	handlers map[reflect.Type]func(ctx context.Context, s *S, in any) ([]Out, error)
}

// NewStateManager creates a StateManager over the given shared state.
func NewStateManager[S, Out any](name string, state *SharedState[S], opts ...StateManagerOption[S, Out]) *StateManager[S, Out] {
	outT := typeOf[Out]()
	hasOutput := outT != typeOf[None]()
	sm := &StateManager[S, Out]{
		state:    state,
		handlers: make(map[reflect.Type]func(ctx context.Context, s *S, in any) ([]Out, error)),
	}
	sm.base = newBase(name, KindStateManager, nil, outT, hasOutput)
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// RegisterStateHandler registers fn as the handler invoked, under the
// SharedState's mutex, whenever a value of type In arrives.
func RegisterStateHandler[S, In, Out any](sm *StateManager[S, Out], fn func(ctx context.Context, s *S, in In) ([]Out, error)) {
	inT := typeOf[In]()
	if _, exists := sm.handlers[inT]; !exists {
		sm.inputTypes = append(sm.inputTypes, inT)
		sm.q = rtqueue.New(sm.inputTypes)
		sm.r.Queue = sm.q
	}
	sm.handlers[inT] = func(ctx context.Context, s *S, in any) ([]Out, error) {
		return fn(ctx, s, in.(In))
	}
}

func (sm *StateManager[S, Out]) start(execCtx *execContext) {
	dispatch := func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error {
		h, ok := sm.handlers[item.Type]
		if !ok {
			return fmt.Errorf("state manager %s: no handler registered for %s", sm.name, item.Type)
		}

		sm.state.mu.Lock()
		ready, err := h(ctx, &sm.state.value, item.Value)
		sm.state.mu.Unlock()
		if err != nil {
			return err
		}

		if sm.hasOutput {
			for _, v := range ready {
				sm.s.Emit(sm.outputType, any(v))
			}
		}
		return nil
	}

	sm.r.Start(execCtx.ctx, 1, nil, dispatch, nil, sm.defaultCanTerminate)
}
