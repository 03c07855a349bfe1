package graphflow

import "github.com/birdayz/graphflow/internal/pool"

// MemoryManager owns exactly one bounded pool of recyclable buffers and is
// attached to exactly one node (clones created by cluster duplication share
// it; execution-pipeline copies each get their own - see cloneMemoryManagers
// in pipeline.go and P10 in SPEC_FULL.md §8).
type MemoryManager struct {
	capacity int
	factory  func() any
	pool     *pool.Pool[any]
}

// NewMemoryManager creates a MemoryManager whose pool holds capacity
// buffers, built from the supplied factory. Acquire blocks once capacity
// buffers are outstanding - the runtime's backpressure mechanism (§4.9, I6).
func NewMemoryManager(capacity int, factory func() any) *MemoryManager {
	initial := make([]any, capacity)
	for i := range initial {
		initial[i] = factory()
	}
	return &MemoryManager{
		capacity: capacity,
		factory:  factory,
		pool:     pool.New(capacity, initial),
	}
}

// Capacity returns the pool's fixed capacity C.
func (m *MemoryManager) Capacity() int { return m.capacity }

// Available returns the number of buffers currently free in the pool.
func (m *MemoryManager) Available() int { return m.pool.Available() }

// clone returns a fresh MemoryManager of the same capacity, re-invoking the
// original factory for each new buffer, so two nodes that started out
// pointing at the same MemoryManager end up with independent pools and
// independent backpressure. Used by ExecutionPipeline's copy construction
// (cloneMemoryManagers) so a template() closure that captures one
// MemoryManager and attaches it to every copy doesn't leave every copy
// sharing one pool's capacity instead of each enforcing its own.
func (m *MemoryManager) clone() *MemoryManager {
	return NewMemoryManager(m.capacity, m.factory)
}
