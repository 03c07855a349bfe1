package graphflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryManagerAcquireRelease(t *testing.T) {
	mm := NewMemoryManager(2, func() any { return make([]byte, 8) })
	assert.Equal(t, 2, mm.Capacity())
	assert.Equal(t, 2, mm.Available())

	p := NewTask[None]("mem-test", WithMemoryManager[None](mm))
	buf, err := p.AcquireManagedMemory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mm.Available())
	require.NoError(t, p.ReleaseManagedMemory(buf))
	assert.Equal(t, 2, mm.Available())
}

// clone gives an execution-pipeline copy its own pool instead of sharing
// the template's, so each copy enforces its own capacity independently.
func TestMemoryManagerCloneIsIndependent(t *testing.T) {
	var built int
	mm := NewMemoryManager(1, func() any { built++; return built })

	clone := mm.clone()

	_, err := mm.pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, mm.Available())
	assert.Equal(t, 1, clone.Available())
}

// NewExecutionPipeline wires clone() in automatically: a template() closure
// that attaches the same MemoryManager to every copy still ends up with k
// independent pools, not k handles on one pool (P10, SPEC_FULL.md §8).
func TestExecutionPipelineClonesSharedMemoryManager(t *testing.T) {
	shared := NewMemoryManager(1, func() any { return make([]byte, 4) })

	build := func() *Graph {
		g := NewGraph("copy")
		task := NewTask[None]("bounded", WithMemoryManager[None](shared))
		RegisterHandler(task, func(ctx context.Context, in int, emit func(None)) error { return nil })
		_ = g.Input(task)
		return g
	}

	p := NewExecutionPipeline(build, 3)

	seen := make(map[*MemoryManager]bool)
	for _, c := range p.Copies() {
		for _, name := range c.NodeNames() {
			mm := c.nodes[name].attachedMemoryManager()
			require.NotNil(t, mm)
			assert.False(t, seen[mm], "two copies must not share one MemoryManager instance")
			seen[mm] = true
		}
	}
}
