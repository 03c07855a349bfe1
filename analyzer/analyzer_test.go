package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraph is a minimal Describable/OutputDescribable fixture so these
// tests exercise the analyzer in isolation, without needing a real
// graphflow.Graph.
type fakeGraph struct {
	edges         map[string][]string
	order         []string
	terminators   map[string]bool
	receivers     map[string]int
	constOutput   map[string]bool
	readOnlyFanIn map[string]bool
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		edges:         make(map[string][]string),
		terminators:   make(map[string]bool),
		receivers:     make(map[string]int),
		constOutput:   make(map[string]bool),
		readOnlyFanIn: make(map[string]bool),
	}
}

func (f *fakeGraph) addNode(name string) {
	f.order = append(f.order, name)
}

func (f *fakeGraph) addEdge(from, to string) {
	f.edges[from] = append(f.edges[from], to)
}

func (f *fakeGraph) NodeNames() []string               { return f.order }
func (f *fakeGraph) Edges(n string) []string            { return f.edges[n] }
func (f *fakeGraph) HasCustomTerminator(n string) bool  { return f.terminators[n] }
func (f *fakeGraph) Receivers(n string) int             { return f.receivers[n] }
func (f *fakeGraph) OutputIsConst(n string) bool        { return f.constOutput[n] }
func (f *fakeGraph) AllReceiversReadOnly(n string) bool { return f.readOnlyFanIn[n] }

func TestCycleTestFindsUndrainedCycle(t *testing.T) {
	g := newFakeGraph()
	g.addNode("a")
	g.addNode("b")
	g.addNode("c")
	g.addEdge("a", "b")
	g.addEdge("b", "c")
	g.addEdge("c", "a")

	cycles := CycleTest(g)
	require.Len(t, cycles, 1)
	assert.False(t, cycles[0].HasTerminator)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycles[0].Path)
}

func TestCycleTestRecognizesCustomTerminator(t *testing.T) {
	g := newFakeGraph()
	g.addNode("a")
	g.addNode("b")
	g.addEdge("a", "b")
	g.addEdge("b", "a")
	g.terminators["b"] = true

	cycles := CycleTest(g)
	require.Len(t, cycles, 1)
	assert.True(t, cycles[0].HasTerminator)
}

func TestCycleTestOnAcyclicGraphFindsNothing(t *testing.T) {
	g := newFakeGraph()
	g.addNode("a")
	g.addNode("b")
	g.addNode("c")
	g.addEdge("a", "b")
	g.addEdge("b", "c")

	assert.Empty(t, CycleTest(g))
}

func TestDataRaceTestFlagsMutableFanOut(t *testing.T) {
	g := newFakeGraph()
	g.addNode("producer")
	g.receivers["producer"] = 2

	findings := DataRaceTest(g)
	require.Len(t, findings, 1)
	assert.Equal(t, "producer", findings[0].Node)
}

func TestDataRaceTestIgnoresConstOutput(t *testing.T) {
	g := newFakeGraph()
	g.addNode("producer")
	g.receivers["producer"] = 3
	g.constOutput["producer"] = true

	assert.Empty(t, DataRaceTest(g))
}

func TestDataRaceTestIgnoresSingleReceiver(t *testing.T) {
	g := newFakeGraph()
	g.addNode("producer")
	g.receivers["producer"] = 1

	assert.Empty(t, DataRaceTest(g))
}

func TestCriticalPathTestFindsHeaviestRoute(t *testing.T) {
	g := newFakeGraph()
	g.addNode("source")
	g.addNode("fast")
	g.addNode("slow")
	g.addNode("sink")
	g.addEdge("source", "fast")
	g.addEdge("source", "slow")
	g.addEdge("fast", "sink")
	g.addEdge("slow", "sink")

	weights := map[string]time.Duration{
		"source": time.Millisecond,
		"fast":   time.Millisecond,
		"slow":   10 * time.Millisecond,
		"sink":   time.Millisecond,
	}

	path, err := CriticalPathTest(g, func(n string) time.Duration { return weights[n] })
	require.NoError(t, err)
	assert.Equal(t, []string{"source", "slow", "sink"}, path.Nodes)
	assert.Equal(t, 12*time.Millisecond, path.Total)
}

func TestCriticalPathTestErrorsOnCycle(t *testing.T) {
	g := newFakeGraph()
	g.addNode("a")
	g.addNode("b")
	g.addEdge("a", "b")
	g.addEdge("b", "a")

	_, err := CriticalPathTest(g, func(n string) time.Duration { return time.Millisecond })
	assert.Error(t, err)
}
