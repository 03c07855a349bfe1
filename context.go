package graphflow

import "context"

// execContext carries the run-time context threaded through every inside
// node's start() when a Graph is executed. It exists so Graph.ExecuteGraph
// does not need to change signature as more cross-cutting run-time state
// (beyond ctx) is added.
type execContext struct {
	ctx context.Context
}
