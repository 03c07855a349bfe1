package graphflow

import "errors"

// Sentinel errors returned by graph construction and execution (the pool's
// overflow error is pool.ErrPoolOverflow in internal/pool), grounded
// on the teacher's kdag Err* sentinel set (ErrTypeMismatch, ErrNodeAlreadyExists,
// ErrNodeNotFound, ErrInvalidTopology, ErrCycleDetected) and generalized from
// a fixed (K,V) pair to the N-ary input-type model this runtime uses.
var (
	ErrTypeMismatch    = errors.New("graphflow: output type is not among the receiver's declared input types")
	ErrDuplicateName   = errors.New("graphflow: duplicate node name in graph")
	ErrNodeNotFound    = errors.New("graphflow: node not found")
	ErrMissingInput    = errors.New("graphflow: node does not declare an input type shared with the graph")
	ErrMissingOutput   = errors.New("graphflow: node's output type does not match the graph's declared output type")
	ErrNilNode         = errors.New("graphflow: nil node")
	ErrAlreadyRunning  = errors.New("graphflow: graph is already running")
	ErrNotRunning      = errors.New("graphflow: graph is not running")
	ErrDotFileIO       = errors.New("graphflow: could not write dot file")
	ErrNilScheduler    = errors.New("graphflow: nil custom scheduler function")
)
