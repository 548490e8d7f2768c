package pregel

import (
	"errors"
	"fmt"
)

// ErrRecursionLimitExceeded indicates a run reached its RecursionLimit
// (checkpoint.Config.RecursionLimit) without reaching a terminal superstep —
// the guard against infinite loops, equivalent to the teacher's
// ErrMaxStepsExceeded.
var ErrRecursionLimitExceeded = errors.New("pregel: recursion limit exceeded")

// ErrNoProgress indicates the scheduler found no triggered nodes at the
// start of a superstep while the run has not reached End — every channel
// this thread's nodes care about is stable, so the graph can never advance.
var ErrNoProgress = errors.New("pregel: no progress: no triggered nodes")

// ErrAmbiguousRoute indicates a node produced a RouteResult whose Kind isn't
// one of the three recognized shapes.
var ErrAmbiguousRoute = errors.New("pregel: ambiguous route result")

// ValidationError reports a structural problem found at Compile time, in
// the teacher's EngineError{Message,Code} style (graph/node.go's
// NodeError) extended with the offending node/edge/channel name.
type ValidationError struct {
	Message string
	Node    string
	Edge    string
	Channel string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Node != "":
		return fmt.Sprintf("pregel: validation: %s (node %q)", e.Message, e.Node)
	case e.Edge != "":
		return fmt.Sprintf("pregel: validation: %s (edge %q)", e.Message, e.Edge)
	case e.Channel != "":
		return fmt.Sprintf("pregel: validation: %s (channel %q)", e.Message, e.Channel)
	default:
		return fmt.Sprintf("pregel: validation: %s", e.Message)
	}
}

// TaskError wraps a node execution failure with the scheduling context that
// produced it, mirroring the teacher's NodeError (graph/node.go).
type TaskError struct {
	NodeID string
	TaskID string
	Step   int
	Cause  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("pregel: node %q task %q (step %d): %v", e.NodeID, e.TaskID, e.Step, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }
