package interrupt

// Breakpoints holds the static interrupt-before/interrupt-after node lists
// from a run's checkpoint.Config, used by the scheduler to pause without any
// node itself requesting it — the "debugger breakpoint" style of
// human-in-the-loop, as opposed to a node-raised Interrupt.
type Breakpoints struct {
	Before map[string]bool
	After  map[string]bool
}

// NewBreakpoints builds a Breakpoints set from node-name lists, typically
// checkpoint.Config.InterruptBefore/InterruptAfter.
func NewBreakpoints(before, after []string) Breakpoints {
	b := Breakpoints{Before: make(map[string]bool), After: make(map[string]bool)}
	for _, n := range before {
		b.Before[n] = true
	}
	for _, n := range after {
		b.After[n] = true
	}
	return b
}

// ShouldPauseBefore reports whether the scheduler should pause before
// dispatching nodeID for execution.
func (b Breakpoints) ShouldPauseBefore(nodeID string) bool {
	return b.Before[nodeID]
}

// ShouldPauseAfter reports whether the scheduler should pause after nodeID
// completes, once its superstep's writes are committed and checkpointed.
func (b Breakpoints) ShouldPauseAfter(nodeID string) bool {
	return b.After[nodeID]
}
