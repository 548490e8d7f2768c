package emit

// Event represents an observability event emitted during workflow execution.
//
// Events provide detailed insight into workflow behavior:
//   - Node execution start/complete
//   - State changes and transitions
//   - Errors and warnings
//   - Performance metrics
//   - Checkpoint operations
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Store in time-series databases
//   - Trigger alerts
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	RunID string

	// Step is the superstep number in the workflow, counted from 0 for the
	// first superstep after the input. Commit, values and checkpoint events
	// carry the number of the checkpoint they record, one past the step.
	Step int

	// NodeID identifies which node emitted this event.
	// Empty string for workflow-level events.
	NodeID string

	// Msg is a human-readable description of the event.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Execution duration in milliseconds
	//   - "error": Error details
	//   - "tokens": Token count for LLM calls
	//   - "checkpoint_id": Checkpoint identifier
	//   - "retryable": Whether an error can be retried
	Meta map[string]interface{}

	// Mode tags which stream a subscriber asked for this event belongs to.
	// The zero value is the empty Mode, which is not ModeDebug: an untagged
	// event reaches only subscribers and emitters that do not filter by mode.
	Mode Mode
}

// Mode identifies which of the runtime's typed output streams an Event
// belongs to. Callers of Runtime.Stream pick one or more modes; the
// multiplexer only forwards events whose Mode is in the requested set.
type Mode string

const (
	// ModeValues carries a full snapshot of channel values after a superstep.
	ModeValues Mode = "values"
	// ModeUpdates carries only the channels a superstep changed.
	ModeUpdates Mode = "updates"
	// ModeMessages carries chat-style message deltas, for token-by-token
	// streaming of an LLM node's output.
	ModeMessages Mode = "messages"
	// ModeDebug carries scheduler-internal trace events: task dispatch,
	// retries, checkpoint writes, interrupts.
	ModeDebug Mode = "debug"
	// ModeCustom carries events a node explicitly emits via a run-scoped
	// emit handle, for application-defined progress reporting.
	ModeCustom Mode = "custom"
)
