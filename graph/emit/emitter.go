// Package emit streams Event values out of a running graph: one Emitter per
// observability backend (log line, zap logger, in-memory buffer,
// OpenTelemetry span), fanned out by a Multiplexer so the scheduler only
// ever talks to a single Emit call per event.
package emit

import "context"

// Emitter receives Event values produced by the scheduler as it steps
// through plan, message, update, commit, values and checkpoint phases (see
// Mode). Implementations must be non-blocking and safe for concurrent use —
// Emit is called from the scheduler's hot path and must never panic or
// slow down a step.
type Emitter interface {
	// Emit sends a single event. Must not block or panic; a slow or
	// failing backend should buffer, drop, or log, never propagate.
	Emit(event Event)

	// EmitBatch sends events in order, preserving their relative order.
	// Returns an error only for catastrophic, non-per-event failures.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until anything buffered has been sent or the context
	// is done. Safe to call more than once.
	Flush(ctx context.Context) error
}
