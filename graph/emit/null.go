package emit

import "context"

// NullEmitter discards every event regardless of Mode. It exists for
// production deployments that want the Multiplexer's Subscribe/fan-out
// behavior without a downstream emitter attached, and as the zero-value
// fallback NewMultiplexer installs when constructed with a nil Emitter.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards event.
func (n *NullEmitter) Emit(Event) {}

// EmitBatch discards events and always returns nil.
func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

// Flush is a no-op: there is nothing buffered to flush.
func (n *NullEmitter) Flush(context.Context) error { return nil }
