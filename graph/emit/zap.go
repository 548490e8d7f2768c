package emit

import (
	"context"

	"go.uber.org/zap"
)

// ZapEmitter implements Emitter on top of a structured go.uber.org/zap
// logger, for deployments that already ship zap-formatted logs to their
// aggregator and want run events in the same stream rather than a separate
// LogEmitter writer. Fields are run_id, step, node_id, mode and meta; the
// id field names differ from LogEmitter's JSON keys.
type ZapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter wraps logger. A nil logger falls back to zap.NewNop, making
// ZapEmitter safe to construct before logging is configured.
func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapEmitter{logger: logger}
}

func (z *ZapEmitter) fields(event Event) []zap.Field {
	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.Int("step", event.Step),
		zap.String("node_id", event.NodeID),
		zap.String("mode", string(event.Mode)),
	}
	if len(event.Meta) > 0 {
		fields = append(fields, zap.Any("meta", event.Meta))
	}
	return fields
}

// Emit logs event at info level with a message set from event.Msg.
func (z *ZapEmitter) Emit(event Event) {
	z.logger.Info(event.Msg, z.fields(event)...)
}

// EmitBatch logs every event in order.
func (z *ZapEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		z.Emit(event)
	}
	return nil
}

// Flush syncs the underlying zap logger. Sync errors on stdout/stderr
// (ENOTTY/EINVAL when the fd isn't a real file) are a known zap quirk, not
// a delivery failure, so they are swallowed rather than returned.
func (z *ZapEmitter) Flush(_ context.Context) error {
	_ = z.logger.Sync()
	return nil
}
