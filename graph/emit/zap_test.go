package emit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapEmitterEmitWritesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	emitter := NewZapEmitter(zap.New(core))

	emitter.Emit(Event{RunID: "r1", Step: 2, NodeID: "n1", Mode: ModeUpdates, Msg: "node_end", Meta: map[string]interface{}{"duration_ms": 5}})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message != "node_end" {
		t.Fatalf("expected message node_end, got %q", entry.Message)
	}
	fields := entry.ContextMap()
	if fields["run_id"] != "r1" {
		t.Fatalf("expected run_id field r1, got %v", fields["run_id"])
	}
	if fields["mode"] != "updates" {
		t.Fatalf("expected mode field updates, got %v", fields["mode"])
	}
}

func TestZapEmitterEmitBatch(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	emitter := NewZapEmitter(zap.New(core))

	err := emitter.EmitBatch(context.Background(), []Event{
		{RunID: "r1", Msg: "a"},
		{RunID: "r1", Msg: "b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs.All()) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs.All()))
	}
}

func TestZapEmitterNilLoggerFallsBackToNop(t *testing.T) {
	emitter := NewZapEmitter(nil)
	emitter.Emit(Event{RunID: "r1", Msg: "noop"})
	if err := emitter.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
}
