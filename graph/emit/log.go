package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, either as human-readable text or
// as JSON Lines. Every line carries the event's Mode (values/updates/
// messages/debug/custom) so a log consumer can grep or filter a run's transcript by
// stream without needing the Multiplexer's in-process Subscribe.
//
//	emitter := emit.NewLogEmitter(os.Stdout, false)
//	emitter := emit.NewLogEmitter(eventsFile, true) // one JSON object per line
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
	only     map[Mode]bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout if nil) in
// text or JSON mode.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// NewLogEmitterForModes is NewLogEmitter restricted to a subset of Modes —
// e.g. a transcript file that only wants ModeMessages token chunks, without
// the Debug noise of every plan/commit/checkpoint event.
func NewLogEmitterForModes(writer io.Writer, jsonMode bool, modes ...Mode) *LogEmitter {
	l := NewLogEmitter(writer, jsonMode)
	if len(modes) > 0 {
		l.only = make(map[Mode]bool, len(modes))
		for _, m := range modes {
			l.only[m] = true
		}
	}
	return l
}

func (l *LogEmitter) accepts(event Event) bool {
	return l.only == nil || l.only[event.Mode]
}

// Emit writes event as text or JSON depending on jsonMode, skipping it if
// this LogEmitter was built with NewLogEmitterForModes and event.Mode isn't
// in the accepted set.
func (l *LogEmitter) Emit(event Event) {
	if !l.accepts(event) {
		return
	}
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID  string                 `json:"runID"`
		Step   int                    `json:"step"`
		NodeID string                 `json:"nodeID"`
		Mode   Mode                   `json:"mode"`
		Msg    string                 `json:"msg"`
		Meta   map[string]interface{} `json:"meta"`
	}{
		RunID:  event.RunID,
		Step:   event.Step,
		NodeID: event.NodeID,
		Mode:   event.Mode,
		Msg:    event.Msg,
		Meta:   event.Meta,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] mode=%s runID=%s step=%d nodeID=%s",
		event.Msg, event.Mode, event.RunID, event.Step, event.NodeID)

	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			_, _ = fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch writes events in order, applying the same mode filter and
// formatting as Emit but in a single pass over the slice.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously with no internal
// buffering beyond whatever the underlying io.Writer does on its own.
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}
