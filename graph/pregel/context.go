package pregel

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// contextKey is a private type for context value keys, so this package's
// keys never collide with another package's, per Go's context best
// practices — the same pattern as the teacher's engine.go contextKey.
type contextKey string

const (
	runIDKey   contextKey = "pregel.run_id"
	threadKey  contextKey = "pregel.thread_id"
	stepKey    contextKey = "pregel.step"
	nodeIDKey  contextKey = "pregel.node_id"
	taskIDKey  contextKey = "pregel.task_id"
	attemptKey contextKey = "pregel.attempt"
	rngKey     contextKey = "pregel.rng"
	writerKey  contextKey = "pregel.writer"
)

// RunID returns the run id stashed in ctx by the scheduler, or "" outside a
// scheduled task.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// ThreadID returns the thread id a task is executing under.
func ThreadID(ctx context.Context) string {
	v, _ := ctx.Value(threadKey).(string)
	return v
}

// Step returns the current superstep number.
func Step(ctx context.Context) int {
	v, _ := ctx.Value(stepKey).(int)
	return v
}

// NodeID returns the id of the node currently executing.
func NodeID(ctx context.Context) string {
	v, _ := ctx.Value(nodeIDKey).(string)
	return v
}

// TaskID returns the deterministic task id (superstep, node, send-index
// derived) for the current execution.
func TaskID(ctx context.Context) string {
	v, _ := ctx.Value(taskIDKey).(string)
	return v
}

// Attempt returns the 0-based retry attempt number for the current task.
func Attempt(ctx context.Context) int {
	v, _ := ctx.Value(attemptKey).(int)
	return v
}

// RNG returns the deterministic random source seeded for this run. Nodes
// that need randomness must draw from this source rather than the global
// math/rand functions, or replaying the run will diverge.
func RNG(ctx context.Context) *rand.Rand {
	v, _ := ctx.Value(rngKey).(*rand.Rand)
	return v
}

// Writer returns the handle a node's executor uses to stream LLM token
// chunks (or any other partial output) as ModeMessages events while the
// node is still running, rather than waiting for its Update to return. A
// node executing outside a scheduler (e.g. in a test calling Exec
// directly) sees a no-op writer.
func Writer(ctx context.Context) func(chunk string) {
	if w, ok := ctx.Value(writerKey).(func(string)); ok && w != nil {
		return w
	}
	return func(string) {}
}

// withWriter augments ctx with the per-task writer handle Writer reads back.
func withWriter(ctx context.Context, w func(string)) context.Context {
	return context.WithValue(ctx, writerKey, w)
}

// initRNG derives a deterministic seed from runID by hashing it with
// SHA-256 and taking the first 8 bytes as an int64 seed — identical to the
// teacher's initRNG in engine.go, preserved verbatim because the hashing
// scheme itself (not any particular package) is what replay determinism
// depends on.
func initRNG(runID string) *rand.Rand {
	h := sha256.New()
	h.Write([]byte(runID))
	sum := h.Sum(nil)
	seed := int64(binary.BigEndian.Uint64(sum[:8])) // #nosec G115 -- deterministic seeding, not security sensitive
	return rand.New(rand.NewSource(seed))
}

// withTask returns ctx augmented with the per-task metadata a node's
// executor can read back via the accessors above.
func withTask(ctx context.Context, runID, threadID, nodeID, taskID string, step, attempt int, rng *rand.Rand) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	ctx = context.WithValue(ctx, threadKey, threadID)
	ctx = context.WithValue(ctx, stepKey, step)
	ctx = context.WithValue(ctx, nodeIDKey, nodeID)
	ctx = context.WithValue(ctx, taskIDKey, taskID)
	ctx = context.WithValue(ctx, attemptKey, attempt)
	ctx = context.WithValue(ctx, rngKey, rng)
	return ctx
}
