// Package langrun exposes the caller-facing surface of the graph runtime:
// Invoke, Stream, GetState, GetStateHistory, UpdateState, and Resume. It
// composes channel.Registry, checkpoint.Saver, graph/pregel.Scheduler, and
// interrupt.Controller the way the teacher's root graph.Engine[S] composes
// its reducer, store, and emitter — this package occupies that position for
// the channel-based model; the module has no graph.Engine type.
package langrun

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowstate-dev/graphkit/channel"
	"github.com/flowstate-dev/graphkit/checkpoint"
	"github.com/flowstate-dev/graphkit/graph/emit"
	"github.com/flowstate-dev/graphkit/graph/pregel"
	"github.com/flowstate-dev/graphkit/interrupt"
)

// ErrInterrupted is returned by Invoke/Resume when the run paused on an
// interrupt instead of reaching __end__. Callers distinguish this from a
// NodeExecution failure and inspect Interrupt for the node id and prompt.
var ErrInterrupted = errors.New("langrun: run interrupted")

// InterruptedError wraps ErrInterrupted with the specific interrupt that
// paused the run, so callers can render a prompt and collect a resume value.
type InterruptedError struct {
	Interrupt interrupt.Interrupt
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("langrun: interrupted at node %q: %v", e.Interrupt.NodeID, e.Interrupt.Value)
}

func (e *InterruptedError) Unwrap() error { return ErrInterrupted }

// Runtime ties a compiled graph to a checkpoint saver, an interrupt
// controller, and a stream multiplexer, and exposes the six operations
// spec.md §6 defines as the caller surface.
type Runtime struct {
	graph   *pregel.CompiledGraph
	saver   checkpoint.Saver
	ctrl    *interrupt.Controller
	mux     *emit.Multiplexer
	workers int
	metrics *pregel.Metrics
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithWorkers bounds the scheduler's per-superstep concurrency.
func WithWorkers(n int) Option {
	return func(r *Runtime) { r.workers = n }
}

// WithDownstreamEmitter installs an Emitter (LogEmitter, ZapEmitter,
// BufferedEmitter, ...) that every event is forwarded to in addition to any
// Stream subscribers.
func WithDownstreamEmitter(e emit.Emitter) Option {
	return func(r *Runtime) { r.mux = emit.NewMultiplexer(e) }
}

// WithMetrics installs Prometheus instrumentation on the scheduler backing
// this Runtime (task latency, retries, interrupts, committed steps).
func WithMetrics(m *pregel.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// New builds a Runtime for graph, persisting through saver.
func New(graph *pregel.CompiledGraph, saver checkpoint.Saver, opts ...Option) *Runtime {
	r := &Runtime{graph: graph, saver: saver, ctrl: interrupt.NewController(), workers: 8, mux: emit.NewMultiplexer(nil)}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runtime) scheduler(bp interrupt.Breakpoints) *pregel.Scheduler {
	opts := []pregel.SchedulerOption{pregel.WithWorkers(r.workers), pregel.WithEmit(func(e pregel.Event) {
		r.mux.Emit(schedulerEventToEmit(e))
	})}
	if r.metrics != nil {
		opts = append(opts, pregel.WithMetrics(r.metrics))
	}
	return pregel.NewScheduler(r.graph, r.saver, r.ctrl, opts...)
}

// schedulerEventToEmit maps a scheduler lifecycle Event onto the emit.Mode
// vocabulary a Stream subscriber filters on. The mapping follows spec.md
// §5's per-superstep ordering invariant: "plan", "commit", and "checkpoint"
// are Debug notifications bracketing a step; "update" carries the
// Updates-mode per-task write summary; "message" carries Messages-mode
// token chunks a node streamed through its Writer handle; "values" carries
// the Values-mode full post-commit channel snapshot.
func schedulerEventToEmit(e pregel.Event) emit.Event {
	var mode emit.Mode
	msg := e.Kind
	switch e.Kind {
	case "update":
		mode = emit.ModeUpdates
	case "message":
		mode = emit.ModeMessages
		msg = e.Msg
	case "values":
		mode = emit.ModeValues
	default: // "plan", "commit", "checkpoint", "interrupt", "error"
		mode = emit.ModeDebug
	}
	meta := map[string]interface{}{}
	if e.Err != nil {
		meta["error"] = e.Err.Error()
	}
	if len(e.Channels) > 0 {
		meta["channels"] = e.Channels
	}
	if e.Values != nil {
		meta["values"] = e.Values
	}
	return emit.Event{Step: e.Step, NodeID: e.NodeID, Msg: msg, Mode: mode, Meta: meta}
}

func breakpointsFromConfig(cfg checkpoint.Config) interrupt.Breakpoints {
	return interrupt.NewBreakpoints(cfg.InterruptBefore, cfg.InterruptAfter)
}

// Invoke runs the graph to completion (or to the next interrupt) and
// returns the final committed channel values. Threading is determined
// entirely by cfg.ThreadID: calling Invoke twice with the same ThreadID
// resumes the existing lineage rather than starting over, per the
// checkpoint-as-source-of-truth model.
func (r *Runtime) Invoke(ctx context.Context, initial map[string]any, cfg checkpoint.Config) (map[string]any, error) {
	reg, err := r.scheduler(breakpointsFromConfig(cfg)).Run(ctx, cfg, initial, breakpointsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	if pending, ok := r.ctrl.Pending(cfg.ThreadID); ok {
		return nil, &InterruptedError{Interrupt: pending}
	}
	values, _ := reg.Snapshot()
	return values, nil
}

// Stream behaves like Invoke but also returns a Subscription filtered to
// modes (pass none for every mode) that receives events as the run
// progresses. The run executes in a background goroutine; callers should
// range over the Subscription's channel and separately await done for the
// final result.
func (r *Runtime) Stream(ctx context.Context, initial map[string]any, cfg checkpoint.Config, modes ...emit.Mode) (sub *emit.Subscription, done <-chan StreamResult) {
	sub = r.mux.Subscribe(modes...)
	resultCh := make(chan StreamResult, 1)

	go func() {
		defer r.mux.Unsubscribe(sub)
		values, err := r.Invoke(ctx, initial, cfg)
		resultCh <- StreamResult{Values: values, Err: err}
		close(resultCh)
	}()

	return sub, resultCh
}

// StreamResult is the terminal outcome of a Stream call, delivered once the
// background run halts, interrupts, or fails.
type StreamResult struct {
	Values map[string]any
	Err    error
}

// GetState returns the latest checkpoint tuple for cfg.ThreadID (or the one
// at cfg.CheckpointID, if set).
func (r *Runtime) GetState(ctx context.Context, cfg checkpoint.Config) (checkpoint.Tuple, error) {
	return r.saver.GetTuple(ctx, cfg.ThreadID, cfg.CheckpointID)
}

// GetStateHistory returns every checkpoint for cfg.ThreadID matching filter,
// reverse-chronological.
func (r *Runtime) GetStateHistory(ctx context.Context, cfg checkpoint.Config, filter checkpoint.Filter) ([]checkpoint.Tuple, error) {
	return r.saver.List(ctx, cfg.ThreadID, filter)
}

// UpdateState forks the thread at cfg.CheckpointID (or the latest
// checkpoint, if unset): it restores that checkpoint's channel values,
// applies partial as a new superstep's writes through each channel's
// reducer, and persists the result as a new checkpoint with
// source=update, parented at the checkpoint it forked from. It returns the
// new checkpoint's id so the caller can target it with a later Invoke.
func (r *Runtime) UpdateState(ctx context.Context, cfg checkpoint.Config, partial map[string]any) (string, error) {
	tuple, err := r.saver.GetTuple(ctx, cfg.ThreadID, cfg.CheckpointID)
	if err != nil {
		return "", fmt.Errorf("langrun: update_state: load checkpoint: %w", err)
	}

	reg := channel.NewRegistry()
	for _, c := range r.graph.Channels {
		if err := reg.Declare(c.Name, c.Kind, c.Reducer); err != nil {
			return "", fmt.Errorf("langrun: update_state: declare channel %q: %w", c.Name, err)
		}
	}
	reg.Restore(tuple.Checkpoint.ChannelValues, tuple.Checkpoint.ChannelVersions)

	for k, v := range partial {
		if err := reg.Stage("__update__", k, v); err != nil {
			return "", fmt.Errorf("langrun: update_state: stage %q: %w", k, err)
		}
	}
	step := tuple.Checkpoint.Metadata.Step + 1
	if _, err := reg.Commit(step); err != nil {
		return "", fmt.Errorf("langrun: update_state: commit: %w", err)
	}

	values, versions := reg.Snapshot()
	cp := checkpoint.Checkpoint{
		V:               checkpoint.FormatVersion,
		Ts:              time.Now().UTC(),
		ChannelValues:   values,
		ChannelVersions: versions,
		VersionsSeen:    tuple.Checkpoint.VersionsSeen,
		Metadata:        checkpoint.Metadata{Source: checkpoint.SourceUpdate, Step: step, ParentID: tuple.Checkpoint.ID},
	}
	id, err := r.saver.Put(ctx, cfg.ThreadID, cp, cp.Metadata, tuple.Checkpoint.ID)
	if err != nil {
		return "", fmt.Errorf("langrun: update_state: put checkpoint: %w", err)
	}
	return id, nil
}

// Resume continues a thread paused on a pending interrupt, injecting
// resumeValue into the interrupted node's input, and runs to the next halt
// or interrupt exactly as Invoke does. It fails with
// interrupt.ErrNoPendingInterrupt if the thread has nothing to resume, or
// interrupt.ErrAlreadyResumed if this interrupt was already consumed.
func (r *Runtime) Resume(ctx context.Context, cfg checkpoint.Config, resumeValue any) (map[string]any, error) {
	bp := breakpointsFromConfig(cfg)
	reg, err := r.scheduler(bp).Resume(ctx, cfg, resumeValue, bp)
	if err != nil {
		return nil, err
	}
	if pending, ok := r.ctrl.Pending(cfg.ThreadID); ok {
		return nil, &InterruptedError{Interrupt: pending}
	}
	values, _ := reg.Snapshot()
	return values, nil
}
