package pregel

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/flowstate-dev/graphkit/channel"
	"github.com/flowstate-dev/graphkit/checkpoint"
	"github.com/flowstate-dev/graphkit/interrupt"
)

// task is one scheduled node execution within a superstep: either the
// node's default trigger (no Send state) or one Send's per-task state.
type task struct {
	id      string
	nodeID  string
	orderKey uint64
	sendState map[string]any
}

// computeOrderKey derives a deterministic sort key from a task's causal
// origin, exactly the teacher's scheduler.go ComputeOrderKey: hash the
// parent node id and an edge/send index, take the first 8 bytes as a
// uint64. Same inputs always produce the same key, so replay reorders
// nothing.
func computeOrderKey(parentNodeID string, index int) uint64 {
	h := sha256.New()
	h.Write([]byte(parentNodeID))
	idxBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(idxBytes, uint32(index))
	h.Write(idxBytes)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

func computeTaskID(threadID string, step int, nodeID string, orderKey uint64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%d", threadID, step, nodeID, orderKey)
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// Scheduler runs a CompiledGraph's superstep loop: plan (compute the
// trigger set from versions-seen), execute (dispatch triggered tasks
// through a bounded ants pool), barrier (collect all task writes),
// commit (fold writes into the registry, advancing channel versions and
// recording a checkpoint). This directly generalizes the teacher's
// runConcurrent loop (graph/engine.go) from one Reducer[S] over opaque
// state to the multi-channel trigger model.
type Scheduler struct {
	graph   *CompiledGraph
	saver   checkpoint.Saver
	ctrl    *interrupt.Controller
	workers int
	metrics *Metrics

	emit func(Event)
}

// Event is a scheduler-lifecycle notification, consumed by the stream
// multiplexer in package emit via a small adapter (see langrun).
//
// Kind follows spec.md §5's per-superstep ordering invariant:
// "plan" (Debug) -> "message"* (Messages, via the node's Writer handle) ->
// "update"* (Updates, one per task's staged writes) -> "commit" (Debug) ->
// "values" (Values, full post-commit snapshot) -> "checkpoint" (Debug).
// "error" and "interrupt" can interleave with any of the above.
type Event struct {
	Step     int
	NodeID   string
	TaskID   string
	Kind     string // "plan", "message", "update", "commit", "values", "checkpoint", "interrupt", "error"
	Msg      string
	Channels []string
	Values   map[string]any
	Err      error
}

// SchedulerOption configures a Scheduler at construction time, the same
// functional-options shape as the teacher's graph/options.go.
type SchedulerOption func(*Scheduler)

// WithWorkers bounds concurrent task execution within a superstep (default
// 8). Zero or a negative n runs a superstep's tasks one at a time on the
// calling goroutine, in plan order, without a worker pool.
func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) { s.workers = n }
}

// WithEmit installs a callback invoked for every scheduler lifecycle event.
func WithEmit(fn func(Event)) SchedulerOption {
	return func(s *Scheduler) { s.emit = fn }
}

// WithMetrics installs Prometheus instrumentation for task latency,
// retries, interrupts, and committed steps.
func WithMetrics(m *Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler builds a Scheduler for graph, persisting through saver and
// signaling human-in-the-loop pauses through ctrl.
func NewScheduler(graph *CompiledGraph, saver checkpoint.Saver, ctrl *interrupt.Controller, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{graph: graph, saver: saver, ctrl: ctrl, workers: 8}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) fire(e Event) {
	if s.emit != nil {
		s.emit(e)
	}
}

// taskResult is what one task execution produces for the barrier.
type taskResult struct {
	task   task
	update Update
	err    error
	interrupted *interrupt.Interrupt
}

// loadOrInit restores a thread's registry from its latest checkpoint (or, if
// none exists yet, seeds a fresh input checkpoint from input) and returns
// the state the superstep loop needs to continue: the registry, each node's
// versions-seen map, the current step number, and the id of the checkpoint
// the next one should record as its parent.
func (s *Scheduler) loadOrInit(ctx context.Context, cfg checkpoint.Config, input map[string]any) (*channel.Registry, map[string]map[string]channel.Version, int, string, error) {
	reg := channel.NewRegistry()
	for _, c := range s.graph.Channels {
		if err := reg.Declare(c.Name, c.Kind, c.Reducer); err != nil {
			return nil, nil, 0, "", fmt.Errorf("pregel: declare channel %q: %w", c.Name, err)
		}
	}

	versionsSeen := make(map[string]map[string]channel.Version) // nodeID -> channel -> last seen version
	step := 0
	parentCheckpointID := ""

	tuple, err := s.saver.GetTuple(ctx, cfg.ThreadID, cfg.CheckpointID)
	switch {
	case err == nil:
		reg.Restore(tuple.Checkpoint.ChannelValues, tuple.Checkpoint.ChannelVersions)
		step = tuple.Checkpoint.Metadata.Step
		parentCheckpointID = tuple.Checkpoint.ID
		for node, versions := range tuple.Checkpoint.VersionsSeen {
			versionsSeen[node] = versions
		}
	case err == checkpoint.ErrNotFound:
		for k, v := range input {
			if writeErr := reg.Stage("__input__", k, v); writeErr != nil {
				return nil, nil, 0, "", fmt.Errorf("pregel: seed input: %w", writeErr)
			}
		}
		if _, err := reg.Commit(step); err != nil {
			return nil, nil, 0, "", fmt.Errorf("pregel: commit input: %w", err)
		}
		id, err := s.saver.Put(ctx, cfg.ThreadID, checkpointFrom(reg, step, nil), checkpoint.Metadata{Source: checkpoint.SourceInput, Step: step}, "")
		if err != nil {
			return nil, nil, 0, "", fmt.Errorf("pregel: put input checkpoint: %w", err)
		}
		parentCheckpointID = id
	default:
		return nil, nil, 0, "", fmt.Errorf("pregel: load checkpoint: %w", err)
	}

	return reg, versionsSeen, step, parentCheckpointID, nil
}

// Run drives threadID from its latest checkpoint (or a fresh input
// checkpoint, if none exists) through supersteps until no node is
// triggered, a node interrupts, the recursion limit is hit, or ctx is
// canceled. It returns the final channel.Registry snapshot.
func (s *Scheduler) Run(ctx context.Context, cfg checkpoint.Config, input map[string]any, bp interrupt.Breakpoints) (*channel.Registry, error) {
	reg, versionsSeen, step, parentCheckpointID, err := s.loadOrInit(ctx, cfg, input)
	if err != nil {
		return nil, err
	}
	frontier := []task{{id: computeTaskID(cfg.ThreadID, step, s.graph.Entry, 0), nodeID: s.graph.Entry, orderKey: computeOrderKey(Start, 0)}}
	return s.loop(ctx, cfg, reg, versionsSeen, step, parentCheckpointID, frontier, bp, false)
}

// Resume continues a thread paused on a pending interrupt: it marks the
// interrupt resumed (at-most-once, via interrupt.Controller), reloads the
// thread's last checkpoint, and force-triggers the interrupted node with
// resumeValue visible through its view under the "__resume__" key — the
// per-task overlay mechanism Send fan-out also uses, repurposed here to
// inject a single resume payload. Subsequent supersteps proceed exactly as
// in Run.
func (s *Scheduler) Resume(ctx context.Context, cfg checkpoint.Config, resumeValue any, bp interrupt.Breakpoints) (*channel.Registry, error) {
	pending, ok := s.ctrl.Pending(cfg.ThreadID)
	if !ok {
		return nil, interrupt.ErrNoPendingInterrupt
	}
	if err := s.ctrl.Resume(cfg.ThreadID, resumeValue); err != nil {
		return nil, err
	}

	reg, versionsSeen, step, parentCheckpointID, err := s.loadOrInit(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}

	ok2 := computeOrderKey(pending.NodeID, 0)
	frontier := []task{{
		id:        computeTaskID(cfg.ThreadID, step, pending.NodeID, ok2),
		nodeID:    pending.NodeID,
		orderKey:  ok2,
		sendState: map[string]any{"__resume__": resumeValue},
	}}
	return s.loop(ctx, cfg, reg, versionsSeen, step, parentCheckpointID, frontier, bp, true)
}

// loop runs the plan/execute/barrier/commit/checkpoint superstep cycle
// starting from the given frontier until no node triggers, an interrupt
// fires, or the recursion limit is hit. When forceFirst is true, the first
// iteration's frontier runs unconditionally (bypassing the versions-seen
// trigger check), the behavior Resume needs to re-enter a node that was
// paused mid-plan rather than naturally re-triggered by a channel advance.
func (s *Scheduler) loop(ctx context.Context, cfg checkpoint.Config, reg *channel.Registry, versionsSeen map[string]map[string]channel.Version, step int, parentCheckpointID string, frontier []task, bp interrupt.Breakpoints, forceFirst bool) (*channel.Registry, error) {
	limit := cfg.RecursionLimitOrDefault()
	for step < limit {
		var triggered []task
		if forceFirst {
			triggered = frontier
			forceFirst = false
		} else {
			triggered = s.plan(reg, versionsSeen, frontier)
		}
		if len(triggered) == 0 {
			return reg, nil
		}
		s.fire(Event{Step: step, Kind: "plan"})

		for _, t := range triggered {
			if bp.ShouldPauseBefore(t.nodeID) {
				s.ctrl.Raise(cfg.ThreadID, interrupt.Interrupt{ID: t.id, NodeID: t.nodeID, Value: "before-node breakpoint"})
				return reg, nil
			}
		}

		results, err := s.execute(ctx, cfg, reg, step, triggered)
		if err != nil {
			return reg, err
		}

		for _, r := range results {
			if r.interrupted != nil {
				s.ctrl.Raise(cfg.ThreadID, *r.interrupted)
				return reg, nil
			}
		}

		for _, r := range results {
			var pending []checkpoint.PendingWrite
			for _, w := range r.update.Writes {
				if err := reg.Stage(r.task.id, w.Channel, w.Value); err != nil {
					return reg, fmt.Errorf("pregel: stage write from %q: %w", r.task.nodeID, err)
				}
				pending = append(pending, checkpoint.PendingWrite{TaskID: r.task.id, Channel: w.Channel, Value: w.Value})
			}
			if len(pending) > 0 {
				if err := s.saver.PutWrites(ctx, cfg.ThreadID, parentCheckpointID, r.task.id, pending); err != nil {
					return reg, fmt.Errorf("pregel: put writes for task %q: %w", r.task.id, err)
				}
				written := make([]string, 0, len(r.update.Writes))
				for _, w := range r.update.Writes {
					written = append(written, w.Channel)
				}
				s.fire(Event{Step: step, NodeID: r.task.nodeID, TaskID: r.task.id, Kind: "update", Channels: written})
			}
			if versionsSeen[r.task.nodeID] == nil {
				versionsSeen[r.task.nodeID] = make(map[string]channel.Version)
			}
			for _, ch := range s.graph.Nodes[r.task.nodeID].Reads {
				if v, verr := reg.Version(ch); verr == nil {
					versionsSeen[r.task.nodeID][ch] = v
				}
			}
		}

		updated, err := reg.Commit(step)
		if err != nil {
			return reg, fmt.Errorf("pregel: commit step %d: %w", step, err)
		}

		step++
		id, err := s.saver.Put(ctx, cfg.ThreadID, checkpointFrom(reg, step, versionsSeen), checkpoint.Metadata{Source: checkpoint.SourceLoop, Step: step, ParentID: parentCheckpointID}, parentCheckpointID)
		if err != nil {
			return reg, fmt.Errorf("pregel: put checkpoint step %d: %w", step, err)
		}
		parentCheckpointID = id
		s.fire(Event{Step: step, Kind: "commit", Channels: updated})
		values, _ := reg.Snapshot()
		s.fire(Event{Step: step, Kind: "values", Values: values})
		s.fire(Event{Step: step, Kind: "checkpoint", Channels: updated})
		if s.metrics != nil {
			s.metrics.incrementStepsCommitted()
		}

		for _, r := range results {
			if bp.ShouldPauseAfter(r.task.nodeID) {
				s.ctrl.Raise(cfg.ThreadID, interrupt.Interrupt{ID: r.task.id, NodeID: r.task.nodeID, Value: "after-node breakpoint"})
				return reg, nil
			}
		}

		frontier = s.route(reg, step, results)
	}
	return reg, ErrRecursionLimitExceeded
}

// plan filters frontier down to tasks whose node is actually triggered:
// either it has never run (no versions-seen entry) or at least one
// subscribed channel has advanced past the version last seen.
func (s *Scheduler) plan(reg *channel.Registry, versionsSeen map[string]map[string]channel.Version, frontier []task) []task {
	var out []task
	for _, t := range frontier {
		node, ok := s.graph.Nodes[t.nodeID]
		if !ok {
			continue
		}
		if len(node.Reads) == 0 {
			out = append(out, t)
			continue
		}
		seen := versionsSeen[t.nodeID]
		triggered := seen == nil
		for _, ch := range node.Reads {
			v, verr := reg.Version(ch)
			if verr != nil {
				continue
			}
			last, hasLast := seen[ch]
			if !hasLast || v.Compare(last) > 0 {
				triggered = true
			}
		}
		if triggered {
			out = append(out, t)
		}
	}
	return out
}

// execute runs triggered through the worker pool, preserving task identity
// in the returned slice's order (index-aligned with triggered) regardless
// of completion order, so downstream barrier/commit logic stays
// deterministic.
func (s *Scheduler) execute(ctx context.Context, cfg checkpoint.Config, reg *channel.Registry, step int, triggered []task) ([]taskResult, error) {
	results := make([]taskResult, len(triggered))
	runID := cfg.ThreadID

	var wg sync.WaitGroup
	wg.Add(len(triggered))

	type job struct {
		idx int
		t   task
	}

	runJob := func(j job) {
		defer wg.Done()
		t := j.t
		node := s.graph.Nodes[t.nodeID]
		rng := initRNG(fmt.Sprintf("%s:%d:%s", runID, step, t.id))
		taskCtx := withTask(ctx, runID, cfg.ThreadID, t.nodeID, t.id, step, 0, rng)
		taskCtx = withWriter(taskCtx, func(chunk string) {
			s.fire(Event{Step: step, NodeID: t.nodeID, TaskID: t.id, Kind: "message", Msg: chunk})
		})

		var view View
		if t.sendState != nil {
			view = newSendView(reg, step, t.sendState)
		} else {
			view = newView(reg, step)
		}
		start := time.Now()
		var retryCB func()
		if s.metrics != nil {
			retryCB = func() { s.metrics.incrementRetries(cfg.ThreadID, t.nodeID) }
		}
		update, err := runWithRetry(taskCtx, node, view, rng, retryCB)
		if s.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			s.metrics.recordTaskLatency(cfg.ThreadID, t.nodeID, time.Since(start), status)
		}
		results[j.idx] = taskResult{task: t, update: update, err: err, interrupted: update.Interrupt}
		if err != nil {
			s.fire(Event{Step: step, NodeID: t.nodeID, TaskID: t.id, Kind: "error", Err: err})
		}
		if update.Interrupt != nil {
			s.fire(Event{Step: step, NodeID: t.nodeID, TaskID: t.id, Kind: "interrupt"})
			if s.metrics != nil {
				s.metrics.incrementInterrupts(cfg.ThreadID, t.nodeID)
			}
		}
	}

	if s.metrics != nil {
		s.metrics.setInflightTasks(len(triggered))
		defer s.metrics.setInflightTasks(0)
	}

	if s.workers <= 0 {
		for i, t := range triggered {
			runJob(job{idx: i, t: t})
		}
		for _, r := range results {
			if r.err != nil {
				return results, &TaskError{NodeID: r.task.nodeID, TaskID: r.task.id, Step: step, Cause: r.err}
			}
		}
		return results, nil
	}

	pool, err := ants.NewPoolWithFunc(s.workers, func(arg any) {
		runJob(arg.(job))
	})
	if err != nil {
		return nil, fmt.Errorf("pregel: create worker pool: %w", err)
	}
	defer pool.Release()

	for i, t := range triggered {
		if err := pool.Invoke(job{idx: i, t: t}); err != nil {
			wg.Done()
			return nil, fmt.Errorf("pregel: dispatch task %q: %w", t.id, err)
		}
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return results, &TaskError{NodeID: r.task.nodeID, TaskID: r.task.id, Step: step, Cause: r.err}
		}
	}
	return results, nil
}

// runWithRetry executes node.Exec, retrying per node.Policy on failure with
// exponential backoff (see retry.go's computeBackoff). A nil Policy means
// no retries: a single failed attempt is returned as-is. onRetry, if
// non-nil, is invoked once per retry attempt (used to drive Metrics).
func runWithRetry(ctx context.Context, node Node, view View, rng *rand.Rand, onRetry func()) (Update, error) {
	var lastErr error
	attempt := 0
	for {
		update, err := node.Exec(context.WithValue(ctx, attemptKey, attempt), view)
		if err == nil {
			return update, nil
		}
		lastErr = err
		if node.Policy == nil || !node.Policy.shouldRetry(attempt, err) {
			return Update{}, lastErr
		}
		if onRetry != nil {
			onRetry()
		}
		delay := computeBackoff(attempt, node.Policy.BaseDelay, node.Policy.MaxDelay, rng)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return Update{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		attempt++
	}
}

func (s *Scheduler) route(reg *channel.Registry, step int, results []taskResult) []task {
	type seedKey struct {
		nodeID string
	}
	seen := make(map[seedKey]bool)
	var out []task
	edgeIdx := 0

	addStatic := func(parent, to string) {
		k := seedKey{nodeID: to}
		if seen[k] {
			return
		}
		seen[k] = true
		ok := computeOrderKey(parent, edgeIdx)
		edgeIdx++
		out = append(out, task{id: computeTaskID("", step, to, ok), nodeID: to, orderKey: ok})
	}

	for _, r := range results {
		edges := s.graph.Edges[r.task.nodeID]
		var route *RouteResult
		if r.update.Route != nil {
			route = r.update.Route
		}
		if route == nil {
			for _, e := range edges {
				if e.Router != nil {
					rr, err := e.Router(newView(reg, step))
					if err != nil {
						continue
					}
					route = &rr
					break
				}
			}
		}
		if route == nil {
			for _, e := range edges {
				if e.To != "" {
					addStatic(r.task.nodeID, e.To)
				}
			}
			continue
		}
		switch route.Kind {
		case RouteSingleKind:
			if route.Single != End {
				addStatic(r.task.nodeID, route.Single)
			}
		case RouteParallelKind:
			for _, to := range route.Targets {
				if to != End {
					addStatic(r.task.nodeID, to)
				}
			}
		case RouteSendListKind:
			for i, send := range route.Sends {
				ok := computeOrderKey(r.task.nodeID, i)
				out = append(out, task{
					id:        computeTaskID("", step, send.Target, ok),
					nodeID:    send.Target,
					orderKey:  ok,
					sendState: send.State,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].orderKey < out[j].orderKey })
	return out
}

func checkpointFrom(reg *channel.Registry, step int, versionsSeen map[string]map[string]channel.Version) checkpoint.Checkpoint {
	values, versions := reg.Snapshot()
	return checkpoint.Checkpoint{
		V:               checkpoint.FormatVersion,
		ChannelValues:   values,
		ChannelVersions: versions,
		VersionsSeen:    versionsSeen,
		Metadata:        checkpoint.Metadata{Step: step},
	}
}
