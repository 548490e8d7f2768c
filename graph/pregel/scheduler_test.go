package pregel_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstate-dev/graphkit/channel"
	"github.com/flowstate-dev/graphkit/checkpoint"
	"github.com/flowstate-dev/graphkit/graph/pregel"
	"github.com/flowstate-dev/graphkit/interrupt"
)

// TestLastValueCounterAdvances is scenario S1: a node repeatedly increments
// a LastValue channel until a conditional edge routes to End.
func TestLastValueCounterAdvances(t *testing.T) {
	g := pregel.NewStateGraph()
	g.AddChannel(pregel.ChannelSpec{Name: "count", Kind: channel.LastValue})
	g.AddNode(pregel.Node{
		ID:     "incr",
		Reads:  []string{"count"},
		Writes: []string{"count"},
		Exec: func(ctx context.Context, view pregel.View) (pregel.Update, error) {
			cur, _ := view.Get("count")
			n, _ := cur.(int)
			n++
			route := pregel.RouteTo("incr")
			if n >= 3 {
				route = pregel.RouteTo(pregel.End)
			}
			return pregel.Update{Writes: []pregel.Write{{Channel: "count", Value: n}}, Route: &route}, nil
		},
	})
	g.SetEntry("incr")

	compiled, err := g.Compile()
	require.NoError(t, err)

	saver := checkpoint.NewMemorySaver()
	sched := pregel.NewScheduler(compiled, saver, interrupt.NewController(), pregel.WithWorkers(0))

	reg, err := sched.Run(context.Background(), checkpoint.Config{ThreadID: "t1"}, map[string]any{"count": 0}, interrupt.Breakpoints{})
	require.NoError(t, err)

	val, present := reg.Read("count")
	require.True(t, present)
	assert.Equal(t, 3, val)
}

// TestTopicChannelFanIn is scenario S2: multiple writers append to a Topic
// channel rather than overwriting each other.
func TestTopicChannelFanIn(t *testing.T) {
	g := pregel.NewStateGraph()
	g.AddChannel(pregel.ChannelSpec{Name: "log", Kind: channel.Topic})
	g.AddNode(pregel.Node{
		ID:     "start",
		Writes: []string{"log"},
		Exec: func(ctx context.Context, view pregel.View) (pregel.Update, error) {
			route := pregel.RouteParallel("a", "b")
			return pregel.Update{
				Writes: []pregel.Write{{Channel: "log", Value: "start"}},
				Route:  &route,
			}, nil
		},
	})
	g.AddNode(pregel.Node{ID: "a", Writes: []string{"log"}, Exec: func(ctx context.Context, v pregel.View) (pregel.Update, error) {
		route := pregel.RouteTo(pregel.End)
		return pregel.Update{Writes: []pregel.Write{{Channel: "log", Value: "a"}}, Route: &route}, nil
	}})
	g.AddNode(pregel.Node{ID: "b", Writes: []string{"log"}, Exec: func(ctx context.Context, v pregel.View) (pregel.Update, error) {
		route := pregel.RouteTo(pregel.End)
		return pregel.Update{Writes: []pregel.Write{{Channel: "log", Value: "b"}}, Route: &route}, nil
	}})
	g.SetEntry("start")

	compiled, err := g.Compile()
	require.NoError(t, err)

	saver := checkpoint.NewMemorySaver()
	sched := pregel.NewScheduler(compiled, saver, interrupt.NewController(), pregel.WithWorkers(0))

	reg, err := sched.Run(context.Background(), checkpoint.Config{ThreadID: "t2"}, nil, interrupt.Breakpoints{})
	require.NoError(t, err)

	val, present := reg.Read("log")
	require.True(t, present)
	list, ok := val.([]any)
	require.True(t, ok)
	assert.Len(t, list, 3)
}

// TestSendFanOutCreatesDistinctTasks is scenario S3: a node emits several
// Sends to the same target node, each becoming its own task with its own
// per-task state rather than being deduplicated like a static edge.
func TestSendFanOutCreatesDistinctTasks(t *testing.T) {
	g := pregel.NewStateGraph()
	g.AddChannel(pregel.ChannelSpec{Name: "results", Kind: channel.Topic})
	g.AddNode(pregel.Node{
		ID: "fanout",
		Exec: func(ctx context.Context, view pregel.View) (pregel.Update, error) {
			route := pregel.RouteSends(
				pregel.Send{Target: "worker", State: map[string]any{"item": 1}},
				pregel.Send{Target: "worker", State: map[string]any{"item": 2}},
				pregel.Send{Target: "worker", State: map[string]any{"item": 3}},
			)
			return pregel.Update{Route: &route}, nil
		},
	})
	g.AddNode(pregel.Node{
		ID:     "worker",
		Writes: []string{"results"},
		Exec: func(ctx context.Context, view pregel.View) (pregel.Update, error) {
			item, _ := view.Get("item")
			route := pregel.RouteTo(pregel.End)
			return pregel.Update{Writes: []pregel.Write{{Channel: "results", Value: item}}, Route: &route}, nil
		},
	})
	g.SetEntry("fanout")

	compiled, err := g.Compile()
	require.NoError(t, err)

	saver := checkpoint.NewMemorySaver()
	sched := pregel.NewScheduler(compiled, saver, interrupt.NewController(), pregel.WithWorkers(4))

	reg, err := sched.Run(context.Background(), checkpoint.Config{ThreadID: "t3"}, nil, interrupt.Breakpoints{})
	require.NoError(t, err)

	val, present := reg.Read("results")
	require.True(t, present)
	list, ok := val.([]any)
	require.True(t, ok)
	assert.Len(t, list, 3)
}

// TestInterruptPausesAndResume is scenario S4: a node requests an
// interrupt; the scheduler pauses without committing further supersteps,
// and a later Resume call lets the caller retry with new input.
func TestInterruptPausesAndResume(t *testing.T) {
	g := pregel.NewStateGraph()
	g.AddChannel(pregel.ChannelSpec{Name: "approved", Kind: channel.LastValue})
	g.AddNode(pregel.Node{
		ID:     "review",
		Reads:  []string{"approved"},
		Writes: []string{"approved"},
		Exec: func(ctx context.Context, view pregel.View) (pregel.Update, error) {
			if v, present := view.Get("approved"); present && v == true {
				route := pregel.RouteTo(pregel.End)
				return pregel.Update{Route: &route}, nil
			}
			return pregel.Update{Interrupt: &interrupt.Interrupt{ID: "review-1", NodeID: "review", Value: "approve?"}}, nil
		},
	})
	g.SetEntry("review")

	compiled, err := g.Compile()
	require.NoError(t, err)

	saver := checkpoint.NewMemorySaver()
	ctrl := interrupt.NewController()
	sched := pregel.NewScheduler(compiled, saver, ctrl, pregel.WithWorkers(0))

	cfg := checkpoint.Config{ThreadID: "t4"}
	_, err = sched.Run(context.Background(), cfg, nil, interrupt.Breakpoints{})
	require.NoError(t, err)

	pending, ok := ctrl.Pending("t4")
	require.True(t, ok)
	assert.Equal(t, "review", pending.NodeID)

	require.NoError(t, ctrl.Resume("t4", true))

	err = ctrl.Resume("t4", true)
	assert.ErrorIs(t, err, interrupt.ErrAlreadyResumed)
}

// TestRetryExhaustionSurfacesError is scenario S5: a node that always fails
// exhausts its retry policy and the failure surfaces as a TaskError.
func TestRetryExhaustionSurfacesError(t *testing.T) {
	boom := errors.New("boom")
	g := pregel.NewStateGraph()
	g.AddNode(pregel.Node{
		ID:     "flaky",
		Policy: &pregel.RetryPolicy{MaxAttempts: 2, BaseDelay: 0},
		Exec: func(ctx context.Context, view pregel.View) (pregel.Update, error) {
			return pregel.Update{}, boom
		},
	})
	g.SetEntry("flaky")

	compiled, err := g.Compile()
	require.NoError(t, err)

	saver := checkpoint.NewMemorySaver()
	sched := pregel.NewScheduler(compiled, saver, interrupt.NewController(), pregel.WithWorkers(0))

	_, err = sched.Run(context.Background(), checkpoint.Config{ThreadID: "t5"}, nil, interrupt.Breakpoints{})
	require.Error(t, err)
	var taskErr *pregel.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "flaky", taskErr.NodeID)
}

// TestRecursionLimitExceeded guards against infinite loops.
func TestRecursionLimitExceeded(t *testing.T) {
	g := pregel.NewStateGraph()
	g.AddChannel(pregel.ChannelSpec{Name: "n", Kind: channel.LastValue})
	g.AddNode(pregel.Node{
		ID:     "loop",
		Reads:  []string{"n"},
		Writes: []string{"n"},
		Exec: func(ctx context.Context, view pregel.View) (pregel.Update, error) {
			cur, _ := view.Get("n")
			v, _ := cur.(int)
			route := pregel.RouteTo("loop")
			return pregel.Update{Writes: []pregel.Write{{Channel: "n", Value: v + 1}}, Route: &route}, nil
		},
	})
	g.SetEntry("loop")

	compiled, err := g.Compile()
	require.NoError(t, err)

	saver := checkpoint.NewMemorySaver()
	sched := pregel.NewScheduler(compiled, saver, interrupt.NewController(), pregel.WithWorkers(0))

	_, err = sched.Run(context.Background(), checkpoint.Config{ThreadID: "t6", RecursionLimit: 5}, map[string]any{"n": 0}, interrupt.Breakpoints{})
	assert.ErrorIs(t, err, pregel.ErrRecursionLimitExceeded)
}

// TestEventOrderingAndWriter checks the per-superstep event sequence spec.md
// §5 requires (plan, then messages streamed through the Writer handle, then
// one update per task, then commit, then a full values snapshot, then
// checkpoint) and that a node's Writer chunks surface as "message" events.
func TestEventOrderingAndWriter(t *testing.T) {
	g := pregel.NewStateGraph()
	g.AddChannel(pregel.ChannelSpec{Name: "count", Kind: channel.LastValue})
	g.AddNode(pregel.Node{
		ID:     "incr",
		Reads:  []string{"count"},
		Writes: []string{"count"},
		Exec: func(ctx context.Context, view pregel.View) (pregel.Update, error) {
			pregel.Writer(ctx)("chunk")
			cur, _ := view.Get("count")
			n, _ := cur.(int)
			n++
			route := pregel.RouteTo(pregel.End)
			return pregel.Update{Writes: []pregel.Write{{Channel: "count", Value: n}}, Route: &route}, nil
		},
	})
	g.SetEntry("incr")

	compiled, err := g.Compile()
	require.NoError(t, err)

	var kinds []string
	var sawValues bool
	saver := checkpoint.NewMemorySaver()
	sched := pregel.NewScheduler(compiled, saver, interrupt.NewController(), pregel.WithWorkers(0), pregel.WithEmit(func(e pregel.Event) {
		kinds = append(kinds, e.Kind)
		if e.Kind == "values" {
			sawValues = true
			assert.Equal(t, 1, e.Values["count"])
		}
		if e.Kind == "message" {
			assert.Equal(t, "chunk", e.Msg)
		}
	}))

	_, err = sched.Run(context.Background(), checkpoint.Config{ThreadID: "t7"}, map[string]any{"count": 0}, interrupt.Breakpoints{})
	require.NoError(t, err)

	require.True(t, sawValues)
	assert.Equal(t, []string{"plan", "message", "update", "commit", "values", "checkpoint"}, kinds)
}

// putWritesSpy wraps a Saver and records the order PutWrites/Put are called
// in, so the test can assert the crash-recovery ordering contract
// (checkpoint.Saver's doc comment) without reaching into scheduler
// internals.
type putWritesSpy struct {
	checkpoint.Saver
	mu    sync.Mutex
	calls []string
}

func (s *putWritesSpy) PutWrites(ctx context.Context, threadID, parentCheckpointID, taskID string, writes []checkpoint.PendingWrite) error {
	s.mu.Lock()
	s.calls = append(s.calls, "put_writes")
	s.mu.Unlock()
	return s.Saver.PutWrites(ctx, threadID, parentCheckpointID, taskID, writes)
}

func (s *putWritesSpy) Put(ctx context.Context, threadID string, cp checkpoint.Checkpoint, meta checkpoint.Metadata, parentCheckpointID string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, "put")
	s.mu.Unlock()
	return s.Saver.Put(ctx, threadID, cp, meta, parentCheckpointID)
}

// TestPutWritesRecordedBeforeCheckpoint asserts the scheduler stages every
// task's writes through Saver.PutWrites ahead of committing the step's
// checkpoint, so a crash between the two calls can be replayed (the
// crash-recovery contract checkpoint.Saver documents).
func TestPutWritesRecordedBeforeCheckpoint(t *testing.T) {
	g := pregel.NewStateGraph()
	g.AddChannel(pregel.ChannelSpec{Name: "count", Kind: channel.LastValue})
	g.AddNode(pregel.Node{
		ID:     "incr",
		Reads:  []string{"count"},
		Writes: []string{"count"},
		Exec: func(ctx context.Context, view pregel.View) (pregel.Update, error) {
			route := pregel.RouteTo(pregel.End)
			return pregel.Update{Writes: []pregel.Write{{Channel: "count", Value: 1}}, Route: &route}, nil
		},
	})
	g.SetEntry("incr")

	compiled, err := g.Compile()
	require.NoError(t, err)

	spy := &putWritesSpy{Saver: checkpoint.NewMemorySaver()}
	sched := pregel.NewScheduler(compiled, spy, interrupt.NewController(), pregel.WithWorkers(0))

	_, err = sched.Run(context.Background(), checkpoint.Config{ThreadID: "t8"}, map[string]any{"count": 0}, interrupt.Breakpoints{})
	require.NoError(t, err)

	require.Contains(t, spy.calls, "put_writes")
	putWritesIdx := -1
	putIdx := -1
	for i, c := range spy.calls {
		if c == "put_writes" && putWritesIdx == -1 {
			putWritesIdx = i
		}
		if c == "put" && i > 0 {
			putIdx = i
			break
		}
	}
	require.NotEqual(t, -1, putWritesIdx)
	require.NotEqual(t, -1, putIdx)
	assert.Less(t, putWritesIdx, putIdx, "PutWrites must be called before the step's Put")
}
