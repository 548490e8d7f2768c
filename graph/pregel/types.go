// Package pregel implements the superstep scheduler: a Pregel-inspired
// plan/execute/barrier/commit loop over a channel.Registry, with
// checkpoint-based time travel and Send-driven dynamic fan-out.
//
// It generalizes the teacher's single-state Engine[S] (graph/engine.go) to
// the multi-channel model: instead of one Reducer[S] folding deltas into an
// opaque state, each node declares the channels it reads and writes, and the
// scheduler triggers a node only when one of its subscribed channels has
// advanced past the version the node last saw it at.
package pregel

import (
	"context"

	"github.com/flowstate-dev/graphkit/channel"
	"github.com/flowstate-dev/graphkit/interrupt"
)

// View is the read-only, typed-get accessor a node's executor receives for
// the current superstep. It never exposes write access — all output flows
// through the Update a node returns.
type View struct {
	reg     *channel.Registry
	step    int
	overlay map[string]any
}

func newView(reg *channel.Registry, step int) View {
	return View{reg: reg, step: step}
}

// newSendView returns a View for a task seeded by a Send: overlay values
// shadow the registry's committed values for the lifetime of this task's
// single execution, without ever being written back — the "per-task state"
// half of the map-reduce fan-out primitive.
func newSendView(reg *channel.Registry, step int, overlay map[string]any) View {
	return View{reg: reg, step: step, overlay: overlay}
}

// Get returns the current value of channel name and whether it has ever
// been written. A Send-seeded task's overlay takes precedence over the
// registry's committed value.
func (v View) Get(name string) (any, bool) {
	if v.overlay != nil {
		if val, ok := v.overlay[name]; ok {
			return val, true
		}
	}
	return v.reg.Read(name)
}

// Step returns the superstep number this view was constructed for.
func (v View) Step() int { return v.step }

// Write is a single (channel, value) pair a node wants to stage for the
// barrier. A node may write the same channel multiple times in one Update;
// the channel's reducer decides how they combine with each other and with
// concurrent writers.
type Write struct {
	Channel string
	Value   any
}

// Update is everything a node's executor produces in one invocation: staged
// writes plus an optional routing decision and/or interrupt request.
type Update struct {
	Writes []Write
	// Route overrides the graph's static/conditional edges for this node's
	// outgoing transitions when non-nil (used by nodes that compute Sends
	// dynamically rather than through a declared RouterFunc).
	Route *RouteResult
	// Interrupt, when non-nil, asks the scheduler to pause the run and
	// surface Interrupt to the caller — the data-shaped alternative to a
	// panic/exception-based pause. The scheduler pauses before staging any
	// of this superstep's writes, so none of them (from this task or any
	// other task in the superstep) is committed.
	Interrupt *interrupt.Interrupt
}

// NodeFunc is the executor a node runs each time it is triggered. ctx carries
// the scheduler's per-task metadata (run id, superstep, task id, attempt,
// deterministic RNG) accessible via the RunID/Step/TaskID/Attempt/RNG helpers in
// context.go, the same context-key pattern as the teacher's engine.go.
type NodeFunc func(ctx context.Context, view View) (Update, error)

// Node is one vertex in a StateGraph: an executor plus the channels it
// subscribes to (trigger set) and is allowed to write.
type Node struct {
	ID       string
	Reads    []string
	Writes   []string
	Exec     NodeFunc
	Policy   *RetryPolicy
}

// RouteKind tags which shape a RouteResult holds, per the spec's tagged
// union over static/parallel/dynamic-fanout routing.
type RouteKind int

const (
	// RouteSingleKind routes to exactly one named node.
	RouteSingleKind RouteKind = iota
	// RouteParallelKind routes to every node in Targets, each triggered
	// once with the same outgoing writes.
	RouteParallelKind
	// RouteSendListKind routes via one or more Send values, each carrying
	// its own per-task state — the dynamic fan-out case, where even two
	// Sends to the same node become distinct tasks.
	RouteSendListKind
)

// RouteResult is the outcome of a conditional edge's RouterFunc, or a
// node's own Update.Route: exactly one of Single/Targets/Sends is
// meaningful, selected by Kind.
type RouteResult struct {
	Kind    RouteKind
	Single  string
	Targets []string
	Sends   []Send
}

// RouteTo builds a RouteResult that sends to exactly one node.
func RouteTo(node string) RouteResult {
	return RouteResult{Kind: RouteSingleKind, Single: node}
}

// RouteParallel builds a RouteResult that fans out statically to every node
// in targets.
func RouteParallel(targets ...string) RouteResult {
	return RouteResult{Kind: RouteParallelKind, Targets: targets}
}

// RouteSends builds a RouteResult carrying dynamic Send fan-out tasks.
func RouteSends(sends ...Send) RouteResult {
	return RouteResult{Kind: RouteSendListKind, Sends: sends}
}

// Send is a dynamically created task: Target names the node to run, State
// seeds per-task channel overrides visible only to that task's execution
// (the map-reduce fan-out primitive — N sends to the same node become N
// independent tasks, each with its own State, rather than deduping like
// static edges do).
type Send struct {
	Target string
	State  map[string]any
}

// RouterFunc computes a conditional edge's next hop(s) from the state
// visible after a superstep's writes are committed.
type RouterFunc func(view View) (RouteResult, error)

// Edge connects From to either a fixed To (static edge) or, when Router is
// set, to whatever RouteResult the router computes at runtime (conditional
// edge). Exactly one of To/Router should be set.
type Edge struct {
	From   string
	To     string
	Router RouterFunc
	// BranchTargets documents every node a conditional edge's Router might
	// route to, so Compile can validate reachability even though the actual
	// target is only known at runtime.
	BranchTargets []string
}

// Command lets a node's executor request both a state update and an
// explicit routing decision from a single return value, mirroring
// LangGraph's Command primitive — functionally equivalent to returning
// Update{Writes: ..., Route: &route}, offered as a named convenience.
type Command struct {
	Writes []Write
	Goto   RouteResult
}

// ToUpdate converts a Command into the Update shape the scheduler consumes.
func (c Command) ToUpdate() Update {
	route := c.Goto
	return Update{Writes: c.Writes, Route: &route}
}

const (
	// Start is the synthetic node id representing the graph's entry point,
	// used as the From of the initial edge(s) wired by StateGraph.SetEntry.
	Start = "__start__"
	// End is the synthetic node id a node routes to in order to terminate
	// the run.
	End = "__end__"
)
