package pregel

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowstate-dev/graphkit/checkpoint"
	"github.com/flowstate-dev/graphkit/interrupt"
)

// graphArena holds compiled subgraphs keyed by a caller-assigned graphID
// rather than by parent back-pointers, so the same compiled subgraph can be
// reused across multiple outer graphs (or multiple Subgraph nodes in the
// same outer graph) without re-compiling it. The teacher has no subgraph
// concept to ground this on directly; the arena-by-id shape follows the
// registry-of-compiled-artifacts pattern used throughout the teacher's
// graph/model package (provider clients keyed by name, not by caller).
var graphArena sync.Map // graphID string -> *CompiledGraph

// RegisterGraph stores compiled under graphID for later lookup by Subgraph
// nodes built with SubgraphNode. Re-registering the same id overwrites the
// prior entry.
func RegisterGraph(graphID string, compiled *CompiledGraph) {
	graphArena.Store(graphID, compiled)
}

// LookupGraph returns the compiled graph registered under graphID.
func LookupGraph(graphID string) (*CompiledGraph, bool) {
	v, ok := graphArena.Load(graphID)
	if !ok {
		return nil, false
	}
	return v.(*CompiledGraph), true
}

// Projection maps an inner graph's final channel values back onto the outer
// graph's Writes — the glue a Subgraph node uses to surface its result.
type Projection func(innerValues map[string]any) []Write

// SubgraphNode wraps the compiled graph registered under graphID as a Node
// in an outer graph. The inner run gets its own namespaced thread id
// ("<outer>/<name>") so its checkpoints never collide with the outer run's,
// and its own Controller so an inner interrupt doesn't leak into the
// outer thread's pending-interrupt slot.
func SubgraphNode(id, graphID, name string, reads []string, project Projection, saver checkpoint.Saver) Node {
	return Node{
		ID:     id,
		Reads:  reads,
		Writes: nil, // filled in by the caller via AddNode after inspecting project's targets, if desired
		Exec: func(ctx context.Context, view View) (Update, error) {
			inner, ok := LookupGraph(graphID)
			if !ok {
				return Update{}, fmt.Errorf("pregel: subgraph %q: no graph registered for id %q", id, graphID)
			}

			input := make(map[string]any, len(reads))
			for _, ch := range reads {
				if v, present := view.Get(ch); present {
					input[ch] = v
				}
			}

			outerThread := ThreadID(ctx)
			innerThread := checkpoint.Namespaced(outerThread, name)
			innerCtrl := interrupt.NewController()
			sched := NewScheduler(inner, saver, innerCtrl)

			reg, err := sched.Run(ctx, checkpoint.Config{ThreadID: innerThread}, input, interrupt.Breakpoints{})
			if err != nil {
				return Update{}, fmt.Errorf("pregel: subgraph %q run: %w", id, err)
			}
			if _, pending := innerCtrl.Pending(innerThread); pending {
				in, _ := innerCtrl.Pending(innerThread)
				return Update{Interrupt: &in}, nil
			}

			values, _ := reg.Snapshot()
			return Update{Writes: project(values)}, nil
		},
	}
}
