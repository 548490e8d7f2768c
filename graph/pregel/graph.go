package pregel

import (
	"fmt"
	"sort"

	"github.com/flowstate-dev/graphkit/channel"
)

// ChannelSpec declares one channel a StateGraph will register, mirroring
// channel.NewChannel's constructor arguments.
type ChannelSpec struct {
	Name    string
	Kind    channel.Kind
	Reducer channel.Reducer // required for channel.BinaryOp, optional for channel.Ephemeral, ignored otherwise
}

// StateGraph is the builder for a compiled, runnable graph: channels, nodes,
// and edges declared incrementally, then validated and frozen by Compile.
// Grounded on the teacher's Engine[S] builder surface (Add/Connect/StartAt
// in graph/engine.go), generalized from a single typed state to the
// channel-registry model.
type StateGraph struct {
	channels []ChannelSpec
	nodes    map[string]Node
	edges    []Edge
	entry    string
}

// NewStateGraph returns an empty builder.
func NewStateGraph() *StateGraph {
	return &StateGraph{nodes: make(map[string]Node)}
}

// AddChannel declares a channel the graph's nodes can read and write.
func (g *StateGraph) AddChannel(spec ChannelSpec) *StateGraph {
	g.channels = append(g.channels, spec)
	return g
}

// AddNode registers n. Re-adding the same node id overwrites the prior
// definition, matching the teacher's Add semantics.
func (g *StateGraph) AddNode(n Node) *StateGraph {
	g.nodes[n.ID] = n
	return g
}

// AddEdge wires a static edge from one node to another.
func (g *StateGraph) AddEdge(from, to string) *StateGraph {
	g.edges = append(g.edges, Edge{From: from, To: to})
	return g
}

// AddConditionalEdge wires a router-driven edge: at runtime, router decides
// the next hop(s) from the committed state; branchTargets documents every
// node the router might pick, for Compile-time reachability checks.
func (g *StateGraph) AddConditionalEdge(from string, router RouterFunc, branchTargets ...string) *StateGraph {
	g.edges = append(g.edges, Edge{From: from, Router: router, BranchTargets: branchTargets})
	return g
}

// SetEntry designates the node that receives control from Start.
func (g *StateGraph) SetEntry(nodeID string) *StateGraph {
	g.entry = nodeID
	return g
}

// CompiledGraph is an immutable, validated StateGraph ready for execution by
// a Scheduler.
type CompiledGraph struct {
	Channels []ChannelSpec
	Nodes    map[string]Node
	Edges    map[string][]Edge // keyed by From
	Entry    string
}

// Compile validates the graph's structure and freezes it. Checks performed,
// per the component design's structural-check list:
//   - entry point set and names a declared node
//   - every edge's From/To (and BranchTargets) names a declared node or End
//   - every node's Reads/Writes name declared channels
//   - no node is unreachable from Entry
//   - no BinaryOp channel is missing a reducer
func (g *StateGraph) Compile() (*CompiledGraph, error) {
	if g.entry == "" {
		return nil, &ValidationError{Message: "no entry point set"}
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, &ValidationError{Message: "entry point is not a declared node", Node: g.entry}
	}

	channelNames := make(map[string]ChannelSpec, len(g.channels))
	for _, c := range g.channels {
		if c.Kind == channel.BinaryOp && c.Reducer == nil {
			return nil, &ValidationError{Message: "binary-op channel declared without a reducer", Channel: c.Name}
		}
		channelNames[c.Name] = c
	}

	for _, n := range g.nodes {
		for _, ch := range n.Reads {
			if _, ok := channelNames[ch]; !ok {
				return nil, &ValidationError{Message: "node reads an undeclared channel", Node: n.ID, Channel: ch}
			}
		}
		for _, ch := range n.Writes {
			spec, ok := channelNames[ch]
			if !ok {
				return nil, &ValidationError{Message: "node writes an undeclared channel", Node: n.ID, Channel: ch}
			}
			if spec.Kind == channel.Context {
				return nil, &ValidationError{Message: "node writes to a read-only context channel", Node: n.ID, Channel: ch}
			}
		}
	}

	byFrom := make(map[string][]Edge)
	for _, e := range g.edges {
		if e.From != Start {
			if _, ok := g.nodes[e.From]; !ok {
				return nil, &ValidationError{Message: "edge originates from an undeclared node", Edge: e.From}
			}
		}
		targets := e.BranchTargets
		if e.To != "" {
			targets = append(targets, e.To)
		}
		for _, to := range targets {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return nil, &ValidationError{Message: "edge targets an undeclared node", Edge: to}
			}
		}
		byFrom[e.From] = append(byFrom[e.From], e)
	}

	if len(byFrom[Start]) == 0 {
		byFrom[Start] = []Edge{{From: Start, To: g.entry}}
	}

	if err := checkReachability(g.nodes, byFrom); err != nil {
		return nil, err
	}

	return &CompiledGraph{
		Channels: append([]ChannelSpec(nil), g.channels...),
		Nodes:    g.nodes,
		Edges:    byFrom,
		Entry:    g.entry,
	}, nil
}

// checkReachability walks the edge graph from Start and fails if any
// declared node is never reached — an unreachable node is almost always a
// wiring mistake (a typo'd edge target, a forgotten AddEdge call).
func checkReachability(nodes map[string]Node, byFrom map[string][]Edge) error {
	visited := make(map[string]bool)
	queue := []string{Start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, e := range byFrom[cur] {
			targets := append([]string(nil), e.BranchTargets...)
			if e.To != "" {
				targets = append(targets, e.To)
			}
			for _, to := range targets {
				if to != End && !visited[to] {
					queue = append(queue, to)
				}
			}
		}
	}

	var unreachable []string
	for id := range nodes {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		return &ValidationError{Message: fmt.Sprintf("unreachable nodes: %v", unreachable), Node: unreachable[0]}
	}
	return nil
}
