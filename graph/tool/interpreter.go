package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Call is one tool invocation request extracted from a model turn: the
// name of the tool to run, its arguments, and an id the caller uses to
// correlate the Result back to the originating Call (mirroring how
// providers like OpenAI/Anthropic tag tool calls with an id in their
// message format).
type Call struct {
	ID    string
	Name  string
	Input map[string]any
}

// Result is what a Call produces: either Output or Err is meaningful, never
// both. Err is never allowed to abort the surrounding run — the
// interpreter always converts it into a Result so the caller can feed it
// back to the model as a tool-result message.
type Result struct {
	CallID string
	Output map[string]any
	Err    error
}

// Policy decides whether a named tool may be invoked, matching names
// against glob patterns with github.com/bmatcuk/doublestar/v4 — grounded in
// trpc-group-trpc-agent-go/codeexecutor/local/workspace_runtime.go's use of
// doublestar for path policy matching, reused here for tool-name globs
// (e.g. "fs.*" to deny an entire family of filesystem tools).
type Policy struct {
	Allow []string
	Deny  []string
}

// Allowed reports whether name passes p: a name matching any Deny pattern
// is rejected outright; otherwise it must match at least one Allow pattern,
// or Allow being empty means "allow everything not denied".
func (p Policy) Allowed(name string) bool {
	for _, pat := range p.Deny {
		if ok, _ := doublestar.Match(pat, name); ok {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, pat := range p.Allow {
		if ok, _ := doublestar.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// Registry looks up a Tool by name for the Interpreter.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, keyed by t.Name(). Re-registering the same name
// overwrites the prior tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Interpreter extracts tool calls from a model turn, validates them
// against a Registry and Policy, and dispatches them concurrently while
// preserving the caller's input order in the returned results — adapted
// from the teacher's graph/tool package (Tool interface, mock/http
// implementations) with dispatch and policy matching added for the action
// interpreter component.
type Interpreter struct {
	registry *Registry
	policy   Policy
}

// NewInterpreter builds an Interpreter dispatching through registry,
// subject to policy.
func NewInterpreter(registry *Registry, policy Policy) *Interpreter {
	return &Interpreter{registry: registry, policy: policy}
}

// Dispatch runs every call in calls concurrently and returns their Results
// in the same order as calls, regardless of completion order. A call whose
// tool is missing, denied by policy, or whose Call returns an error never
// aborts the batch: it becomes a Result with Err set, exactly like any
// other tool failure, so the caller can always feed every call a result.
func (in *Interpreter) Dispatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))

	for i, c := range calls {
		go func(idx int, call Call) {
			defer wg.Done()
			results[idx] = in.dispatchOne(ctx, call)
		}(i, c)
	}
	wg.Wait()
	return results
}

func (in *Interpreter) dispatchOne(ctx context.Context, call Call) Result {
	if !in.policy.Allowed(call.Name) {
		return Result{CallID: call.ID, Err: fmt.Errorf("tool: %q denied by policy", call.Name)}
	}
	t, ok := in.registry.lookup(call.Name)
	if !ok {
		return Result{CallID: call.ID, Err: fmt.Errorf("tool: %q not registered", call.Name)}
	}
	out, err := t.Call(ctx, call.Input)
	if err != nil {
		return Result{CallID: call.ID, Err: fmt.Errorf("tool: %q: %w", call.Name, err)}
	}
	return Result{CallID: call.ID, Output: out}
}

// ExtractCalls pulls tool calls out of a provider-agnostic message list.
// Each message is expected to carry its tool calls under the "tool_calls"
// key as a []map[string]any with "id", "name", and "arguments" entries;
// the graph/model adapters return model.ChatOut instead, so their output
// is not in this shape. Calls are returned in the exact order messages and
// their tool_calls appeared: the action interpreter's result ordering
// contract depends on input order surviving extraction unchanged, so this
// never reorders by ID or any other key.
func ExtractCalls(messages []map[string]any) []Call {
	var calls []Call
	for _, msg := range messages {
		raw, ok := msg["tool_calls"].([]map[string]any)
		if !ok {
			continue
		}
		for _, tc := range raw {
			id, _ := tc["id"].(string)
			name, _ := tc["name"].(string)
			args, _ := tc["arguments"].(map[string]any)
			calls = append(calls, Call{ID: id, Name: name, Input: args})
		}
	}
	return calls
}
