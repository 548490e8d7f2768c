package channel

import (
	"fmt"
	"sort"
	"sync"
)

// pendingWrite is a staged, uncommitted datum produced by a task.
type pendingWrite struct {
	taskID string
	value  any
}

// Registry holds the declared channels for one compiled graph instance and
// buffers writes for the superstep currently in flight.
//
// Mutation only ever happens inside Commit: Stage merely buffers, Read never
// mutates. Commit is atomic across all channels in a superstep — callers
// observe either the pre-commit or the fully post-commit registry, never a
// partial merge.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	pending  map[string][]pendingWrite
}

// NewRegistry returns an empty registry ready for Declare calls.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		pending:  make(map[string][]pendingWrite),
	}
}

// Declare registers a channel at compile time. Declaring the same name twice
// is an error — the channel model has exactly one reducer per name, fixed
// for the lifetime of the graph.
func (r *Registry) Declare(name string, kind Kind, reducer Reducer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("channel: %q already declared", name)
	}
	ch := NewChannel(name, kind, reducer, ZeroVersion())
	r.channels[name] = &ch
	return nil
}

// DeclareWithVersion registers a channel starting at an explicit version,
// for StringVersion-shaped channels whose zero token isn't the default
// IntVersion(0) — e.g. a channel versioned by externally minted ULIDs.
func (r *Registry) DeclareWithVersion(name string, kind Kind, reducer Reducer, initial Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("channel: %q already declared", name)
	}
	ch := NewChannel(name, kind, reducer, initial)
	r.channels[name] = &ch
	return nil
}

// ForceVersion overwrites name's version directly, bypassing Next(). This is
// the mechanism StringVersion channels use to record a new opaque token
// after a write Commit has landed, since Commit cannot derive a successor
// for an opaque shape on its own.
func (r *Registry) ForceVersion(name string, v Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		return fmt.Errorf("channel: %q not declared", name)
	}
	ch.Version = v
	return nil
}

// Names returns the declared channel names, sorted for deterministic
// iteration by callers (validators, debug event emission).
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name was declared.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[name]
	return ok
}

// Read returns the committed value for name. present is false both when the
// channel has never been written and when declared but name is unknown —
// callers that need to distinguish "undeclared" from "no value yet" should
// check Has first.
func (r *Registry) Read(name string) (value any, present bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, false
	}
	return ch.Value, ch.Present
}

// Version returns the current version of a declared channel.
func (r *Registry) Version(name string) (Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("channel: %q not declared", name)
	}
	return ch.Version, nil
}

// Stage records a pending write produced by taskID for channel name. Writes
// are buffered until the next Commit; they never mutate committed state.
func (r *Registry) Stage(taskID, name string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[name]; !ok {
		return fmt.Errorf("channel: cannot stage write to undeclared channel %q", name)
	}
	r.pending[name] = append(r.pending[name], pendingWrite{taskID: taskID, value: value})
	return nil
}

// Commit folds every channel's staged writes through its reducer in
// deterministic task-id order, advances versions, and returns the channels
// that changed this superstep. Ephemeral channels are cleared unconditionally
// before folding, per the channel model's "cleared each superstep" contract;
// every other channel with no staged writes keeps its value and version.
//
// Commit is all-or-nothing: a reducer error aborts the whole commit, leaving
// every channel (including ones that would have changed) at its pre-commit
// value and version, and clears the pending buffer so the failed writes are
// not silently retried on the next superstep.
func (r *Registry) Commit(step int) (updatedChannels []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		r.pending = make(map[string][]pendingWrite)
	}()

	type change struct {
		name    string
		value   any
		present bool
		version Version
	}
	var changes []change

	for name, ch := range r.channels {
		writes, hasWrites := r.pending[name]
		clearedByEphemeral := ch.Kind == Ephemeral

		if !hasWrites && !clearedByEphemeral {
			continue
		}
		if !hasWrites && clearedByEphemeral {
			if !ch.Present {
				continue // already empty, nothing to record
			}
			changes = append(changes, change{name: name, value: nil, present: false, version: ch.Version})
			continue
		}

		sort.SliceStable(writes, func(i, j int) bool { return writes[i].taskID < writes[j].taskID })

		current := ch.Value
		if clearedByEphemeral {
			current = nil
		}
		present := ch.Present && !clearedByEphemeral
		for _, w := range writes {
			var base any
			if present {
				base = current
			}
			merged, rerr := ch.Reducer(base, w.value)
			if rerr != nil {
				return nil, fmt.Errorf("channel: commit step %d: reducer for %q: %w", step, name, rerr)
			}
			current = merged
			present = true
		}

		// StringVersion tokens are opaque and externally supplied (e.g. a
		// ULID minted by the writer), so Commit cannot derive a successor
		// itself; it leaves the version unchanged and the caller is
		// expected to assign the new token via ForceVersion before or
		// after this Commit. IntVersion/FloatVersion advance automatically.
		nextVersion := ch.Version
		if _, opaque := ch.Version.(StringVersion); !opaque {
			nextVersion = ch.Version.Next()
		}
		changes = append(changes, change{name: name, value: current, present: true, version: nextVersion})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].name < changes[j].name })

	updatedChannels = make([]string, 0, len(changes))
	for _, c := range changes {
		ch := r.channels[c.name]
		ch.Value = c.value
		ch.Present = c.present
		if c.version != nil {
			ch.Version = c.version
		}
		updatedChannels = append(updatedChannels, c.name)
	}
	return updatedChannels, nil
}

// Snapshot returns a point-in-time copy of every declared channel's value
// and version, suitable for embedding in a checkpoint.
func (r *Registry) Snapshot() (values map[string]any, versions map[string]Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	values = make(map[string]any, len(r.channels))
	versions = make(map[string]Version, len(r.channels))
	for name, ch := range r.channels {
		if ch.Present {
			values[name] = ch.Value
		}
		versions[name] = ch.Version
	}
	return values, versions
}

// Restore overwrites the registry's committed state from a prior snapshot,
// used when resuming from a checkpoint or forking via update_state. Channels
// not present in values are reset to absent.
func (r *Registry) Restore(values map[string]any, versions map[string]Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, ch := range r.channels {
		if v, ok := values[name]; ok {
			ch.Value = v
			ch.Present = true
		} else {
			ch.Value = nil
			ch.Present = false
		}
		if v, ok := versions[name]; ok {
			ch.Version = v
		}
	}
}
