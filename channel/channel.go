// Package channel implements the typed, versioned state slots that graph
// nodes read from and write to. A Channel has exactly one reducer, fixed at
// declaration time by its Kind.
package channel

import "fmt"

// Kind tags the merge semantics of a channel.
type Kind int

const (
	// LastValue overwrites the current value with the most recent write.
	LastValue Kind = iota
	// Topic appends every write to a running list.
	Topic
	// BinaryOp folds writes through a user-supplied reducer function.
	BinaryOp
	// Ephemeral is cleared at the start of every superstep before writes land.
	Ephemeral
	// Context holds a read-only managed value; writes are rejected.
	Context
)

func (k Kind) String() string {
	switch k {
	case LastValue:
		return "last_value"
	case Topic:
		return "topic"
	case BinaryOp:
		return "binary_op"
	case Ephemeral:
		return "ephemeral"
	case Context:
		return "context"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reducer merges the channel's current value with an incoming write.
// Reducers must be pure: same inputs always produce the same output.
type Reducer func(current, incoming any) (any, error)

// Channel is a named, versioned state slot.
//
// A channel with no value (Present == false) is distinct from a channel
// holding an explicit nil/null value.
type Channel struct {
	Name    string
	Kind    Kind
	Reducer Reducer
	Value   any
	Present bool
	Version Version
}

// Clone returns a shallow copy of the channel, safe to hand to a reader
// without exposing the registry's internal storage.
func (c Channel) Clone() Channel {
	return c
}

// NewChannel constructs a channel with the zero version for its kind and the
// canonical reducer for kind (LastValue/Topic ignore the supplied reducer;
// Ephemeral uses the supplied reducer if non-nil and ReplaceReducer
// otherwise; BinaryOp requires one and panics if nil; Context rejects writes
// and ignores the reducer entirely).
func NewChannel(name string, kind Kind, reducer Reducer, version Version) Channel {
	switch kind {
	case LastValue:
		reducer = ReplaceReducer
	case Topic:
		reducer = AppendReducer
	case Ephemeral:
		if reducer == nil {
			reducer = ReplaceReducer
		}
	case BinaryOp:
		if reducer == nil {
			panic("channel: BinaryOp channel " + name + " declared without a reducer")
		}
	case Context:
		reducer = rejectReducer
	}
	return Channel{
		Name:    name,
		Kind:    kind,
		Reducer: reducer,
		Version: version,
	}
}

func rejectReducer(_, _ any) (any, error) {
	return nil, fmt.Errorf("channel: write rejected: Context channels are read-only")
}
