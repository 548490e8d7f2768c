package channel

import "fmt"

// Version is a totally ordered token attached to a channel, advanced on
// every applied write. Three shapes are permitted: monotonic integer,
// monotonic float, and opaque string compared lexicographically.
// Comparing versions of different shapes is undefined and Compare panics
// rather than silently coercing.
type Version interface {
	// Compare returns <0, 0, or >0 per Go ordering convention.
	// Panics if other is not the same concrete shape.
	Compare(other Version) int
	// Next returns the successor version for this shape.
	Next() Version
	fmt.Stringer
}

// IntVersion is a monotonic integer version, the default shape used by
// Declare when no explicit version is supplied.
type IntVersion int64

func (v IntVersion) Compare(other Version) int {
	o, ok := other.(IntVersion)
	if !ok {
		panic(fmt.Sprintf("channel: cannot compare IntVersion with %T", other))
	}
	switch {
	case v < o:
		return -1
	case v > o:
		return 1
	default:
		return 0
	}
}

func (v IntVersion) Next() Version { return v + 1 }
func (v IntVersion) String() string { return fmt.Sprintf("%d", int64(v)) }

// FloatVersion is a monotonic floating-point version.
type FloatVersion float64

func (v FloatVersion) Compare(other Version) int {
	o, ok := other.(FloatVersion)
	if !ok {
		panic(fmt.Sprintf("channel: cannot compare FloatVersion with %T", other))
	}
	switch {
	case v < o:
		return -1
	case v > o:
		return 1
	default:
		return 0
	}
}

func (v FloatVersion) Next() Version { return v + 1 }
func (v FloatVersion) String() string { return fmt.Sprintf("%g", float64(v)) }

// StringVersion is an opaque, lexicographically ordered version token.
// Next is not derivable for an opaque string: Commit leaves a StringVersion
// channel's version unchanged after folding writes, and callers must supply
// the successor token externally (e.g. a freshly minted ULID) via
// Registry.ForceVersion.
type StringVersion string

func (v StringVersion) Compare(other Version) int {
	o, ok := other.(StringVersion)
	if !ok {
		panic(fmt.Sprintf("channel: cannot compare StringVersion with %T", other))
	}
	switch {
	case v < o:
		return -1
	case v > o:
		return 1
	default:
		return 0
	}
}

func (v StringVersion) Next() Version {
	panic("channel: StringVersion has no automatic successor; use Registry.ForceVersion")
}
func (v StringVersion) String() string { return string(v) }

// ZeroVersion returns the initial version for a channel in the default
// shape (IntVersion(0)), used when a channel is declared without an
// explicit starting version.
func ZeroVersion() Version { return IntVersion(0) }
