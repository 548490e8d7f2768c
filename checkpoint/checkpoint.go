// Package checkpoint defines the immutable snapshot format and the pluggable
// Saver contract used by the scheduler for durable, resumable execution.
package checkpoint

import (
	"time"

	"github.com/flowstate-dev/graphkit/channel"
)

// FormatVersion is the current on-disk checkpoint format, embedded in every
// Checkpoint as V so savers and readers can detect format drift.
const FormatVersion = 1

// Source identifies what produced a checkpoint.
type Source string

const (
	SourceInput  Source = "input"
	SourceLoop   Source = "loop"
	SourceUpdate Source = "update"
	SourceFork   Source = "fork"
)

// Metadata carries the provenance of a checkpoint: where it came from in the
// run, and where it sits in the checkpoint tree.
type Metadata struct {
	Source   Source         `json:"source"`
	Step     int            `json:"step"`
	ParentID string         `json:"parent_id,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Checkpoint is an immutable snapshot of channel state plus the bookkeeping
// needed to resume a run: per-channel versions, per-node versions-seen, and
// which channels changed in the step that produced this checkpoint.
//
// Checkpoints form a tree rooted at the input checkpoint of a thread; forks
// (via UpdateState) create sibling branches under the same thread.
type Checkpoint struct {
	V               int                                  `json:"v"`
	ID              string                                `json:"id"`
	Ts              time.Time                             `json:"ts"`
	ThreadID        string                                `json:"thread_id"`
	ChannelValues   map[string]any                        `json:"channel_values"`
	ChannelVersions map[string]channel.Version             `json:"channel_versions"`
	VersionsSeen    map[string]map[string]channel.Version `json:"versions_seen"`
	UpdatedChannels []string                              `json:"updated_channels,omitempty"`
	Metadata        Metadata                              `json:"metadata"`
}

// Config addresses a point in a thread's checkpoint lineage. It is the
// run_config described in the external interface: ThreadID is required for
// persistence, CheckpointID optionally pins a specific snapshot ("latest"
// when empty), and CheckpointNS namespaces a subgraph's checkpoints under
// their parent's thread.
type Config struct {
	ThreadID        string
	CheckpointID    string
	CheckpointNS    string
	RecursionLimit  int
	InterruptBefore []string
	InterruptAfter  []string
	Configurable    map[string]any
}

// DefaultRecursionLimit is used when Config.RecursionLimit is zero.
const DefaultRecursionLimit = 25

// RecursionLimitOrDefault returns c.RecursionLimit, or DefaultRecursionLimit
// if unset.
func (c Config) RecursionLimitOrDefault() int {
	if c.RecursionLimit <= 0 {
		return DefaultRecursionLimit
	}
	return c.RecursionLimit
}

// Namespaced returns the thread id a subgraph should checkpoint under:
// "<outer>/<name>", so inner checkpoints never collide with the outer run.
func Namespaced(outerThreadID, name string) string {
	return outerThreadID + "/" + name
}

// PendingWrite is an uncommitted datum produced by a task, buffered by the
// saver ahead of the checkpoint that will fold it in — recorded via
// PutWrites before Put so a crash between the two calls can be replayed
// deterministically.
type PendingWrite struct {
	TaskID  string `json:"task_id"`
	Channel string `json:"channel"`
	Value   any    `json:"value"`
}

// Tuple bundles a checkpoint with its addressing config, metadata, and (if
// any) its parent's config — the unit returned by GetTuple/List.
type Tuple struct {
	Config       Config
	Checkpoint   Checkpoint
	Metadata     Metadata
	ParentConfig *Config
}
