package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// writesKey identifies the pending-writes bucket for one (parent, task) pair
// within a thread, per the checkpoint model's "keyed map, secondary map for
// pending writes" reference design.
type writesKey struct {
	threadID string
	parentID string
	taskID   string
}

// MemorySaver is the reference in-memory Saver: a keyed map of
// thread → ordered checkpoint list, plus a secondary map for pending writes.
// All mutations happen under a single mutex, matching the teacher's
// MemStore shape (graph/store/memory.go) generalized to the thread-keyed
// checkpoint model.
type MemorySaver struct {
	mu       sync.Mutex
	byThread map[string][]Tuple
	writes   map[writesKey][]PendingWrite
}

// NewMemorySaver returns an empty in-memory saver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{
		byThread: make(map[string][]Tuple),
		writes:   make(map[writesKey][]PendingWrite),
	}
}

// Put appends cp as the newest checkpoint for threadID and returns its id.
// Put is total: the checkpoint list append happens under the mutex with no
// partial-write window, so a caller that gets a nil error knows the
// checkpoint is durable and immediately visible to GetTuple/List.
func (m *MemorySaver) Put(_ context.Context, threadID string, cp Checkpoint, meta Metadata, parentCheckpointID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Ts.IsZero() {
		cp.Ts = time.Now().UTC()
	}
	cp.ThreadID = threadID
	cp.Metadata = meta

	var parent *Config
	if parentCheckpointID != "" {
		parent = &Config{ThreadID: threadID, CheckpointID: parentCheckpointID}
	}

	tuple := Tuple{
		Config:       Config{ThreadID: threadID, CheckpointID: cp.ID},
		Checkpoint:   cp,
		Metadata:     meta,
		ParentConfig: parent,
	}
	m.byThread[threadID] = append(m.byThread[threadID], tuple)
	return cp.ID, nil
}

// PutWrites appends writes to the (threadID, parentCheckpointID, taskID)
// bucket. Calling it twice with the same taskID and the same writes leaves
// the bucket indistinguishable from a single call — writes are deduplicated
// by (channel, taskID) within the bucket so retried tasks don't double-apply.
func (m *MemorySaver) PutWrites(_ context.Context, threadID, parentCheckpointID, taskID string, writes []PendingWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := writesKey{threadID: threadID, parentID: parentCheckpointID, taskID: taskID}
	existing := m.writes[key]
	seen := make(map[string]bool, len(existing))
	for _, w := range existing {
		seen[w.Channel] = true
	}
	for _, w := range writes {
		if seen[w.Channel] {
			continue
		}
		existing = append(existing, w)
		seen[w.Channel] = true
	}
	m.writes[key] = existing
	return nil
}

// PendingWritesFor returns the writes recorded for one (parent, task) bucket,
// used by the scheduler to replay writes that landed after a crash between
// PutWrites and Put.
func (m *MemorySaver) PendingWritesFor(threadID, parentCheckpointID, taskID string) []PendingWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PendingWrite(nil), m.writes[writesKey{threadID, parentCheckpointID, taskID}]...)
}

// GetTuple returns the checkpoint for checkpointID, or the latest checkpoint
// for threadID when checkpointID is empty.
func (m *MemorySaver) GetTuple(_ context.Context, threadID, checkpointID string) (Tuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tuples := m.byThread[threadID]
	if len(tuples) == 0 {
		return Tuple{}, ErrNotFound
	}
	if checkpointID == "" {
		return tuples[len(tuples)-1], nil
	}
	for i := len(tuples) - 1; i >= 0; i-- {
		if tuples[i].Checkpoint.ID == checkpointID {
			return tuples[i], nil
		}
	}
	return Tuple{}, ErrNotFound
}

// List returns tuples for threadID in reverse-chronological order, honoring
// Filter.Source, Filter.Before, and Filter.Limit.
func (m *MemorySaver) List(_ context.Context, threadID string, filter Filter) ([]Tuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tuples := append([]Tuple(nil), m.byThread[threadID]...)
	sort.SliceStable(tuples, func(i, j int) bool {
		return tuples[i].Checkpoint.Ts.After(tuples[j].Checkpoint.Ts)
	})

	beforeFound := filter.Before == ""
	out := make([]Tuple, 0, len(tuples))
	for _, t := range tuples {
		if !beforeFound {
			if t.Checkpoint.ID == filter.Before {
				beforeFound = true
			}
			continue
		}
		if filter.Source != "" && t.Metadata.Source != filter.Source {
			continue
		}
		out = append(out, t)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
