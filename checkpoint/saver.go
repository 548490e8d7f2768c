package checkpoint

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested thread or checkpoint id does not
// exist in the saver.
var ErrNotFound = errors.New("checkpoint: not found")

// Filter narrows List results. Zero value matches everything for the given
// thread.
type Filter struct {
	Source Source
	Before string // only checkpoints strictly before this checkpoint id
	Limit  int
}

// Saver is the persistence contract consumed by the scheduler. All methods
// may suspend (they take a context and are expected to do real I/O).
//
// Put must be total: either the checkpoint becomes durable and queryable, or
// the call fails — callers never observe a half-written checkpoint.
//
// PutWrites is append-only per (parentCheckpointID, taskID) and must be
// idempotent when retried with the same taskID: a saver that sees the same
// (parent, task, channel) triple twice keeps only one copy.
//
// List returns tuples in reverse-chronological order (most recent first).
//
// Saver implementations fail with a wrapped error; the scheduler treats any
// error here as fatal for the current run but not for the process.
type Saver interface {
	Put(ctx context.Context, threadID string, cp Checkpoint, meta Metadata, parentCheckpointID string) (string, error)
	PutWrites(ctx context.Context, threadID, parentCheckpointID, taskID string, writes []PendingWrite) error
	GetTuple(ctx context.Context, threadID, checkpointID string) (Tuple, error)
	List(ctx context.Context, threadID string, filter Filter) ([]Tuple, error)
}
