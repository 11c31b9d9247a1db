package store

import (
	"context"
	"fmt"
)

// Store persists run checkpoints. Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound (matched with errors.Is) if a checkpoint doesn't exist
//   - Wrap underlying errors with context using fmt.Errorf("failed to ...: %w", err)
type Store interface {
	// SaveCheckpoint saves the checkpoint of a run, replacing any previous one.
	SaveCheckpoint(ctx context.Context, runID string, checkpoint *Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint of a run.
	LoadCheckpoint(ctx context.Context, runID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for all stored checkpoints.
	ListCheckpoints(ctx context.Context) ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint of a run and its artifacts.
	DeleteCheckpoint(ctx context.Context, runID string) error
}

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint error.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "checkpoint not found: " + e.RunID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// NewStore opens the checkpoint backend named by kind: "fs" stores one directory per
// run under path, "sqlite" stores all runs in the database file at path.
func NewStore(ctx context.Context, kind, path string) (Store, error) {
	switch kind {
	case "", "fs":
		return NewFSStore(path)
	case "sqlite":
		s := NewSQLiteStore(path)
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// CloseIfSupported closes stores that hold resources.
func CloseIfSupported(s Store) error {
	closer, ok := s.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
