package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FSStore implements Store on the filesystem. Each run gets a directory
// <baseDir>/runs/<runID>/ holding checkpoint.json and trace.jsonl.
//
// Writes go through a temp file and a rename, so concurrent readers never see a
// partial checkpoint and no locking is needed.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string { return fs.baseDir }

func (fs *FSStore) runDir(runID string) string {
	return runDir(fs.baseDir, runID)
}

func (fs *FSStore) checkpointPath(runID string) string {
	return filepath.Join(fs.runDir(runID), "checkpoint.json")
}

func runDir(baseDir, runID string) string {
	return filepath.Join(baseDir, "runs", runID)
}

// SaveCheckpoint atomically saves a checkpoint for the given run.
func (fs *FSStore) SaveCheckpoint(ctx context.Context, runID string, checkpoint *Checkpoint) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := fs.runDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	finalPath := fs.checkpointPath(runID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	slog.Debug("Checkpoint saved", "runID", runID, "path", finalPath)
	return nil
}

// LoadCheckpoint retrieves the checkpoint for the given run.
func (fs *FSStore) LoadCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := fs.checkpointPath(runID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}

	slog.Debug("Checkpoint loaded", "runID", runID, "path", path)
	return &checkpoint, nil
}

// ListCheckpoints returns metadata for all available checkpoints. Unreadable
// checkpoints are skipped with a warning.
func (fs *FSStore) ListCheckpoints(ctx context.Context) ([]CheckpointInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return []CheckpointInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		if _, err := os.Stat(fs.checkpointPath(runID)); os.IsNotExist(err) {
			continue
		}

		checkpoint, err := fs.LoadCheckpoint(ctx, runID)
		if err != nil {
			slog.Warn("Failed to load checkpoint for listing", "runID", runID, "error", err)
			continue
		}
		info := checkpoint.ToInfo()
		info.Size = dirSize(fs.runDir(runID))
		infos = append(infos, info)
	}

	slog.Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// DeleteCheckpoint removes the run directory with the checkpoint and trace.
func (fs *FSStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := fs.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "runID", runID, "path", dir)
	return nil
}

func dirSize(dir string) int64 {
	var size int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !info.IsDir() {
			size += info.Size()
		}
	}
	return size
}
