package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cwbudde/cmaes/internal/store"
)

// useDataDir points the persistent store flags at a temporary directory.
func useDataDir(t *testing.T, kind string) string {
	t.Helper()
	dir := t.TempDir()
	origDir, origKind := dataDir, storeKind
	dataDir, storeKind = dir, kind
	t.Cleanup(func() { dataDir, storeKind = origDir, origKind })
	return dir
}

func saveTestCheckpoint(t *testing.T, s store.Store, age time.Duration) string {
	t.Helper()
	runID := store.NewRunID()
	cfg := store.RunConfig{Function: "sphere", Dim: 3, Flavor: "full", Lambda: 7, Sigma0: 1, Seed: 1}
	cp := store.NewCheckpoint(runID, []float64{1, 2, 3}, 0.5, 0.1, 10, 70, "maxiter", cfg)
	cp.Timestamp = time.Now().Add(-age)
	if err := s.SaveCheckpoint(context.Background(), runID, cp); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}
	return runID
}

func TestSelectCheckpointsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)}, // 10 days old
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},  // 5 days old
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},  // 1 day old
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)}, // 30 days old
	}

	toDelete := selectCheckpointsForDeletion(infos, 0, 7)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 checkpoints to delete, got %d", len(toDelete))
	}
	ids := map[string]bool{}
	for _, info := range toDelete {
		ids[info.RunID] = true
	}
	if !ids["run1"] || !ids["run4"] {
		t.Error("Expected run1 and run4 to be selected for deletion")
	}
}

func TestSelectCheckpointsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}

	toDelete := selectCheckpointsForDeletion(infos, 2, 0)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 checkpoints to delete, got %d", len(toDelete))
	}
	// oldest first
	if toDelete[0].RunID != "run4" || toDelete[1].RunID != "run1" {
		t.Errorf("Expected run4 and run1 to be deleted, got %s and %s", toDelete[0].RunID, toDelete[1].RunID)
	}
}

func TestSelectCheckpointsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
		{RunID: "run5", Timestamp: now.AddDate(0, 0, -2)},
	}

	// Age selects run1 and run4; keeping 3 selects the same two, without duplicates.
	toDelete := selectCheckpointsForDeletion(infos, 3, 7)

	if len(toDelete) != 2 {
		t.Errorf("Expected 2 checkpoints to delete, got %d", len(toDelete))
	}
}

func TestSelectCheckpointsForDeletion_NothingToDo(t *testing.T) {
	infos := []store.CheckpointInfo{{RunID: "run1", Timestamp: time.Now()}}
	if got := selectCheckpointsForDeletion(infos, 5, 7); len(got) != 0 {
		t.Errorf("Expected nothing to delete, got %d", len(got))
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(abc) = %s", got)
	}
	if got := shortID("0123456789abcdef"); got != "0123456789ab..." {
		t.Errorf("Unexpected truncation: %s", got)
	}
}

func TestCheckpointsListCommand_NoCheckpoints(t *testing.T) {
	useDataDir(t, "fs")

	if err := runListCheckpoints(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestCheckpointsListCommand_WithCheckpoints(t *testing.T) {
	for _, kind := range []string{"fs", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			dir := useDataDir(t, kind)
			s, err := openStore(context.Background(), kind, dir)
			if err != nil {
				t.Fatalf("Failed to create store: %v", err)
			}
			saveTestCheckpoint(t, s, time.Hour)
			store.CloseIfSupported(s)

			if err := runListCheckpoints(nil, nil); err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestCheckpointsCleanCommand_NoFlags(t *testing.T) {
	useDataDir(t, "fs")
	keepLast = 0
	olderThanDays = 0

	if err := runCleanCheckpoints(nil, nil); err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestCheckpointsCleanCommand_WithForce(t *testing.T) {
	dir := useDataDir(t, "fs")
	s, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	oldID := saveTestCheckpoint(t, s, 30*24*time.Hour)
	newID := saveTestCheckpoint(t, s, time.Hour)

	tw, err := store.NewTraceWriter(dir, oldID, false)
	if err != nil {
		t.Fatalf("Failed to create trace: %v", err)
	}
	if err := tw.Write(store.TraceEntry{Iteration: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Failed to write trace: %v", err)
	}
	tw.Close()

	keepLast = 0
	olderThanDays = 7
	forceClean = true
	t.Cleanup(func() { olderThanDays, forceClean = 0, false })

	if err := runCleanCheckpoints(nil, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	ctx := context.Background()
	if _, err := s.LoadCheckpoint(ctx, oldID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected old checkpoint to be deleted, got %v", err)
	}
	if _, err := store.NewTraceReader(dir, oldID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected old trace to be deleted, got %v", err)
	}
	if _, err := s.LoadCheckpoint(ctx, newID); err != nil {
		t.Errorf("Expected recent checkpoint to survive, got %v", err)
	}
}
