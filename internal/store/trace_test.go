package store

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	runID := NewRunID()

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	entries := []TraceEntry{
		{Iteration: 1, Evaluations: 10, BestFitness: 1.0, MedianFitness: 2.0, Sigma: 1, Condition: 1, Timestamp: time.Now()},
		{Iteration: 2, Evaluations: 20, BestFitness: 0.8, MedianFitness: 1.5, Sigma: 0.9, Condition: 2, Timestamp: time.Now()},
		{Iteration: 3, Evaluations: 30, BestFitness: 0.6, MedianFitness: 1.1, Sigma: 0.8, Condition: 3, Timestamp: time.Now(), Mean: []float64{1, 2, 3}},
	}
	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	tracePath := filepath.Join(tmpDir, "runs", runID, "trace.jsonl")
	if writer.Path() != tracePath {
		t.Errorf("Path mismatch: expected %s, got %s", tracePath, writer.Path())
	}

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	read, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(read) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(read))
	}
	for i, e := range read {
		if e.Iteration != entries[i].Iteration || e.BestFitness != entries[i].BestFitness {
			t.Errorf("Entry %d mismatch: expected %+v, got %+v", i, entries[i], e)
		}
	}
	if read[0].Mean != nil {
		t.Errorf("Expected nil mean when omitted, got %v", read[0].Mean)
	}
	if len(read[2].Mean) != 3 {
		t.Errorf("Expected 3 mean coordinates, got %d", len(read[2].Mean))
	}
}

func TestTraceWriter_Append(t *testing.T) {
	tmpDir := t.TempDir()
	runID := NewRunID()

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	if err := writer.Write(TraceEntry{Iteration: 1, BestFitness: 1.0, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	writer, err = NewTraceWriter(tmpDir, runID, true)
	if err != nil {
		t.Fatalf("Failed to create trace writer in append mode: %v", err)
	}
	if err := writer.Write(TraceEntry{Iteration: 10, BestFitness: 0.8, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[1].Iteration != 10 {
		t.Errorf("Second entry: expected iteration 10, got %d", entries[1].Iteration)
	}
}

func TestTraceWriter_Flush(t *testing.T) {
	tmpDir := t.TempDir()
	runID := NewRunID()

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	defer writer.Close()

	if err := writer.Write(TraceEntry{Iteration: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	info, err := os.Stat(writer.Path())
	if err != nil {
		t.Fatalf("Failed to stat trace: %v", err)
	}
	if info.Size() == 0 {
		t.Error("Expected data on disk after flush")
	}
}

func TestTraceReader_ReadIteratively(t *testing.T) {
	tmpDir := t.TempDir()
	runID := NewRunID()

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	for i := 1; i <= 5; i++ {
		if err := writer.Write(TraceEntry{Iteration: i, Timestamp: time.Now()}); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	writer.Close()

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		entry, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		count++
		if entry.Iteration != count {
			t.Errorf("Expected iteration %d, got %d", count, entry.Iteration)
		}
	}
	if count != 5 {
		t.Errorf("Expected 5 entries, got %d", count)
	}
}

func TestTraceReader_NotFound(t *testing.T) {
	_, err := NewTraceReader(t.TempDir(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteTrace(t *testing.T) {
	tmpDir := t.TempDir()
	runID := NewRunID()

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	writer.Close()

	if err := DeleteTrace(tmpDir, runID); err != nil {
		t.Fatalf("DeleteTrace failed: %v", err)
	}
	if _, err := os.Stat(writer.Path()); !os.IsNotExist(err) {
		t.Error("Trace file should be deleted")
	}
	if err := DeleteTrace(tmpDir, runID); err != nil {
		t.Errorf("DeleteTrace on missing file should succeed, got %v", err)
	}
}

func TestTraceWriter_ConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()
	runID := NewRunID()

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	defer writer.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(iter int) {
			defer wg.Done()
			if err := writer.Write(TraceEntry{Iteration: iter, BestFitness: float64(iter), Timestamp: time.Now()}); err != nil {
				t.Errorf("Concurrent write failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if err := writer.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 10 {
		t.Errorf("Expected 10 entries, got %d", len(entries))
	}
}
