package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps every checkpoint as a JSON payload in one SQLite database.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore returns a store for the database at path. Call Init before use.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Init opens the database and creates the schema.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id       TEXT PRIMARY KEY,
			function     TEXT NOT NULL,
			flavor       TEXT NOT NULL,
			dim          INTEGER NOT NULL,
			best_fitness REAL NOT NULL,
			iteration    INTEGER NOT NULL,
			evaluations  INTEGER NOT NULL,
			status       TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			payload      BLOB NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, runID string, checkpoint *Checkpoint) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, function, flavor, dim, best_fitness, iteration, evaluations, status, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			function = excluded.function,
			flavor = excluded.flavor,
			dim = excluded.dim,
			best_fitness = excluded.best_fitness,
			iteration = excluded.iteration,
			evaluations = excluded.evaluations,
			status = excluded.status,
			created_at = excluded.created_at,
			payload = excluded.payload
	`, runID, checkpoint.Config.Function, checkpoint.Config.Flavor, checkpoint.Config.Dim,
		checkpoint.BestFitness, checkpoint.Iteration, checkpoint.Evaluations, checkpoint.Status,
		checkpoint.Timestamp.UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", runID, err)
	}

	slog.Debug("Checkpoint saved", "runID", runID, "path", s.path)
	return nil
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM checkpoints WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", runID, err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(payload, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint %s: %w", runID, err)
	}
	return &checkpoint, nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]CheckpointInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT run_id, function, flavor, dim, best_fitness, iteration, evaluations, status, created_at, length(payload)
		FROM checkpoints
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	infos := []CheckpointInfo{}
	for rows.Next() {
		var info CheckpointInfo
		var created int64
		if err := rows.Scan(&info.RunID, &info.Function, &info.Flavor, &info.Dim, &info.BestFitness,
			&info.Iteration, &info.Evaluations, &info.Status, &created, &info.Size); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		info.Timestamp = time.Unix(0, created)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return infos, nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", runID, err)
	}
	if n == 0 {
		return &NotFoundError{RunID: runID}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("sqlite store is not initialized")
	}
	return s.db, nil
}
