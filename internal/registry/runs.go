package registry

import (
	"time"

	"github.com/google/uuid"
)

// Run is one recorded workflow execution.
type Run struct {
	ID         string
	SourcePath string
	Steps      int
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Run statuses.
const (
	RunPending  = "pending"
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// RunStore records workflow executions for later inspection. It is only
// available on the SQLite backend; the JSON registry keeps no run history.
type RunStore struct {
	db *DB
}

// NewRunStore creates a run store using the given database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Start records the beginning of a workflow run and returns its ID.
func (s *RunStore) Start(sourcePath string, steps int) (string, error) {
	id := uuid.New().String()
	_, err := s.db.sql.Exec(
		`INSERT INTO runs (id, source_path, steps, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, sourcePath, steps, RunRunning, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", &IOError{Op: "insert", Path: "runs", Err: err}
	}
	return id, nil
}

// Finish marks a run complete or failed.
func (s *RunStore) Finish(id, status string) error {
	_, err := s.db.sql.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return &IOError{Op: "update", Path: "runs", Err: err}
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *RunStore) Recent(limit int) ([]Run, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, source_path, steps, status, started_at, COALESCE(finished_at, '')
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, &IOError{Op: "query", Path: "runs", Err: err}
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.SourcePath, &r.Steps, &r.Status, &started, &finished); err != nil {
			return nil, &IOError{Op: "scan", Path: "runs", Err: err}
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		if finished != "" {
			r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
