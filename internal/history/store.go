package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Run is one recorded harness execution.
type Run struct {
	ID          int64     `json:"id"`
	Scenario    string    `json:"scenario"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	IngestExit  int       `json:"ingest_exit"`
	CompareExit int       `json:"compare_exit"`
	Passed      bool      `json:"passed"`
	Error       string    `json:"error,omitempty"`
}

// Store persists harness runs in a SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (creating if needed) the run-history database.
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, logger: logger}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection, for health checks.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// initSchema creates the runs table if it doesn't exist
func (s *Store) initSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scenario TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			ingest_exit INTEGER NOT NULL,
			compare_exit INTEGER NOT NULL,
			passed BOOLEAN NOT NULL,
			error TEXT
		)
	`

	_, err := s.db.Exec(query)
	return err
}

// RecordRun appends one run to the history.
func (s *Store) RecordRun(run Run) error {
	query := `
		INSERT INTO runs (scenario, started_at, finished_at, ingest_exit, compare_exit, passed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		run.Scenario, run.StartedAt, run.FinishedAt,
		run.IngestExit, run.CompareExit, run.Passed, run.Error)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	s.logger.Debug("Recorded harness run",
		zap.String("scenario", run.Scenario),
		zap.Bool("passed", run.Passed))

	return nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, scenario, started_at, finished_at, ingest_exit, compare_exit, passed, COALESCE(error, '')
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// RunsForScenario returns the most recent runs of one scenario, newest first.
func (s *Store) RunsForScenario(scenario string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, scenario, started_at, finished_at, ingest_exit, compare_exit, passed, COALESCE(error, '')
		FROM runs WHERE scenario = ? ORDER BY started_at DESC, id DESC LIMIT ?
	`

	rows, err := s.db.Query(query, scenario, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for scenario: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// LastRun returns the most recent run of a scenario, or nil if none exists.
func (s *Store) LastRun(scenario string) (*Run, error) {
	query := `
		SELECT id, scenario, started_at, finished_at, ingest_exit, compare_exit, passed, COALESCE(error, '')
		FROM runs WHERE scenario = ? ORDER BY started_at DESC, id DESC LIMIT 1
	`

	row := s.db.QueryRow(query, scenario)

	var run Run
	err := row.Scan(&run.ID, &run.Scenario, &run.StartedAt, &run.FinishedAt,
		&run.IngestExit, &run.CompareExit, &run.Passed, &run.Error)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No runs yet
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return &run, nil
}

// GetStats returns aggregate counts over the whole history.
func (s *Store) GetStats() (map[string]interface{}, error) {
	var total, passed int
	err := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(passed), 0) FROM runs").Scan(&total, &passed)
	if err != nil {
		return nil, fmt.Errorf("failed to query run stats: %w", err)
	}

	var scenarios int
	err = s.db.QueryRow("SELECT COUNT(DISTINCT scenario) FROM runs").Scan(&scenarios)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenario count: %w", err)
	}

	return map[string]interface{}{
		"total_runs": total,
		"passed":     passed,
		"failed":     total - passed,
		"scenarios":  scenarios,
	}, nil
}

// scanRuns reads all rows into Run values.
func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var run Run
		err := rows.Scan(&run.ID, &run.Scenario, &run.StartedAt, &run.FinishedAt,
			&run.IngestExit, &run.CompareExit, &run.Passed, &run.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}
