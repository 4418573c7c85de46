package experiment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trials (
	run_id TEXT PRIMARY KEY,
	dataset TEXT NOT NULL,
	approach TEXT NOT NULL,
	seed INTEGER NOT NULL,
	success INTEGER NOT NULL,
	makespan REAL NOT NULL,
	tasks_completed INTEGER NOT NULL,
	repairs_committed INTEGER NOT NULL,
	repairs_rolled_back INTEGER NOT NULL,
	deadline_misses INTEGER NOT NULL,
	fail_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trials_campaign ON trials(dataset, approach, seed);

CREATE TABLE IF NOT EXISTS delays (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset TEXT NOT NULL,
	task_id INTEGER NOT NULL,
	delta REAL NOT NULL,
	observed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delays_dataset ON delays(dataset);
`

// TrialResult is one recorded trial outcome.
type TrialResult struct {
	RunID            string
	Dataset          string
	Approach         string
	Seed             int64
	Success          bool
	Makespan         float64
	TasksCompleted   int
	RepairsCommitted int
	RepairsRolledBck int
	DeadlineMisses   int
	FailReason       string
}

// Store persists trial outcomes and observed delays. The delay table feeds
// the historical-average risk estimator; the engine core never touches the
// store directly.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if necessary initializes) the sqlite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// RecordTrial inserts one trial outcome.
func (s *Store) RecordTrial(ctx context.Context, r TrialResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trials (run_id, dataset, approach, seed, success, makespan,
			tasks_completed, repairs_committed, repairs_rolled_back,
			deadline_misses, fail_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Dataset, r.Approach, r.Seed, boolToInt(r.Success), r.Makespan,
		r.TasksCompleted, r.RepairsCommitted, r.RepairsRolledBck,
		r.DeadlineMisses, r.FailReason, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record trial %s: %w", r.RunID, err)
	}
	return nil
}

// RecordDelay inserts one observed delay sample.
func (s *Store) RecordDelay(ctx context.Context, dataset string, taskID int, delta float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delays (dataset, task_id, delta, observed_at)
		VALUES (?, ?, ?, ?)`,
		dataset, taskID, delta, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record delay for task %d: %w", taskID, err)
	}
	return nil
}

// AverageDelay implements risk.History over the recorded delay samples.
func (s *Store) AverageDelay(dataset string) (float64, int, error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(AVG(delta), 0), COUNT(*) FROM delays WHERE dataset = ?`,
		dataset)
	var avg float64
	var n int
	if err := row.Scan(&avg, &n); err != nil {
		return 0, 0, fmt.Errorf("average delay for %s: %w", dataset, err)
	}
	return avg, n, nil
}

// Trials returns recorded outcomes for a dataset, newest first.
func (s *Store) Trials(ctx context.Context, dataset string) ([]TrialResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, dataset, approach, seed, success, makespan,
			tasks_completed, repairs_committed, repairs_rolled_back,
			deadline_misses, fail_reason
		FROM trials WHERE dataset = ? ORDER BY created_at DESC`, dataset)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer rows.Close()

	var out []TrialResult
	for rows.Next() {
		var r TrialResult
		var success int
		if err := rows.Scan(&r.RunID, &r.Dataset, &r.Approach, &r.Seed, &success,
			&r.Makespan, &r.TasksCompleted, &r.RepairsCommitted,
			&r.RepairsRolledBck, &r.DeadlineMisses, &r.FailReason); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		r.Success = success != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
