package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"atlasforge/internal/domain"
)

// Compile-time interface checks.
var _ ResultStore = (*SQLiteStore)(nil)
var _ JobStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore and JobStore backed by a SQLite
// database. All result writes are serialized at the aggregator, so the
// default connection settings are sufficient.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	config      TEXT NOT NULL,
	total       INTEGER NOT NULL DEFAULT 0,
	completed   INTEGER NOT NULL DEFAULT 0,
	passing     INTEGER NOT NULL DEFAULT 0,
	errored     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	started_at  TIMESTAMP,
	finished_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id        TEXT NOT NULL REFERENCES jobs(id),
	signal_ticker TEXT NOT NULL,
	invest_ticker TEXT NOT NULL,
	indicator     TEXT NOT NULL,
	period        INTEGER NOT NULL,
	comparator    TEXT NOT NULL,
	threshold     REAL NOT NULL,
	l2_indicator  TEXT,
	l2_period     INTEGER,
	l2_comparator TEXT,
	l2_threshold  REAL,
	is_tim      REAL, is_cagr  REAL, is_timar  REAL, is_maxdd   REAL,
	is_timardd  REAL, is_trades INTEGER, is_avg_hold REAL, is_sharpe REAL,
	is_dd3      REAL, is_dd50  REAL, is_dd95   REAL, is_timar3  REAL,
	oos_tim     REAL, oos_cagr REAL, oos_timar REAL, oos_maxdd  REAL,
	oos_timardd REAL, oos_trades INTEGER, oos_avg_hold REAL, oos_sharpe REAL,
	oos_dd3     REAL, oos_dd50 REAL, oos_dd95  REAL, oos_timar3 REAL,
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_job ON results(job_id);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// JobStore implementation
// ---------------------------------------------------------------------------

// CreateJob inserts a new job record with its serialized config.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, config, total, completed, passing, errored, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), string(cfg), job.TotalBranches,
		job.CompletedBranches, job.PassingBranches, job.ErroredBranches,
		job.Error, job.CreatedAt,
	)
	return err
}

// GetJob retrieves a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, config, total, completed, passing, errored, error,
		        created_at, started_at, finished_at
		 FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns the most recent jobs, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, config, total, completed, passing, errored, error,
		        created_at, started_at, finished_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var status, cfg string
	var started, finished sql.NullTime
	err := row.Scan(&job.ID, &status, &cfg, &job.TotalBranches,
		&job.CompletedBranches, &job.PassingBranches, &job.ErroredBranches,
		&job.Error, &job.CreatedAt, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if err := json.Unmarshal([]byte(cfg), &job.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config for job %s: %w", job.ID, err)
	}
	if started.Valid {
		job.StartedAt = started.Time
	}
	if finished.Valid {
		job.FinishedAt = finished.Time
	}
	return &job, nil
}

// UpdateJobStatus transitions a job's status. Entering running stamps
// started_at; terminal states stamp finished_at.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	switch {
	case status == domain.JobRunning:
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ?, started_at = ? WHERE id = ?`,
			string(status), errMsg, now, id)
	case status.Terminal():
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
			string(status), errMsg, now, id)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ? WHERE id = ?`,
			string(status), errMsg, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// UpdateJobCounters overwrites the live counters for a job.
func (s *SQLiteStore) UpdateJobCounters(ctx context.Context, id string, completed, passing, errored int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET completed = ?, passing = ?, errored = ? WHERE id = ?`,
		completed, passing, errored, id)
	return err
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

const insertResultSQL = `
INSERT INTO results (
	job_id, signal_ticker, invest_ticker, indicator, period, comparator, threshold,
	l2_indicator, l2_period, l2_comparator, l2_threshold,
	is_tim, is_cagr, is_timar, is_maxdd, is_timardd, is_trades, is_avg_hold,
	is_sharpe, is_dd3, is_dd50, is_dd95, is_timar3,
	oos_tim, oos_cagr, oos_timar, oos_maxdd, oos_timardd, oos_trades,
	oos_avg_hold, oos_sharpe, oos_dd3, oos_dd50, oos_dd95, oos_timar3,
	created_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

// InsertResults appends a batch of result rows in a single transaction.
func (s *SQLiteStore) InsertResults(ctx context.Context, results []domain.BranchResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertResultSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		var l2Ind, l2Cmp any
		var l2Per, l2Thr any
		if l2 := r.Branch.L2; l2 != nil {
			l2Ind, l2Per, l2Cmp, l2Thr = string(l2.Family), l2.Window, string(l2.Comparator), l2.Threshold
		}
		is, oos := r.IS, r.OOS
		_, err := stmt.ExecContext(ctx,
			r.JobID, r.SignalTicker, r.InvestTicker,
			string(r.Branch.Family), r.Branch.Window, string(r.Branch.Comparator), r.Branch.Threshold,
			l2Ind, l2Per, l2Cmp, l2Thr,
			is.TIM, is.CAGR, is.TIMAR, is.MaxDD, is.TIMARDD, is.Trades, is.AvgHold,
			is.Sharpe, is.DD3, is.DD50, is.DD95, is.TIMAR3,
			oos.TIM, oos.CAGR, oos.TIMAR, oos.MaxDD, oos.TIMARDD, oos.Trades,
			oos.AvgHold, oos.Sharpe, oos.DD3, oos.DD50, oos.DD95, oos.TIMAR3,
			r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting result for %s: %w", r.SignalTicker, err)
		}
	}
	return tx.Commit()
}

// ListResults returns up to limit result rows for a job in insertion order.
func (s *SQLiteStore) ListResults(ctx context.Context, jobID string, limit int) ([]domain.BranchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, signal_ticker, invest_ticker, indicator, period, comparator, threshold,
		        l2_indicator, l2_period, l2_comparator, l2_threshold,
		        is_tim, is_cagr, is_timar, is_maxdd, is_timardd, is_trades, is_avg_hold,
		        is_sharpe, is_dd3, is_dd50, is_dd95, is_timar3,
		        oos_tim, oos_cagr, oos_timar, oos_maxdd, oos_timardd, oos_trades,
		        oos_avg_hold, oos_sharpe, oos_dd3, oos_dd50, oos_dd95, oos_timar3,
		        created_at
		 FROM results WHERE job_id = ? ORDER BY id LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.BranchResult
	for rows.Next() {
		var r domain.BranchResult
		var fam, cmp string
		var l2Ind, l2Cmp sql.NullString
		var l2Per sql.NullInt64
		var l2Thr sql.NullFloat64
		is, oos := &r.IS, &r.OOS
		err := rows.Scan(&r.JobID, &r.SignalTicker, &r.InvestTicker,
			&fam, &r.Branch.Window, &cmp, &r.Branch.Threshold,
			&l2Ind, &l2Per, &l2Cmp, &l2Thr,
			&is.TIM, &is.CAGR, &is.TIMAR, &is.MaxDD, &is.TIMARDD, &is.Trades, &is.AvgHold,
			&is.Sharpe, &is.DD3, &is.DD50, &is.DD95, &is.TIMAR3,
			&oos.TIM, &oos.CAGR, &oos.TIMAR, &oos.MaxDD, &oos.TIMARDD, &oos.Trades,
			&oos.AvgHold, &oos.Sharpe, &oos.DD3, &oos.DD50, &oos.DD95, &oos.TIMAR3,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		r.Branch.Ticker = r.SignalTicker
		r.Branch.Family = domain.Family(fam)
		r.Branch.Comparator = domain.Comparator(cmp)
		if l2Ind.Valid {
			r.Branch.L2 = &domain.Leg{
				Family:     domain.Family(l2Ind.String),
				Window:     int(l2Per.Int64),
				Comparator: domain.Comparator(l2Cmp.String),
				Threshold:  l2Thr.Float64,
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountResults returns the number of persisted rows for a job.
func (s *SQLiteStore) CountResults(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE job_id = ?`, jobID).Scan(&n)
	return n, err
}
