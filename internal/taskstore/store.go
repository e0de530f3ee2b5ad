// Package taskstore persists the history of orchestrator runs and the
// outcome of every agent pipeline in SQLite.
package taskstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/ob1/internal/domain"
)

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Pipelines record outcomes concurrently; one connection keeps SQLite
	// writes serialized and ":memory:" databases shared
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts a run, or updates it if it already exists
func (s *Store) SaveRun(run *domain.Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, repo_root, base_branch, prompt, k, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo_root = excluded.repo_root,
			base_branch = excluded.base_branch,
			prompt = excluded.prompt,
			k = excluded.k
	`,
		run.ID,
		run.RepoRoot,
		run.BaseBranch,
		run.Prompt,
		run.K,
		run.StartedAt,
	)
	return err
}

// FinishRun stamps the run's finish time
func (s *Store) FinishRun(runID string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE runs SET finished_at = ? WHERE id = ?`, at, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// SaveOutcome records the outcome of one agent pipeline of a run
func (s *Store) SaveOutcome(runID string, out domain.Outcome) error {
	var errMsg sql.NullString
	if out.Err != nil {
		errMsg = sql.NullString{String: out.Err.Error(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO outcomes (run_id, agent, status, state, published, pr_url, branch, files_touched, apply_failed, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, agent) DO UPDATE SET
			status = excluded.status,
			state = excluded.state,
			published = excluded.published,
			pr_url = excluded.pr_url,
			branch = excluded.branch,
			files_touched = excluded.files_touched,
			apply_failed = excluded.apply_failed,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`,
		runID,
		out.Agent,
		string(out.Status),
		string(out.State),
		out.Published,
		out.PRURL,
		out.Branch,
		out.FilesTouched,
		out.ApplyFailed,
		errMsg,
		out.StartedAt,
		out.FinishedAt,
	)
	return err
}

// RunSummary is a stored run with its outcome counts
type RunSummary struct {
	domain.Run
	FinishedAt *time.Time
	Succeeded  int
	Failed     int
	Published  int
}

// ListRecentRuns returns the most recent runs, newest first
func (s *Store) ListRecentRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT r.id, r.repo_root, r.base_branch, r.prompt, r.k, r.started_at, r.finished_at,
			COALESCE(SUM(CASE WHEN o.status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN o.status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN o.published THEN 1 ELSE 0 END), 0)
		FROM runs r
		LEFT JOIN outcomes o ON o.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT ?
	`, string(domain.OutcomeSuccess), string(domain.OutcomeFailure), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rs RunSummary
		var finished sql.NullTime
		if err := rows.Scan(
			&rs.ID, &rs.RepoRoot, &rs.BaseBranch, &rs.Prompt, &rs.K, &rs.StartedAt, &finished,
			&rs.Succeeded, &rs.Failed, &rs.Published,
		); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			rs.FinishedAt = &t
		}
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}

// ListOutcomes returns the outcomes of a run ordered by agent name
func (s *Store) ListOutcomes(runID string) ([]domain.Outcome, error) {
	rows, err := s.db.Query(`
		SELECT agent, status, state, published, pr_url, branch, files_touched, apply_failed, error, started_at, finished_at
		FROM outcomes WHERE run_id = ?
		ORDER BY agent
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var out domain.Outcome
		var status, state string
		var prURL, branch, errMsg sql.NullString
		var started, finished sql.NullTime
		if err := rows.Scan(
			&out.Agent, &status, &state, &out.Published, &prURL, &branch,
			&out.FilesTouched, &out.ApplyFailed, &errMsg, &started, &finished,
		); err != nil {
			return nil, err
		}
		out.Status = domain.OutcomeStatus(status)
		out.State = domain.PipelineState(state)
		out.PRURL = prURL.String
		out.Branch = branch.String
		if errMsg.Valid {
			out.Err = errors.New(errMsg.String)
		}
		out.StartedAt = started.Time
		out.FinishedAt = finished.Time
		outcomes = append(outcomes, out)
	}
	return outcomes, rows.Err()
}
