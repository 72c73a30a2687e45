package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateRun inserts a new run in the running state and returns its id.
func (s *Store) CreateRun(kind RunKind) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(`INSERT INTO runs (id, kind, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(kind), string(RunStatusRunning), s.timestamp())
	if err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return id, nil
}

// AppendStep appends step to the run's trace. The store assigns Seq and, when
// unset, Timestamp. Steps are never merged or validated.
func (s *Store) AppendStep(runID string, step RunStep) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRow(`SELECT COALESCE((SELECT MAX(seq) FROM run_steps WHERE run_id = ?), 0)
		FROM runs WHERE id = ?`, runID, runID).Scan(&seq)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading step sequence: %w", err)
	}

	ts := step.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	_, err = tx.Exec(`INSERT INTO run_steps (run_id, seq, ts, type, name, status, input, output, error, token_estimate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, seq+1, ts.UTC().Format(time.RFC3339), step.Type, step.Name, step.Status,
		nullIfEmpty(step.Input), nullIfEmpty(step.Output), nullIfEmpty(step.Error), nullIfZero(step.TokenEstimate))
	if err != nil {
		return fmt.Errorf("inserting step: %w", err)
	}

	return tx.Commit()
}

// FinishRun moves a running run to its terminal status. It returns ErrNotFound
// for unknown runs and ErrRunFinished when the run is already terminal.
func (s *Store) FinishRun(runID string, status RunStatus) error {
	res, err := s.db.Exec(`UPDATE runs SET status = ?, ended_at = ? WHERE id = ? AND status = ?`,
		string(status), s.timestamp(), runID, string(RunStatusRunning))
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrRunFinished
}

// GetRun returns a run without its steps.
func (s *Store) GetRun(runID string) (Run, error) {
	row := s.db.QueryRow(`SELECT id, kind, status, started_at, ended_at FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	return r, err
}

// GetRunTrace returns the run and its steps in append order, or nil when the
// run does not exist.
func (s *Store) GetRunTrace(runID string) (*RunTrace, error) {
	run, err := s.GetRun(runID)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT run_id, seq, ts, type, name, status, input, output, error, token_estimate
		FROM run_steps WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run steps: %w", err)
	}
	defer rows.Close()

	trace := &RunTrace{Run: run, Steps: []RunStep{}}
	for rows.Next() {
		var st RunStep
		var ts string
		var input, output, errMsg sql.NullString
		var tokens sql.NullInt64
		if err := rows.Scan(&st.RunID, &st.Seq, &ts, &st.Type, &st.Name, &st.Status, &input, &output, &errMsg, &tokens); err != nil {
			return nil, err
		}
		if st.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("parsing ts for step %d: %w", st.Seq, err)
		}
		st.Input = input.String
		st.Output = output.String
		st.Error = errMsg.String
		st.TokenEstimate = int(tokens.Int64)
		trace.Steps = append(trace.Steps, st)
	}
	return trace, rows.Err()
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, kind, status, started_at, ended_at FROM runs
		ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var kind, status, startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&r.ID, &kind, &status, &startedAt, &endedAt); err != nil {
		return Run{}, err
	}
	r.Kind = RunKind(kind)
	r.Status = RunStatus(status)
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return Run{}, fmt.Errorf("parsing started_at for run %s: %w", r.ID, err)
	}
	if r.EndedAt, err = parseOptionalTime(endedAt); err != nil {
		return Run{}, fmt.Errorf("parsing ended_at for run %s: %w", r.ID, err)
	}
	return r, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
