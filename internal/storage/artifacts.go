package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const artifactColumns = `id, run_id, agent, kind, day, title, content, source_refs, status, created_at, reviewed_at`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// InsertArtifact stores a new artifact in the proposed state.
func (s *Store) InsertArtifact(in ArtifactInput) (string, error) {
	return s.insertArtifact(s.db, in)
}

// InsertArtifacts stores every input in one transaction. Either all
// artifacts are stored or none are.
func (s *Store) InsertArtifacts(in []ArtifactInput) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning artifact transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(in))
	for _, a := range in {
		id, err := s.insertArtifact(tx, a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing artifacts: %w", err)
	}
	return ids, nil
}

func (s *Store) insertArtifact(db execer, in ArtifactInput) (string, error) {
	id := uuid.New().String()
	content := in.Content
	if content == "" {
		content = "{}"
	}
	refs := in.SourceRefs
	if refs == "" {
		refs = "{}"
	}
	_, err := db.Exec(`INSERT INTO artifacts (id, run_id, agent, kind, day, title, content, source_refs, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nullIfEmpty(in.RunID), in.Agent, in.Kind, in.Day, in.Title, content, refs,
		string(ArtifactProposed), s.timestamp())
	if err != nil {
		return "", fmt.Errorf("inserting artifact: %w", err)
	}
	return id, nil
}

// ApproveArtifact approves a proposed artifact and supersedes any other
// approved artifact with the same agent, kind and day, in one transaction.
// It returns false without changing anything when the artifact is missing
// or not proposed.
func (s *Store) ApproveArtifact(id string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning approve transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	res, err := tx.Exec(`UPDATE artifacts SET status = ?, reviewed_at = ? WHERE id = ? AND status = ?`,
		string(ArtifactApproved), now, id, string(ArtifactProposed))
	if err != nil {
		return false, fmt.Errorf("approving artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	var agent, kind, day string
	if err := tx.QueryRow(`SELECT agent, kind, day FROM artifacts WHERE id = ?`, id).Scan(&agent, &kind, &day); err != nil {
		return false, fmt.Errorf("reading approved artifact: %w", err)
	}

	_, err = tx.Exec(`UPDATE artifacts SET status = ?, reviewed_at = ?
		WHERE agent = ? AND kind = ? AND day = ? AND status = ? AND id <> ?`,
		string(ArtifactSuperseded), now, agent, kind, day, string(ArtifactApproved), id)
	if err != nil {
		return false, fmt.Errorf("superseding siblings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing approval: %w", err)
	}
	return true, nil
}

// RejectArtifact moves a proposed artifact to rejected. Same no-op semantics
// as ApproveArtifact.
func (s *Store) RejectArtifact(id string) (bool, error) {
	res, err := s.db.Exec(`UPDATE artifacts SET status = ?, reviewed_at = ? WHERE id = ? AND status = ?`,
		string(ArtifactRejected), s.timestamp(), id, string(ArtifactProposed))
	if err != nil {
		return false, fmt.Errorf("rejecting artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) GetArtifact(id string) (Artifact, error) {
	row := s.db.QueryRow(`SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return Artifact{}, ErrNotFound
	}
	return a, err
}

// ListInboxArtifacts returns the day's proposed artifacts in creation order.
func (s *Store) ListInboxArtifacts(day string) ([]Artifact, error) {
	return s.listArtifacts(day, ArtifactProposed)
}

// ListActiveArtifacts returns the day's approved artifacts.
func (s *Store) ListActiveArtifacts(day string) ([]Artifact, error) {
	return s.listArtifacts(day, ArtifactApproved)
}

func (s *Store) listArtifacts(day string, status ArtifactStatus) ([]Artifact, error) {
	rows, err := s.db.Query(`SELECT `+artifactColumns+` FROM artifacts
		WHERE day = ? AND status = ? ORDER BY created_at ASC, rowid ASC`, day, string(status))
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []Artifact{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// CountArtifactsByStatus returns per-status counts for the day. Every status
// is present, with zero for statuses that have no rows.
func (s *Store) CountArtifactsByStatus(day string) (map[ArtifactStatus]int, error) {
	counts := make(map[ArtifactStatus]int, len(AllArtifactStatuses))
	for _, st := range AllArtifactStatuses {
		counts[st] = 0
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM artifacts WHERE day = ? GROUP BY status`, day)
	if err != nil {
		return nil, fmt.Errorf("counting artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[ArtifactStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanArtifact(row rowScanner) (Artifact, error) {
	var a Artifact
	var runID, reviewedAt sql.NullString
	var status, createdAt string
	if err := row.Scan(&a.ID, &runID, &a.Agent, &a.Kind, &a.Day, &a.Title, &a.Content, &a.SourceRefs,
		&status, &createdAt, &reviewedAt); err != nil {
		return Artifact{}, err
	}
	a.RunID = runID.String
	a.Status = ArtifactStatus(status)
	var err error
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Artifact{}, fmt.Errorf("parsing created_at for artifact %s: %w", a.ID, err)
	}
	if a.ReviewedAt, err = parseOptionalTime(reviewedAt); err != nil {
		return Artifact{}, fmt.Errorf("parsing reviewed_at for artifact %s: %w", a.ID, err)
	}
	return a, nil
}
