package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (s *Store) InsertReport(day, title, content, sourceRefs string) (string, error) {
	if sourceRefs == "" {
		sourceRefs = "{}"
	}
	id := uuid.New().String()
	_, err := s.db.Exec(`INSERT INTO reports (id, day, title, content, source_refs, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, day, title, content, sourceRefs, s.timestamp())
	if err != nil {
		return "", fmt.Errorf("inserting report: %w", err)
	}
	return id, nil
}

func (s *Store) GetReport(id string) (Report, error) {
	var r Report
	var createdAt string
	err := s.db.QueryRow(`SELECT id, day, title, content, source_refs, created_at FROM reports WHERE id = ?`, id).
		Scan(&r.ID, &r.Day, &r.Title, &r.Content, &r.SourceRefs, &createdAt)
	if err == sql.ErrNoRows {
		return Report{}, ErrNotFound
	}
	if err != nil {
		return Report{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Report{}, fmt.Errorf("parsing created_at for report %s: %w", r.ID, err)
	}
	return r, nil
}

// ListReports returns reports for day, newest first. An empty day lists all.
func (s *Store) ListReports(day string, limit int) ([]Report, error) {
	query := `SELECT id, day, title, content, source_refs, created_at FROM reports`
	var args []interface{}
	if day != "" {
		query += ` WHERE day = ?`
		args = append(args, day)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limitOrAll(limit))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []Report{}
	for rows.Next() {
		var r Report
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Day, &r.Title, &r.Content, &r.SourceRefs, &createdAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
