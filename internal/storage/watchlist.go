package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultCheckIntervalHours = 24

const watchColumns = `id, url, domain, label, kind, is_active, check_interval_hours, last_checked_at`

// WatchSourcePatch holds the user-editable fields of a watch source. Nil
// fields are left unchanged.
type WatchSourcePatch struct {
	URL                *string `json:"url,omitempty"`
	Label              *string `json:"label,omitempty"`
	Kind               *string `json:"kind,omitempty"`
	IsActive           *bool   `json:"is_active,omitempty"`
	CheckIntervalHours *int    `json:"check_interval_hours,omitempty"`
}

// CheckoutDueSources claims up to limit active sources that are due for a
// check and marks them checked before returning. Never-checked sources come
// first, then the longest unchecked. A claimed source is not handed out again
// until its interval elapses, even if the caller fails to use it.
func (s *Store) CheckoutDueSources(limit int) ([]SourceWatchItem, error) {
	if limit <= 0 {
		return []SourceWatchItem{}, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning checkout transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT ` + watchColumns + ` FROM source_watchlist WHERE is_active = 1 ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying watchlist: %w", err)
	}

	now := s.now().UTC()
	var due []SourceWatchItem
	for rows.Next() {
		item, err := scanWatchItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if isDue(item, now) {
			due = append(due, item)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].LastCheckedAt, due[j].LastCheckedAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	stamp := now.Format(time.RFC3339)
	checked, _ := time.Parse(time.RFC3339, stamp)
	for i := range due {
		if _, err := tx.Exec(`UPDATE source_watchlist SET last_checked_at = ? WHERE id = ?`, stamp, due[i].ID); err != nil {
			return nil, fmt.Errorf("marking source %s checked: %w", due[i].ID, err)
		}
		due[i].LastCheckedAt = &checked
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing checkout: %w", err)
	}
	if due == nil {
		due = []SourceWatchItem{}
	}
	return due, nil
}

func isDue(item SourceWatchItem, now time.Time) bool {
	if item.LastCheckedAt == nil {
		return true
	}
	interval := time.Duration(item.CheckIntervalHours) * time.Hour
	return now.Sub(*item.LastCheckedAt) >= interval
}

// AddWatchSource registers a URL for periodic re-scouting. The domain is
// derived from the URL; a zero interval means the 24 hour default.
func (s *Store) AddWatchSource(rawURL, label, kind string, intervalHours int) (SourceWatchItem, error) {
	domain, err := DomainOf(rawURL)
	if err != nil {
		return SourceWatchItem{}, err
	}
	if intervalHours == 0 {
		intervalHours = defaultCheckIntervalHours
	}
	if intervalHours < 1 {
		return SourceWatchItem{}, fmt.Errorf("check interval must be at least 1 hour, got %d", intervalHours)
	}
	if kind == "" {
		kind = "site"
	}

	item := SourceWatchItem{
		ID:                 uuid.New().String(),
		URL:                rawURL,
		Domain:             domain,
		Label:              label,
		Kind:               kind,
		IsActive:           true,
		CheckIntervalHours: intervalHours,
	}
	_, err = s.db.Exec(`INSERT INTO source_watchlist (id, url, domain, label, kind, is_active, check_interval_hours)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		item.ID, item.URL, item.Domain, item.Label, item.Kind, item.CheckIntervalHours)
	if err != nil {
		return SourceWatchItem{}, fmt.Errorf("inserting watch source: %w", err)
	}
	return item, nil
}

func (s *Store) GetWatchSource(id string) (SourceWatchItem, error) {
	item, err := scanWatchItem(s.db.QueryRow(`SELECT `+watchColumns+` FROM source_watchlist WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return SourceWatchItem{}, ErrNotFound
	}
	return item, err
}

func (s *Store) UpdateWatchSource(id string, patch WatchSourcePatch) (SourceWatchItem, error) {
	item, err := s.GetWatchSource(id)
	if err != nil {
		return SourceWatchItem{}, err
	}

	if patch.URL != nil {
		domain, err := DomainOf(*patch.URL)
		if err != nil {
			return SourceWatchItem{}, err
		}
		item.URL = *patch.URL
		item.Domain = domain
	}
	if patch.Label != nil {
		item.Label = *patch.Label
	}
	if patch.Kind != nil {
		item.Kind = *patch.Kind
	}
	if patch.IsActive != nil {
		item.IsActive = *patch.IsActive
	}
	if patch.CheckIntervalHours != nil {
		if *patch.CheckIntervalHours < 1 {
			return SourceWatchItem{}, fmt.Errorf("check interval must be at least 1 hour, got %d", *patch.CheckIntervalHours)
		}
		item.CheckIntervalHours = *patch.CheckIntervalHours
	}

	_, err = s.db.Exec(`UPDATE source_watchlist SET url = ?, domain = ?, label = ?, kind = ?, is_active = ?, check_interval_hours = ?
		WHERE id = ?`,
		item.URL, item.Domain, item.Label, item.Kind, boolToInt(item.IsActive), item.CheckIntervalHours, id)
	if err != nil {
		return SourceWatchItem{}, fmt.Errorf("updating watch source: %w", err)
	}
	return item, nil
}

func (s *Store) DeleteWatchSource(id string) error {
	res, err := s.db.Exec(`DELETE FROM source_watchlist WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListWatchSources() ([]SourceWatchItem, error) {
	rows, err := s.db.Query(`SELECT ` + watchColumns + ` FROM source_watchlist ORDER BY domain ASC, url ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []SourceWatchItem{}
	for rows.Next() {
		item, err := scanWatchItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DomainOf returns the lowercased host of rawURL without a leading "www.".
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.TrimPrefix(host, "www."), nil
}

func scanWatchItem(row rowScanner) (SourceWatchItem, error) {
	var item SourceWatchItem
	var active int
	var lastChecked sql.NullString
	if err := row.Scan(&item.ID, &item.URL, &item.Domain, &item.Label, &item.Kind, &active,
		&item.CheckIntervalHours, &lastChecked); err != nil {
		return SourceWatchItem{}, err
	}
	item.IsActive = active != 0
	var err error
	if item.LastCheckedAt, err = parseOptionalTime(lastChecked); err != nil {
		return SourceWatchItem{}, fmt.Errorf("parsing last_checked_at for source %s: %w", item.ID, err)
	}
	return item, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
