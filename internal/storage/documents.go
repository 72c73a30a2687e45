package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const documentColumns = `id, title, source, content, content_hash, category, created_at, vector_id`

var blankRuns = regexp.MustCompile(`\n{3,}`)

// NormalizeContent canonicalizes document text before hashing: CRLF becomes
// LF, surrounding whitespace is trimmed and runs of blank lines collapse to one.
func NormalizeContent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSpace(content)
	return blankRuns.ReplaceAllString(content, "\n\n")
}

// ContentHash returns the hex sha256 of the normalized content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// InsertDocument stores a document unless one with the same normalized
// content already exists, in which case the existing id is returned with
// Created=false.
func (s *Store) InsertDocument(title, source, content string) (InsertResult, error) {
	normalized := NormalizeContent(content)
	hash := ContentHash(normalized)

	tx, err := s.db.Begin()
	if err != nil {
		return InsertResult{}, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(`SELECT id FROM documents WHERE content_hash = ?`, hash).Scan(&existing)
	if err == nil {
		return InsertResult{ID: existing, Created: false}, nil
	}
	if err != sql.ErrNoRows {
		return InsertResult{}, fmt.Errorf("checking content hash: %w", err)
	}

	id := uuid.New().String()
	_, err = tx.Exec(`INSERT INTO documents (id, title, source, content, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, source, normalized, hash, s.timestamp())
	if err != nil {
		return InsertResult{}, fmt.Errorf("inserting document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("committing document: %w", err)
	}
	return InsertResult{ID: id, Created: true}, nil
}

func (s *Store) GetDocument(id string) (Document, error) {
	doc, err := scanDocument(s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	docs := []Document{doc}
	if err := s.attachTags(docs); err != nil {
		return Document{}, err
	}
	return docs[0], nil
}

func (s *Store) DeleteDocument(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM document_tags WHERE document_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id)
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
	return tx.Commit()
}

// DocumentExists reports whether a document was imported from sourceURL.
func (s *Store) DocumentExists(sourceURL string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE source = ?`, sourceURL).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// FilterExistingSources returns the subset of urls already present in the
// vault, in input order.
func (s *Store) FilterExistingSources(urls []string) ([]string, error) {
	existing := []string{}
	if len(urls) == 0 {
		return existing, nil
	}
	query := `SELECT DISTINCT source FROM documents WHERE source IN (?` + strings.Repeat(",?", len(urls)-1) + `)`
	rows, err := s.db.Query(query, stringArgs(urls)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]bool)
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		found[src] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, u := range urls {
		if found[u] {
			existing = append(existing, u)
			delete(found, u)
		}
	}
	return existing, nil
}

func (s *Store) ListDocumentsByTag(tag string, limit int) ([]Document, error) {
	return s.ListDocumentsByTags([]string{tag}, limit)
}

// ListDocumentsByTags returns documents carrying any of tags, newest first.
func (s *Store) ListDocumentsByTags(tags []string, limit int) ([]Document, error) {
	if len(tags) == 0 {
		return []Document{}, nil
	}
	query := `SELECT ` + prefixed("d.", documentColumns) + ` FROM documents d
		WHERE d.id IN (SELECT document_id FROM document_tags WHERE tag IN (?` + strings.Repeat(",?", len(tags)-1) + `))
		ORDER BY d.created_at DESC, d.rowid DESC LIMIT ?`
	args := append(stringArgs(tags), limitOrAll(limit))
	return s.queryDocuments(query, args...)
}

// ListDocumentsByIDs returns the documents that exist among ids, in input order.
func (s *Store) ListDocumentsByIDs(ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return []Document{}, nil
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	docs, err := s.queryDocuments(query, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	ordered := make([]Document, 0, len(docs))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			ordered = append(ordered, d)
			delete(byID, id)
		}
	}
	return ordered, nil
}

func (s *Store) ListRecentDocuments(limit int) ([]Document, error) {
	return s.queryDocuments(`SELECT `+documentColumns+` FROM documents
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, limitOrAll(limit))
}

// SetDocumentTags replaces the document's tag set.
func (s *Store) SetDocumentTags(id string, tags []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM documents WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM document_tags WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("clearing tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO document_tags (document_id, tag) VALUES (?, ?)`, id, tag); err != nil {
			return fmt.Errorf("inserting tag %q: %w", tag, err)
		}
	}
	return tx.Commit()
}

func (s *Store) SetDocumentCategory(id, category string) error {
	return s.updateDocumentField(id, "category", category)
}

func (s *Store) UpdateDocumentVectorID(id, vectorID string) error {
	return s.updateDocumentField(id, "vector_id", vectorID)
}

func (s *Store) updateDocumentField(id, column, value string) error {
	res, err := s.db.Exec(`UPDATE documents SET `+column+` = ? WHERE id = ?`, value, id)
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

// TagCounts returns the most used tags, most frequent first.
func (s *Store) TagCounts(limit int) ([]TagCount, error) {
	rows, err := s.db.Query(`SELECT tag, COUNT(*) AS n FROM document_tags
		GROUP BY tag ORDER BY n DESC, tag ASC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []TagCount{}
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, tc)
	}
	return counts, rows.Err()
}

func (s *Store) queryDocuments(query string, args ...interface{}) ([]Document, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	docs := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := s.attachTags(docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) attachTags(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	rows, err := s.db.Query(`SELECT document_id, tag FROM document_tags
		WHERE document_id IN (?`+strings.Repeat(",?", len(ids)-1)+`) ORDER BY rowid ASC`, stringArgs(ids)...)
	if err != nil {
		return fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	tags := make(map[string][]string)
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return err
		}
		tags[id] = append(tags[id], tag)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range docs {
		docs[i].Tags = tags[docs[i].ID]
		if docs[i].Tags == nil {
			docs[i].Tags = []string{}
		}
	}
	return nil
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var createdAt string
	if err := row.Scan(&d.ID, &d.Title, &d.Source, &d.Content, &d.ContentHash, &d.Category, &createdAt, &d.VectorID); err != nil {
		return Document{}, err
	}
	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at for document %s: %w", d.ID, err)
	}
	return d, nil
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
