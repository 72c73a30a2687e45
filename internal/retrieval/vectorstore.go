package retrieval

import (
	"context"
	"time"
)

// SourceDocument is the source_type of vectors derived from vault documents.
const SourceDocument = "document"

// VectorStore stores one embedding per source and answers similarity queries.
type VectorStore interface {
	// Upsert stores records, replacing any existing record for the same source.
	Upsert(ctx context.Context, records []Record) error

	// Search returns up to topK records most similar to vector, skipping
	// records whose SourceID is excludeSource.
	Search(ctx context.Context, vector []float32, topK int, excludeSource string) ([]ScoredRecord, error)

	// GetBySource returns the record stored for sourceID, or nil.
	GetBySource(ctx context.Context, sourceID string) (*Record, error)

	// DeleteBySource removes the record stored for sourceID.
	DeleteBySource(ctx context.Context, sourceID string) error

	Count(ctx context.Context) (int, error)
}

// Record represents a row in the vector store.
type Record struct {
	ID         string
	SourceID   string
	SourceType string
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
	Tags       string // JSON array stored as text
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
