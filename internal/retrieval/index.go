package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/curio/internal/storage"
)

// DocumentStore is the subset of storage.Store the index needs.
type DocumentStore interface {
	UpdateDocumentVectorID(id, vectorID string) error
}

// Related is a document similar to the query document.
type Related struct {
	DocumentID string  `json:"documentId"`
	Score      float32 `json:"score"`
}

// Index maintains one embedding per vault document and answers
// related-document queries.
type Index struct {
	embedder *Embedder
	vectors  VectorStore
	docs     DocumentStore
}

func NewIndex(embedder *Embedder, vectors VectorStore, docs DocumentStore) *Index {
	return &Index{embedder: embedder, vectors: vectors, docs: docs}
}

// IndexDocuments embeds docs concurrently and stores their vectors, then
// records each vector id on its document.
func (ix *Index) IndexDocuments(ctx context.Context, docs []storage.Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Title + "\n\n" + d.Content
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	records := make([]Record, len(docs))
	for i, d := range docs {
		records[i] = Record{
			ID:         uuid.New().String(),
			SourceID:   d.ID,
			SourceType: SourceDocument,
			TextChunk:  d.Title,
			Embedding:  vecs[i],
			Tags:       tagsJSON(d.Tags),
		}
	}
	if err := ix.vectors.Upsert(ctx, records); err != nil {
		return fmt.Errorf("storing vectors: %w", err)
	}

	for _, r := range records {
		if err := ix.docs.UpdateDocumentVectorID(r.SourceID, r.ID); err != nil {
			slog.Warn("index: failed to record vector id", "document_id", r.SourceID, "error", err)
		}
	}
	return nil
}

// Related returns up to topK documents most similar to documentID. It
// returns nil when the document has no stored vector.
func (ix *Index) Related(ctx context.Context, documentID string, topK int) ([]Related, error) {
	rec, err := ix.vectors.GetBySource(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("loading vector for %s: %w", documentID, err)
	}
	if rec == nil {
		return nil, nil
	}

	scored, err := ix.vectors.Search(ctx, rec.Embedding, topK, documentID)
	if err != nil {
		return nil, fmt.Errorf("searching related documents: %w", err)
	}

	related := make([]Related, 0, len(scored))
	for _, s := range scored {
		if s.SourceType != SourceDocument {
			continue
		}
		related = append(related, Related{DocumentID: s.SourceID, Score: s.Score})
	}
	return related, nil
}

// Remove drops the stored vector of a deleted document.
func (ix *Index) Remove(ctx context.Context, documentID string) error {
	return ix.vectors.DeleteBySource(ctx, documentID)
}

func tagsJSON(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}
