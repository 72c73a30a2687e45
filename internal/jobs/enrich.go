package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/curio/internal/storage"
)

// DocumentLoader loads vault documents.
type DocumentLoader interface {
	GetDocument(id string) (storage.Document, error)
}

// DocumentIndexer stores document embeddings.
type DocumentIndexer interface {
	IndexDocuments(ctx context.Context, docs []storage.Document) error
}

// EnrichPayload is the payload of an ingest_enrich job.
type EnrichPayload struct {
	DocumentID string `json:"document_id"`
}

// EnrichHandler returns a Handler that embeds a freshly ingested document
// into the vector index.
func EnrichHandler(docs DocumentLoader, index DocumentIndexer) Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload EnrichPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if payload.DocumentID == "" {
			return fmt.Errorf("payload missing document_id")
		}

		doc, err := docs.GetDocument(payload.DocumentID)
		if err != nil {
			return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
		}
		if err := index.IndexDocuments(ctx, []storage.Document{doc}); err != nil {
			return fmt.Errorf("indexing document %s: %w", doc.ID, err)
		}
		return nil
	}
}

// EnqueueEnrich schedules an ingest_enrich job for documentID.
func EnqueueEnrich(q interface{ EnqueueJob(storage.Job) error }, documentID string) error {
	payload, err := json.Marshal(EnrichPayload{DocumentID: documentID})
	if err != nil {
		return err
	}
	return q.EnqueueJob(storage.Job{Type: TypeIngestEnrich, PayloadJSON: string(payload)})
}
