package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/curio/internal/storage"
)

type fakeIndexer struct {
	indexed []string
	err     error
}

func (f *fakeIndexer) IndexDocuments(_ context.Context, docs []storage.Document) error {
	if f.err != nil {
		return f.err
	}
	for _, d := range docs {
		f.indexed = append(f.indexed, d.ID)
	}
	return nil
}

func TestEnrichHandler_IndexesDocument(t *testing.T) {
	store := openTestStore(t)
	res, err := store.InsertDocument("Go memory model", "https://go.dev/ref/mem", "happens before")
	if err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}
	if err := EnqueueEnrich(store, res.ID); err != nil {
		t.Fatalf("EnqueueEnrich: %v", err)
	}

	ix := &fakeIndexer{}
	w := NewWorker(store, 0, 1)
	w.Handle(TypeIngestEnrich, EnrichHandler(store, ix))

	if didWork, err := w.RunOnce(context.Background()); err != nil || !didWork {
		t.Fatalf("RunOnce = %v, %v", didWork, err)
	}
	if len(ix.indexed) != 1 || ix.indexed[0] != res.ID {
		t.Errorf("indexed = %v, want [%s]", ix.indexed, res.ID)
	}
}

func TestEnrichHandler_Errors(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	h := EnrichHandler(store, &fakeIndexer{})
	if err := h(ctx, []byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
	if err := h(ctx, []byte(`{}`)); err == nil {
		t.Error("expected error for missing document_id")
	}
	if err := h(ctx, []byte(`{"document_id":"missing"}`)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing document error = %v, want ErrNotFound", err)
	}

	res, _ := store.InsertDocument("A", "", "alpha")
	failing := EnrichHandler(store, &fakeIndexer{err: errors.New("ollama down")})
	if err := failing(ctx, []byte(`{"document_id":"`+res.ID+`"}`)); err == nil {
		t.Error("expected indexing error to propagate")
	}
}
