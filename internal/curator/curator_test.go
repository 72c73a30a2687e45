package curator

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/retrieval"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/trace"
)

// fakeEngine answers tag and category prompts based on the requested schema.
type fakeEngine struct {
	engine.Engine
	tagsReply     string
	categoryReply string
	categoryErr   error
	calls         []string
}

func (f *fakeEngine) Chat(_ context.Context, _ string, _ []engine.Message, schema *engine.Schema) (string, error) {
	if _, ok := schema.Properties["tags"]; ok {
		f.calls = append(f.calls, "tags")
		return f.tagsReply, nil
	}
	f.calls = append(f.calls, "category")
	return f.categoryReply, f.categoryErr
}

type fakeIndex struct {
	indexed []string
	related []retrieval.Related
	err     error
}

func (f *fakeIndex) IndexDocuments(_ context.Context, docs []storage.Document) error {
	for _, d := range docs {
		f.indexed = append(f.indexed, d.ID)
	}
	return f.err
}

func (f *fakeIndex) Related(_ context.Context, _ string, _ int) ([]retrieval.Related, error) {
	return f.related, f.err
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func stepNames(steps []trace.Step, status trace.Status) []string {
	var names []string
	for _, s := range steps {
		if s.Status == status && s.Type == trace.TypeAgent {
			names = append(names, s.Name)
		}
	}
	return names
}

func TestRun_TagsCategorizesAndPersists(t *testing.T) {
	store := openTestStore(t)
	doc, _ := store.InsertDocument("Raft explained", "https://example.com/raft", "Raft is a consensus algorithm.")
	other, _ := store.InsertDocument("Paxos", "", "Paxos made simple.")
	store.SetDocumentTags(other.ID, []string{"consensus"})

	e := &fakeEngine{
		tagsReply:     `{"tags":["Consensus","Distributed-Systems","article"]}`,
		categoryReply: `{"category":"tutorial"}`,
	}
	c := New(e, store, nil, Config{Model: "m", CategorizeEnabled: true})

	var steps []trace.Step
	res, err := c.Run(context.Background(), doc.ID, trace.Collect(&steps))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Tags, []string{"consensus", "distributed systems"}) {
		t.Errorf("Tags = %q", res.Tags)
	}
	if res.Category != "tutorial" {
		t.Errorf("Category = %q, want tutorial", res.Category)
	}
	if len(res.RelatedDocs) != 1 || res.RelatedDocs[0].DocumentID != other.ID {
		t.Errorf("RelatedDocs = %+v, want %s", res.RelatedDocs, other.ID)
	}

	stored, _ := store.GetDocument(doc.ID)
	if !reflect.DeepEqual(stored.Tags, res.Tags) || stored.Category != "tutorial" {
		t.Errorf("stored = %q / %q", stored.Tags, stored.Category)
	}

	want := []string{NodeLoadDocument, NodeExtractTags, NodeCategorize, NodeFindRelated, NodePersistTags}
	if got := stepNames(steps, trace.StatusOK); !reflect.DeepEqual(got, want) {
		t.Errorf("ok steps = %v, want %v", got, want)
	}
}

func TestRun_MissingDocumentSkipsRest(t *testing.T) {
	store := openTestStore(t)
	e := &fakeEngine{}
	c := New(e, store, nil, Config{Model: "m"})

	var steps []trace.Step
	_, err := c.Run(context.Background(), "missing", trace.Collect(&steps))
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("Run = %v, want ErrDocumentNotFound", err)
	}
	if len(e.calls) != 0 {
		t.Errorf("model called %v", e.calls)
	}
	want := []string{NodeExtractTags, NodeCategorize, NodeFindRelated, NodePersistTags}
	if got := stepNames(steps, trace.StatusSkipped); !reflect.DeepEqual(got, want) {
		t.Errorf("skipped = %v, want %v", got, want)
	}
}

func TestRun_ZeroTags(t *testing.T) {
	store := openTestStore(t)
	doc, _ := store.InsertDocument("Untitled", "", "lorem ipsum")

	e := &fakeEngine{tagsReply: `{"tags":["overview","x"]}`}
	c := New(e, store, nil, Config{Model: "m", CategorizeEnabled: true})

	res, err := c.Run(context.Background(), doc.ID, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Tags) != 0 {
		t.Errorf("Tags = %q, want none", res.Tags)
	}
	if res.Category != Uncategorized {
		t.Errorf("Category = %q, want uncategorized", res.Category)
	}
	if !reflect.DeepEqual(e.calls, []string{"tags"}) {
		t.Errorf("model calls = %v, want only tags", e.calls)
	}
	stored, _ := store.GetDocument(doc.ID)
	if len(stored.Tags) != 0 || stored.Category != "" {
		t.Errorf("stored = %q / %q, want nothing persisted", stored.Tags, stored.Category)
	}
}

func TestRun_CategorizeFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		reply   string
		err     error
	}{
		{"disabled", false, `{"category":"paper"}`, nil},
		{"model error", true, "", errors.New("timeout")},
		{"unknown label", true, `{"category":"poetry"}`, nil},
		{"malformed", true, `not json`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openTestStore(t)
			doc, _ := store.InsertDocument("Doc", "", "content about kubernetes")
			e := &fakeEngine{tagsReply: `{"tags":["kubernetes"]}`, categoryReply: tt.reply, categoryErr: tt.err}
			c := New(e, store, nil, Config{Model: "m", CategorizeEnabled: tt.enabled})

			res, err := c.Run(context.Background(), doc.ID, nil)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Category != Uncategorized {
				t.Errorf("Category = %q, want uncategorized", res.Category)
			}
		})
	}
}

func TestRun_UsesVectorIndex(t *testing.T) {
	store := openTestStore(t)
	doc, _ := store.InsertDocument("Doc", "", "content")
	idx := &fakeIndex{related: []retrieval.Related{{DocumentID: "other", Score: 0.9}}}
	e := &fakeEngine{tagsReply: `{"tags":["databases"]}`}
	c := New(e, store, idx, Config{Model: "m"})

	res, err := c.Run(context.Background(), doc.ID, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(idx.indexed, []string{doc.ID}) {
		t.Errorf("indexed = %v, want the unindexed document", idx.indexed)
	}
	if len(res.RelatedDocs) != 1 || res.RelatedDocs[0].DocumentID != "other" {
		t.Errorf("RelatedDocs = %+v", res.RelatedDocs)
	}
}

func TestRun_IndexFailureFallsBackToTags(t *testing.T) {
	store := openTestStore(t)
	doc, _ := store.InsertDocument("Doc", "", "content")
	peer, _ := store.InsertDocument("Peer", "", "other content")
	store.SetDocumentTags(peer.ID, []string{"databases", "sqlite"})

	idx := &fakeIndex{err: errors.New("embedding model missing")}
	e := &fakeEngine{tagsReply: `{"tags":["databases","indexing"]}`}
	c := New(e, store, idx, Config{Model: "m"})

	res, err := c.Run(context.Background(), doc.ID, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.RelatedDocs) != 1 || res.RelatedDocs[0].DocumentID != peer.ID {
		t.Fatalf("RelatedDocs = %+v", res.RelatedDocs)
	}
	if res.RelatedDocs[0].Score != 0.5 {
		t.Errorf("Score = %v, want 0.5", res.RelatedDocs[0].Score)
	}
}
