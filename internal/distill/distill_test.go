package distill

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/curio/internal/artifact"
	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/trace"
)

type fakeEngine struct {
	engine.Engine
	reply  string
	err    error
	prompt []engine.Message
}

func (f *fakeEngine) Chat(_ context.Context, _ string, msgs []engine.Message, _ *engine.Schema) (string, error) {
	f.prompt = msgs
	return f.reply, f.err
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

const reply = `{
  "concepts": [{"name":"Leader election","summary":"Raft elects one leader per term."}, {"name":"  ","summary":"blank"}],
  "flashcards": [{"question":"What does a follower do on timeout?","answer":"It becomes a candidate."}]
}`

func TestRun_StoresConceptsAndFlashcards(t *testing.T) {
	store := openTestStore(t)
	doc, _ := store.InsertDocument("Raft", "", "Raft elects a leader.")

	e := &fakeEngine{reply: reply}
	d := New(e, "m", store, store)

	var steps []trace.Step
	res, err := d.Run(context.Background(), Request{DocumentIDs: []string{doc.ID}, Day: "2026-03-01"}, trace.Collect(&steps))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Concepts) != 1 || res.Concepts[0].Name != "Leader election" {
		t.Errorf("Concepts = %+v", res.Concepts)
	}
	if len(res.Flashcards) != 1 {
		t.Errorf("Flashcards = %+v", res.Flashcards)
	}
	if len(res.ArtifactIDs) != 2 {
		t.Fatalf("ArtifactIDs = %v, want 2", res.ArtifactIDs)
	}

	inbox, err := store.ListInboxArtifacts("2026-03-01")
	if err != nil {
		t.Fatalf("ListInboxArtifacts: %v", err)
	}
	if len(inbox) != 2 || inbox[0].Kind != artifact.KindConcepts || inbox[1].Kind != artifact.KindFlashcards {
		t.Fatalf("inbox = %+v", inbox)
	}
	payload, err := artifact.DecodeContent(inbox[1].Agent, inbox[1].Kind, inbox[1].Content)
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	cards := payload.(*artifact.FlashcardSet)
	if len(cards.DocumentIDs) != 1 || cards.DocumentIDs[0] != doc.ID {
		t.Errorf("DocumentIDs = %v", cards.DocumentIDs)
	}
	if inbox[0].Title != "Concepts from 1 document" {
		t.Errorf("Title = %q", inbox[0].Title)
	}

	var llm int
	for _, s := range steps {
		if s.Type == trace.TypeLLM {
			llm++
		}
	}
	if llm != 2 {
		t.Errorf("llm steps = %d, want running+ok", llm)
	}
}

func TestRun_NoDocuments(t *testing.T) {
	store := openTestStore(t)
	d := New(&fakeEngine{}, "m", store, store)

	for _, ids := range [][]string{nil, {"missing"}} {
		if _, err := d.Run(context.Background(), Request{DocumentIDs: ids, Day: "2026-03-01"}, nil); !errors.Is(err, ErrNoDocuments) {
			t.Errorf("Run(%v) = %v, want ErrNoDocuments", ids, err)
		}
	}
}

func TestRun_ModelError(t *testing.T) {
	store := openTestStore(t)
	doc, _ := store.InsertDocument("Raft", "", "Raft elects a leader.")
	d := New(&fakeEngine{err: errors.New("model unavailable")}, "m", store, store)

	if _, err := d.Run(context.Background(), Request{DocumentIDs: []string{doc.ID}, Day: "2026-03-01"}, nil); err == nil {
		t.Fatal("expected error")
	}
	counts, _ := store.CountArtifactsByStatus("2026-03-01")
	if counts[storage.ArtifactProposed] != 0 {
		t.Errorf("proposed = %d, want 0", counts[storage.ArtifactProposed])
	}
}

func TestRun_EmptyExtraction(t *testing.T) {
	store := openTestStore(t)
	doc, _ := store.InsertDocument("Raft", "", "Raft elects a leader.")
	d := New(&fakeEngine{reply: `{"concepts":[],"flashcards":[]}`}, "m", store, store)

	res, err := d.Run(context.Background(), Request{DocumentIDs: []string{doc.ID}, Day: "2026-03-01"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.ArtifactIDs) != 0 {
		t.Errorf("ArtifactIDs = %v, want none", res.ArtifactIDs)
	}
}

// rejectingArtifacts fails every batch and records what it was given.
type rejectingArtifacts struct {
	batches [][]storage.ArtifactInput
}

func (r *rejectingArtifacts) InsertArtifacts(in []storage.ArtifactInput) ([]string, error) {
	r.batches = append(r.batches, in)
	return nil, errors.New("disk full")
}

func TestRun_StoresBothSetsInOneBatch(t *testing.T) {
	store := openTestStore(t)
	doc, _ := store.InsertDocument("Raft", "", "Raft elects a leader.")
	arts := &rejectingArtifacts{}
	d := New(&fakeEngine{reply: reply}, "m", store, arts)

	res, err := d.Run(context.Background(), Request{DocumentIDs: []string{doc.ID}, Day: "2026-03-01"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(arts.batches) != 1 || len(arts.batches[0]) != 2 {
		t.Fatalf("batches = %+v, want one batch of two", arts.batches)
	}
	if len(res.ArtifactIDs) != 0 {
		t.Errorf("ArtifactIDs = %v, want none", res.ArtifactIDs)
	}
	counts, _ := store.CountArtifactsByStatus("2026-03-01")
	if counts[storage.ArtifactProposed] != 0 {
		t.Errorf("proposed = %d, want 0", counts[storage.ArtifactProposed])
	}
}
