// Package distill condenses a set of vault documents into key concepts and
// study flashcards, stored as reviewable artifacts.
package distill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/curio/internal/artifact"
	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/pipeline"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/trace"
)

// ErrNoDocuments is returned when none of the requested documents exist.
var ErrNoDocuments = errors.New("distill: no documents")

const (
	maxConcepts   = 12
	maxFlashcards = 12
	// maxDocChars bounds each document's share of the prompt.
	maxDocChars = 3000
)

const (
	NodeLoadDocuments    = "loadDocuments"
	NodeExtractConcepts  = "extractConcepts"
	NodePersistArtifacts = "persistArtifacts"
)

type Documents interface {
	ListDocumentsByIDs(ids []string) ([]storage.Document, error)
}

type Artifacts interface {
	InsertArtifacts(in []storage.ArtifactInput) ([]string, error)
}

type Request struct {
	DocumentIDs []string `json:"documentIds"`
	Day         string   `json:"day"`
	RunID       string   `json:"runId,omitempty"`
}

type Result struct {
	DocumentIDs []string             `json:"documentIds"`
	Concepts    []artifact.Concept   `json:"concepts"`
	Flashcards  []artifact.Flashcard `json:"flashcards"`
	ArtifactIDs []string             `json:"artifactIds"`
}

type Distiller struct {
	engine    engine.Engine
	model     string
	docs      Documents
	artifacts Artifacts
	graph     *pipeline.Graph[*state]
}

type state struct {
	req    Request
	docs   []storage.Document
	result Result
}

func New(e engine.Engine, model string, docs Documents, artifacts Artifacts) *Distiller {
	d := &Distiller{engine: e, model: model, docs: docs, artifacts: artifacts}
	d.graph = pipeline.New(NodeLoadDocuments,
		pipeline.Sequence[*state](NodeLoadDocuments, NodeExtractConcepts, NodePersistArtifacts),
		pipeline.Node[*state]{Name: NodeLoadDocuments, Fn: d.loadDocuments, Output: func(s *state) any { return map[string]int{"documents": len(s.docs)} }},
		pipeline.Node[*state]{Name: NodeExtractConcepts, Fn: d.extractConcepts, Output: func(s *state) any {
			return map[string]int{"concepts": len(s.result.Concepts), "flashcards": len(s.result.Flashcards)}
		}},
		pipeline.Node[*state]{Name: NodePersistArtifacts, Fn: d.persistArtifacts, Output: func(s *state) any { return map[string]any{"artifactIds": s.result.ArtifactIDs} }},
	)
	return d
}

// Run distills the requested documents and stores up to one concepts and
// one flashcards artifact for req.Day.
func (d *Distiller) Run(ctx context.Context, req Request, emit trace.Emitter) (Result, error) {
	st, err := d.graph.Run(ctx, &state{req: req}, emit)
	if err != nil {
		return Result{}, err
	}
	return st.result, nil
}

func (d *Distiller) loadDocuments(_ context.Context, s *state, _ trace.Emitter) (*state, error) {
	if len(s.req.DocumentIDs) == 0 {
		return s, ErrNoDocuments
	}
	docs, err := d.docs.ListDocumentsByIDs(s.req.DocumentIDs)
	if err != nil {
		return s, fmt.Errorf("loading documents: %w", err)
	}
	if len(docs) == 0 {
		return s, ErrNoDocuments
	}
	s.docs = docs
	s.result.DocumentIDs = make([]string, len(docs))
	for i, doc := range docs {
		s.result.DocumentIDs[i] = doc.ID
	}
	return s, nil
}

func (d *Distiller) extractConcepts(ctx context.Context, s *state, emit trace.Emitter) (*state, error) {
	var out struct {
		Concepts   []artifact.Concept   `json:"concepts"`
		Flashcards []artifact.Flashcard `json:"flashcards"`
	}
	if err := pipeline.ChatJSON(ctx, d.engine, d.model, "distillModel", buildPrompt(s.docs), distillSchema(), &out, emit); err != nil {
		return s, err
	}

	for _, c := range out.Concepts {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" || len(s.result.Concepts) == maxConcepts {
			continue
		}
		s.result.Concepts = append(s.result.Concepts, c)
	}
	for _, f := range out.Flashcards {
		f.Question = strings.TrimSpace(f.Question)
		f.Answer = strings.TrimSpace(f.Answer)
		if f.Question == "" || f.Answer == "" || len(s.result.Flashcards) == maxFlashcards {
			continue
		}
		s.result.Flashcards = append(s.result.Flashcards, f)
	}
	return s, nil
}

func (d *Distiller) persistArtifacts(_ context.Context, s *state, _ trace.Emitter) (*state, error) {
	s.result.ArtifactIDs = []string{}

	refs, err := artifact.Encode(artifact.DocumentRefs{DocumentIDs: s.result.DocumentIDs})
	if err != nil {
		return s, err
	}
	var inputs []storage.ArtifactInput
	add := func(kind, title string, payload any) error {
		content, err := artifact.Encode(payload)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", kind, err)
		}
		inputs = append(inputs, storage.ArtifactInput{
			RunID:      s.req.RunID,
			Agent:      artifact.AgentDistill,
			Kind:       kind,
			Day:        s.req.Day,
			Title:      title,
			Content:    content,
			SourceRefs: refs,
		})
		return nil
	}

	if len(s.result.Concepts) > 0 {
		payload := artifact.ConceptSet{DocumentIDs: s.result.DocumentIDs, Concepts: s.result.Concepts}
		if err := add(artifact.KindConcepts, "Concepts from "+docCount(len(s.docs)), payload); err != nil {
			return s, err
		}
	}
	if len(s.result.Flashcards) > 0 {
		payload := artifact.FlashcardSet{DocumentIDs: s.result.DocumentIDs, Cards: s.result.Flashcards}
		if err := add(artifact.KindFlashcards, "Flashcards from "+docCount(len(s.docs)), payload); err != nil {
			return s, err
		}
	}

	if len(inputs) == 0 {
		slog.Info("distill: model returned nothing to store", "documents", len(s.docs))
		return s, nil
	}
	ids, err := d.artifacts.InsertArtifacts(inputs)
	if err != nil {
		return s, fmt.Errorf("storing artifacts: %w", err)
	}
	s.result.ArtifactIDs = ids
	return s, nil
}

func docCount(n int) string {
	if n == 1 {
		return "1 document"
	}
	return fmt.Sprintf("%d documents", n)
}
