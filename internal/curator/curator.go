// Package curator tags, categorizes and links a single vault document.
package curator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/pipeline"
	"github.com/kalambet/curio/internal/retrieval"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/trace"
)

// ErrDocumentNotFound is returned by Run when the document does not exist.
var ErrDocumentNotFound = errors.New("curator: document not found")

const Uncategorized = "uncategorized"

// Categories is the closed category set. Uncategorized is always last.
var Categories = []string{"article", "paper", "tutorial", "reference", "note", "news", "opinion", "tool", Uncategorized}

const defaultMaxRelated = 5

// Node names, in execution order.
const (
	NodeLoadDocument = "loadDocument"
	NodeExtractTags  = "extractTags"
	NodeCategorize   = "categorizeDocument"
	NodeFindRelated  = "findRelatedDocuments"
	NodePersistTags  = "persistTags"
)

// Documents is the document repository the curator reads and writes.
type Documents interface {
	GetDocument(id string) (storage.Document, error)
	ListDocumentsByTags(tags []string, limit int) ([]storage.Document, error)
	SetDocumentTags(id string, tags []string) error
	SetDocumentCategory(id, category string) error
}

// Index finds documents similar to a given one. retrieval.Index satisfies it.
type Index interface {
	IndexDocuments(ctx context.Context, docs []storage.Document) error
	Related(ctx context.Context, documentID string, topK int) ([]retrieval.Related, error)
}

type Config struct {
	Model             string
	CategorizeEnabled bool
	MaxRelated        int
}

type RelatedDoc struct {
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title,omitempty"`
	Score      float32 `json:"score"`
}

type Result struct {
	DocumentID  string       `json:"documentId"`
	Tags        []string     `json:"tags"`
	Category    string       `json:"category"`
	RelatedDocs []RelatedDoc `json:"relatedDocs"`
}

type Curator struct {
	engine engine.Engine
	docs   Documents
	index  Index
	cfg    Config
	graph  *pipeline.Graph[*state]
}

type state struct {
	documentID string
	doc        storage.Document
	tags       []string
	category   string
	related    []RelatedDoc
}

// New creates a Curator. index may be nil, in which case related documents
// are found by tag overlap only.
func New(e engine.Engine, docs Documents, index Index, cfg Config) *Curator {
	if cfg.MaxRelated <= 0 {
		cfg.MaxRelated = defaultMaxRelated
	}
	c := &Curator{engine: e, docs: docs, index: index, cfg: cfg}
	c.graph = pipeline.New(NodeLoadDocument,
		pipeline.Sequence[*state](NodeLoadDocument, NodeExtractTags, NodeCategorize, NodeFindRelated, NodePersistTags),
		pipeline.Node[*state]{Name: NodeLoadDocument, Fn: c.loadDocument},
		pipeline.Node[*state]{Name: NodeExtractTags, Fn: c.extractTags, Output: func(s *state) any { return map[string]any{"tags": s.tags} }},
		pipeline.Node[*state]{Name: NodeCategorize, Fn: c.categorize, Output: func(s *state) any { return map[string]any{"category": s.category} }},
		pipeline.Node[*state]{Name: NodeFindRelated, Fn: c.findRelated, Output: func(s *state) any { return map[string]any{"related": len(s.related)} }},
		pipeline.Node[*state]{Name: NodePersistTags, Fn: c.persistTags},
	)
	return c
}

// Run curates one document. Steps are reported through emit.
func (c *Curator) Run(ctx context.Context, documentID string, emit trace.Emitter) (Result, error) {
	st, err := c.graph.Run(ctx, &state{documentID: documentID, category: Uncategorized}, emit)
	if err != nil {
		return Result{}, err
	}
	return Result{
		DocumentID:  documentID,
		Tags:        st.tags,
		Category:    st.category,
		RelatedDocs: st.related,
	}, nil
}

func (c *Curator) loadDocument(_ context.Context, s *state, _ trace.Emitter) (*state, error) {
	doc, err := c.docs.GetDocument(s.documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return s, fmt.Errorf("%w: %s", ErrDocumentNotFound, s.documentID)
	}
	if err != nil {
		return s, fmt.Errorf("loading document %s: %w", s.documentID, err)
	}
	s.doc = doc
	return s, nil
}

func (c *Curator) extractTags(ctx context.Context, s *state, emit trace.Emitter) (*state, error) {
	var out struct {
		Tags []string `json:"tags"`
	}
	err := pipeline.ChatJSON(ctx, c.engine, c.cfg.Model, "tagModel", buildTagPrompt(s.doc.Title, s.doc.Content), tagSchema(), &out, emit)
	if err != nil {
		return s, err
	}
	s.tags = NormalizeTags(out.Tags)
	return s, nil
}

// categorize never fails the pipeline; any problem leaves the document
// uncategorized.
func (c *Curator) categorize(ctx context.Context, s *state, emit trace.Emitter) (*state, error) {
	s.category = Uncategorized
	if !c.cfg.CategorizeEnabled || len(s.tags) == 0 {
		return s, nil
	}

	var out struct {
		Category string `json:"category"`
	}
	err := pipeline.ChatJSON(ctx, c.engine, c.cfg.Model, "categoryModel", buildCategoryPrompt(s.doc.Title, s.tags, s.doc.Content), categorySchema(), &out, emit)
	if err != nil {
		slog.Warn("curator: categorization failed", "document_id", s.documentID, "error", err)
		return s, nil
	}
	if slices.Contains(Categories, out.Category) {
		s.category = out.Category
	}
	return s, nil
}

func (c *Curator) findRelated(ctx context.Context, s *state, _ trace.Emitter) (*state, error) {
	if c.index != nil {
		related, err := c.vectorRelated(ctx, s.doc)
		if err == nil && related != nil {
			s.related = related
			return s, nil
		}
		if err != nil {
			slog.Warn("curator: vector lookup failed, using tag overlap", "document_id", s.documentID, "error", err)
		}
	}

	related, err := c.tagOverlap(s.doc.ID, s.tags)
	if err != nil {
		return s, fmt.Errorf("finding related documents: %w", err)
	}
	s.related = related
	return s, nil
}

func (c *Curator) vectorRelated(ctx context.Context, doc storage.Document) ([]RelatedDoc, error) {
	if doc.VectorID == "" {
		if err := c.index.IndexDocuments(ctx, []storage.Document{doc}); err != nil {
			return nil, err
		}
	}
	hits, err := c.index.Related(ctx, doc.ID, c.cfg.MaxRelated)
	if err != nil || hits == nil {
		return nil, err
	}
	related := make([]RelatedDoc, 0, len(hits))
	for _, h := range hits {
		related = append(related, RelatedDoc{DocumentID: h.DocumentID, Score: h.Score})
	}
	return related, nil
}

// tagOverlap scores other documents by the fraction of tags they share.
// Ties keep the repository's newest-first order.
func (c *Curator) tagOverlap(docID string, tags []string) ([]RelatedDoc, error) {
	if len(tags) == 0 {
		return []RelatedDoc{}, nil
	}
	candidates, err := c.docs.ListDocumentsByTags(tags, 0)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	related := make([]RelatedDoc, 0, len(candidates))
	for _, d := range candidates {
		if d.ID == docID {
			continue
		}
		shared := 0
		for _, t := range d.Tags {
			if want[t] {
				shared++
			}
		}
		related = append(related, RelatedDoc{
			DocumentID: d.ID,
			Title:      d.Title,
			Score:      float32(shared) / float32(len(tags)),
		})
	}
	slices.SortStableFunc(related, func(a, b RelatedDoc) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(related) > c.cfg.MaxRelated {
		related = related[:c.cfg.MaxRelated]
	}
	return related, nil
}

func (c *Curator) persistTags(_ context.Context, s *state, _ trace.Emitter) (*state, error) {
	if len(s.tags) == 0 {
		return s, nil
	}
	if err := c.docs.SetDocumentTags(s.documentID, s.tags); err != nil {
		return s, fmt.Errorf("persisting tags: %w", err)
	}
	if err := c.docs.SetDocumentCategory(s.documentID, s.category); err != nil {
		return s, fmt.Errorf("persisting category: %w", err)
	}
	return s, nil
}
