// Package flow runs agents as recorded runs. Each flow creates a run,
// forwards every step its agents emit into the run trace and finishes the
// run exactly once.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/curio/internal/curator"
	"github.com/kalambet/curio/internal/distill"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/trace"
	"github.com/kalambet/curio/internal/webscout"
)

var (
	// ErrNoTopics is returned when a topic report request resolves no topics.
	ErrNoTopics = errors.New("flow: no resolvable topics")
	// ErrNoDocuments is returned when a flow's document selection is empty.
	ErrNoDocuments = errors.New("flow: no documents selected")
)

const defaultDocumentLimit = 10

// Store is the persistence the orchestrator needs.
type Store interface {
	CreateRun(kind storage.RunKind) (string, error)
	AppendStep(runID string, step storage.RunStep) error
	FinishRun(runID string, status storage.RunStatus) error
	InsertReport(day, title, content, sourceRefs string) (string, error)
	ListDocumentsByTag(tag string, limit int) ([]storage.Document, error)
	ListDocumentsByTags(tags []string, limit int) ([]storage.Document, error)
	ListDocumentsByIDs(ids []string) ([]storage.Document, error)
	ListRecentDocuments(limit int) ([]storage.Document, error)
	EnqueueJob(job storage.Job) error
}

type Curator interface {
	Run(ctx context.Context, documentID string, emit trace.Emitter) (curator.Result, error)
}

type Distiller interface {
	Run(ctx context.Context, req distill.Request, emit trace.Emitter) (distill.Result, error)
}

type Scout interface {
	Run(ctx context.Context, opts webscout.Options, emit trace.Emitter) (webscout.Result, error)
}

// Orchestrator owns the flows. Agents are injected once per process.
type Orchestrator struct {
	store     Store
	curator   Curator
	distiller Distiller
	scout     Scout
	catalog   Catalog
	now       func() time.Time
	logger    *slog.Logger
}

func New(store Store, c Curator, d Distiller, s Scout, catalog Catalog) *Orchestrator {
	return &Orchestrator{
		store:     store,
		curator:   c,
		distiller: d,
		scout:     s,
		catalog:   catalog,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

func (o *Orchestrator) today() string {
	return o.now().Format("2006-01-02")
}

// recorder returns an Emitter that appends every step to the run trace.
// Trace writes are best effort and never fail the flow.
func (o *Orchestrator) recorder(runID string) trace.Emitter {
	return func(s trace.Step) {
		err := o.store.AppendStep(runID, storage.RunStep{
			Type:          string(s.Type),
			Name:          s.Name,
			Status:        string(s.Status),
			Input:         s.Input,
			Output:        s.Output,
			Error:         s.Error,
			TokenEstimate: s.TokenEstimate,
		})
		if err != nil {
			o.logger.Warn("failed to append run step", "run_id", runID, "step", s.Name, "error", err)
		}
	}
}

func (o *Orchestrator) finish(runID string, status storage.RunStatus) {
	if err := o.store.FinishRun(runID, status); err != nil {
		o.logger.Error("failed to finish run", "run_id", runID, "status", status, "error", err)
	}
}

// execute wraps a flow body with its flow-level running and ok/error steps
// and finishes the run with the status the body reports.
func execute[T any](o *Orchestrator, runID, name string, input any, body func(emit trace.Emitter) (T, storage.RunStatus, error)) (T, error) {
	emit := o.recorder(runID)
	emit.Emit(trace.Step{Type: trace.TypeFlow, Name: name, Status: trace.StatusRunning, Input: trace.JSON(input)})

	out, status, err := body(emit)
	if err != nil {
		emit.Emit(trace.Step{Type: trace.TypeFlow, Name: name, Status: trace.StatusError, Error: err.Error()})
		o.finish(runID, storage.RunStatusError)
		var zero T
		return zero, err
	}

	emit.Emit(trace.Step{Type: trace.TypeFlow, Name: name, Status: trace.StatusOK, Output: trace.JSON(out)})
	o.finish(runID, status)
	return out, nil
}

// DocumentSelector picks documents by explicit ids, else by tag, else the
// most recent Limit documents.
type DocumentSelector struct {
	DocumentIDs []string `json:"documentIds,omitempty"`
	Tag         string   `json:"tag,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

func (o *Orchestrator) selectDocuments(sel DocumentSelector) ([]storage.Document, error) {
	limit := sel.Limit
	if limit <= 0 {
		limit = defaultDocumentLimit
	}

	var docs []storage.Document
	var err error
	switch {
	case len(sel.DocumentIDs) > 0:
		docs, err = o.store.ListDocumentsByIDs(sel.DocumentIDs)
	case sel.Tag != "":
		docs, err = o.store.ListDocumentsByTag(sel.Tag, limit)
	default:
		docs, err = o.store.ListRecentDocuments(limit)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	return docs, nil
}

func documentIDs(docs []storage.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

type DistillInput struct {
	DocumentSelector
	Day string `json:"day,omitempty"`
}

type CurateInput struct {
	DocumentID string `json:"documentId"`
}

// DistillFlow distills the selected documents in a new distill run.
func (o *Orchestrator) DistillFlow(ctx context.Context, in DistillInput) (string, distill.Result, error) {
	runID, err := o.store.CreateRun(storage.RunKindDistill)
	if err != nil {
		return "", distill.Result{}, fmt.Errorf("creating run: %w", err)
	}
	res, err := o.runDistill(ctx, runID, in)
	return runID, res, err
}

func (o *Orchestrator) runDistill(ctx context.Context, runID string, in DistillInput) (distill.Result, error) {
	if in.Day == "" {
		in.Day = o.today()
	}
	return execute(o, runID, "distillFlow", in, func(emit trace.Emitter) (distill.Result, storage.RunStatus, error) {
		docs, err := o.selectDocuments(in.DocumentSelector)
		if err != nil {
			return distill.Result{}, "", err
		}
		res, err := o.distiller.Run(ctx, distill.Request{DocumentIDs: documentIDs(docs), Day: in.Day, RunID: runID}, emit)
		return res, storage.RunStatusOK, err
	})
}

// CurateFlow curates one document in a new curate run.
func (o *Orchestrator) CurateFlow(ctx context.Context, in CurateInput) (string, curator.Result, error) {
	runID, err := o.store.CreateRun(storage.RunKindCurate)
	if err != nil {
		return "", curator.Result{}, fmt.Errorf("creating run: %w", err)
	}
	res, err := o.runCurate(ctx, runID, in)
	return runID, res, err
}

func (o *Orchestrator) runCurate(ctx context.Context, runID string, in CurateInput) (curator.Result, error) {
	return execute(o, runID, "curateFlow", in, func(emit trace.Emitter) (curator.Result, storage.RunStatus, error) {
		res, err := o.curator.Run(ctx, in.DocumentID, emit)
		return res, storage.RunStatusOK, err
	})
}

// WebScoutFlow runs one research session in a new webScout run.
func (o *Orchestrator) WebScoutFlow(ctx context.Context, opts webscout.Options) (string, webscout.Result, error) {
	runID, err := o.store.CreateRun(storage.RunKindWebScout)
	if err != nil {
		return "", webscout.Result{}, fmt.Errorf("creating run: %w", err)
	}
	res, err := o.runWebScout(ctx, runID, opts)
	return runID, res, err
}

func (o *Orchestrator) runWebScout(ctx context.Context, runID string, opts webscout.Options) (webscout.Result, error) {
	if opts.Day == "" {
		opts.Day = o.today()
	}
	opts.RunID = runID
	return execute(o, runID, "webScoutFlow", opts, func(emit trace.Emitter) (webscout.Result, storage.RunStatus, error) {
		res, err := o.scout.Run(ctx, opts, emit)
		return res, storage.RunStatusOK, err
	})
}
