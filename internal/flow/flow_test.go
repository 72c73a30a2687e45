package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalambet/curio/internal/artifact"
	"github.com/kalambet/curio/internal/curator"
	"github.com/kalambet/curio/internal/distill"
	"github.com/kalambet/curio/internal/jobs"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/trace"
	"github.com/kalambet/curio/internal/webscout"
)

type fakeCurator struct {
	calls []string
	fail  map[string]bool
	tags  []string
	panic bool
}

func (f *fakeCurator) Run(_ context.Context, documentID string, emit trace.Emitter) (curator.Result, error) {
	f.calls = append(f.calls, documentID)
	if f.panic {
		panic("curator exploded")
	}
	emit.Emit(trace.Step{Type: trace.TypeAgent, Name: "curator", Status: trace.StatusRunning})
	if f.fail[documentID] {
		emit.Emit(trace.Step{Type: trace.TypeAgent, Name: "curator", Status: trace.StatusError, Error: "tag model down"})
		return curator.Result{}, errors.New("tag model down")
	}
	emit.Emit(trace.Step{Type: trace.TypeAgent, Name: "curator", Status: trace.StatusOK})
	return curator.Result{DocumentID: documentID, Tags: f.tags, Category: curator.Uncategorized}, nil
}

type fakeDistiller struct {
	requests []distill.Request
	err      error
}

func (f *fakeDistiller) Run(_ context.Context, req distill.Request, _ trace.Emitter) (distill.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return distill.Result{}, f.err
	}
	return distill.Result{
		DocumentIDs: req.DocumentIDs,
		Concepts:    []artifact.Concept{{Name: "c1"}, {Name: "c2"}},
		Flashcards:  []artifact.Flashcard{{Question: "q", Answer: "a"}},
	}, nil
}

type fakeScout struct {
	calls  []webscout.Options
	failOn string
	result webscout.Result
}

func (f *fakeScout) Run(_ context.Context, opts webscout.Options, _ trace.Emitter) (webscout.Result, error) {
	f.calls = append(f.calls, opts)
	if len(opts.FocusTags) > 0 && opts.FocusTags[0] == f.failOn {
		return webscout.Result{}, errors.New("search backend unavailable")
	}
	return f.result, nil
}

type harness struct {
	store     *storage.Store
	curator   *fakeCurator
	distiller *fakeDistiller
	scout     *fakeScout
	orch      *Orchestrator
}

func newHarness(t *testing.T, catalog Catalog) *harness {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := &harness{
		store:     s,
		curator:   &fakeCurator{fail: map[string]bool{}},
		distiller: &fakeDistiller{},
		scout:     &fakeScout{},
	}
	h.orch = New(s, h.curator, h.distiller, h.scout, catalog)
	h.orch.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return h
}

func (h *harness) addDoc(t *testing.T, title string, tags ...string) string {
	t.Helper()
	res, err := h.store.InsertDocument(title, "", "content of "+title)
	require.NoError(t, err)
	if len(tags) > 0 {
		require.NoError(t, h.store.SetDocumentTags(res.ID, tags))
	}
	return res.ID
}

func (h *harness) trace(t *testing.T, runID string) *storage.RunTrace {
	t.Helper()
	tr, err := h.store.GetRunTrace(runID)
	require.NoError(t, err)
	require.NotNil(t, tr)
	return tr
}

func requireFlowBookends(t *testing.T, tr *storage.RunTrace, name, last string) {
	t.Helper()
	require.NotEmpty(t, tr.Steps)
	first, end := tr.Steps[0], tr.Steps[len(tr.Steps)-1]
	require.Equal(t, "flow", first.Type)
	require.Equal(t, name, first.Name)
	require.Equal(t, "running", first.Status)
	require.Equal(t, "flow", end.Type)
	require.Equal(t, name, end.Name)
	require.Equal(t, last, end.Status)
}

func TestCurateFlow_ZeroTagsIsOK(t *testing.T) {
	h := newHarness(t, Catalog{})
	id := h.addDoc(t, "Empty note")

	runID, res, err := h.orch.CurateFlow(context.Background(), CurateInput{DocumentID: id})
	require.NoError(t, err)
	require.Empty(t, res.Tags)

	tr := h.trace(t, runID)
	require.Equal(t, storage.RunKindCurate, tr.Run.Kind)
	require.Equal(t, storage.RunStatusOK, tr.Run.Status)
	require.NotNil(t, tr.Run.EndedAt)
	requireFlowBookends(t, tr, "curateFlow", "ok")
	require.Len(t, tr.Steps, 4)
}

func TestDistillFlow_ErrorFinishesRun(t *testing.T) {
	h := newHarness(t, Catalog{})
	h.addDoc(t, "A", "go")
	h.distiller.err = errors.New("distill: model returned invalid JSON")

	runID, _, err := h.orch.DistillFlow(context.Background(), DistillInput{DocumentSelector: DocumentSelector{Tag: "go"}})
	require.Error(t, err)

	tr := h.trace(t, runID)
	require.Equal(t, storage.RunStatusError, tr.Run.Status)
	requireFlowBookends(t, tr, "distillFlow", "error")
	require.Contains(t, tr.Steps[len(tr.Steps)-1].Error, "invalid JSON")

	require.Len(t, h.distiller.requests, 1)
	require.Equal(t, "2026-03-01", h.distiller.requests[0].Day)
	require.Equal(t, runID, h.distiller.requests[0].RunID)
}

func TestDistillFlow_NoDocuments(t *testing.T) {
	h := newHarness(t, Catalog{})

	runID, _, err := h.orch.DistillFlow(context.Background(), DistillInput{DocumentSelector: DocumentSelector{Tag: "nothing"}})
	require.ErrorIs(t, err, ErrNoDocuments)
	require.Equal(t, storage.RunStatusError, h.trace(t, runID).Run.Status)
	require.Empty(t, h.distiller.requests)
}

func TestSelectDocuments_Precedence(t *testing.T) {
	h := newHarness(t, Catalog{})
	a := h.addDoc(t, "A", "go")
	b := h.addDoc(t, "B", "rust")
	c := h.addDoc(t, "C")

	docs, err := h.orch.selectDocuments(DocumentSelector{DocumentIDs: []string{b}, Tag: "go"})
	require.NoError(t, err)
	require.Equal(t, []string{b}, documentIDs(docs))

	docs, err = h.orch.selectDocuments(DocumentSelector{Tag: "go"})
	require.NoError(t, err)
	require.Equal(t, []string{a}, documentIDs(docs))

	docs, err = h.orch.selectDocuments(DocumentSelector{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{c}, documentIDs(docs))
}

func TestWebScoutFlow_StampsRunAndDay(t *testing.T) {
	h := newHarness(t, Catalog{})
	h.scout.result = webscout.Result{Goal: "g", TerminationReason: webscout.ReasonSatisfied}

	runID, res, err := h.orch.WebScoutFlow(context.Background(), webscout.Options{Goal: "g"})
	require.NoError(t, err)
	require.Equal(t, webscout.ReasonSatisfied, res.TerminationReason)
	require.Len(t, h.scout.calls, 1)
	require.Equal(t, runID, h.scout.calls[0].RunID)
	require.Equal(t, "2026-03-01", h.scout.calls[0].Day)
	require.Equal(t, storage.RunKindWebScout, h.trace(t, runID).Run.Kind)
}

func TestTopicReportFlow_PartialWhenOneTopicFails(t *testing.T) {
	catalog := Catalog{Topics: []Topic{
		{Name: "alpha", Tags: []string{"alpha"}},
		{Name: "beta", Tags: []string{"beta"}, Goal: "Find beta papers"},
	}}
	h := newHarness(t, catalog)
	a1 := h.addDoc(t, "Alpha one", "alpha")
	a2 := h.addDoc(t, "Alpha two", "alpha")
	b1 := h.addDoc(t, "Beta one", "beta")
	h.scout.failOn = "alpha"
	h.scout.result = webscout.Result{
		ProposalsCreated:    1,
		DocumentsImported:   1,
		Proposals:           []artifact.Proposal{{URL: "https://beta.example.com", Title: "Beta", RelevanceScore: 0.9}},
		ImportedDocumentIDs: []string{"imported-1"},
	}

	runID, res, err := h.orch.TopicReportFlow(context.Background(), TopicReportInput{})
	require.NoError(t, err)
	require.Equal(t, storage.RunStatusPartial, res.Status)
	require.Len(t, res.Topics, 2)

	alpha, beta := res.Topics[0], res.Topics[1]
	require.Equal(t, 2, alpha.DocsCurated)
	require.Len(t, alpha.Errors, 1)
	require.Equal(t, StageWebScout, alpha.Errors[0].Stage)
	require.Equal(t, 2, alpha.Concepts)

	require.Empty(t, beta.Errors)
	require.Equal(t, 1, beta.ProposalsCreated)
	require.Equal(t, 1, beta.DocumentsImported)

	require.Equal(t, 1, res.Totals.TopicsWithErrors)
	require.Equal(t, 3, res.Totals.DocsCurated)
	require.Equal(t, 4, res.Totals.Concepts)

	require.ElementsMatch(t, []string{a1, a2, b1}, h.curator.calls)
	require.Len(t, h.scout.calls, 2)
	require.Equal(t, "Find beta papers", h.scout.calls[1].Goal)
	require.Equal(t, []string{b1, "imported-1"}, h.distiller.requests[1].DocumentIDs)

	tr := h.trace(t, runID)
	require.Equal(t, storage.RunKindResearch, tr.Run.Kind)
	require.Equal(t, storage.RunStatusPartial, tr.Run.Status)
	requireFlowBookends(t, tr, "topicReportFlow", "ok")

	require.NotEmpty(t, res.ReportID)
	report, err := h.store.GetReport(res.ReportID)
	require.NoError(t, err)
	require.Equal(t, res.Report, report.Content)
	require.Equal(t, "2026-03-01", report.Day)
	require.Contains(t, report.SourceRefs, runID)
	require.Contains(t, report.Content, "search backend unavailable")
}

func TestTopicReportFlow_CurateFailuresRecorded(t *testing.T) {
	h := newHarness(t, Catalog{})
	good := h.addDoc(t, "Good", "go")
	bad := h.addDoc(t, "Bad", "go")
	h.curator.fail[bad] = true

	_, res, err := h.orch.TopicReportFlow(context.Background(), TopicReportInput{Topics: []string{"Go"}, SkipReport: true})
	require.NoError(t, err)
	require.Equal(t, storage.RunStatusPartial, res.Status)
	require.Empty(t, res.ReportID)

	tr := res.Topics[0]
	require.Equal(t, "Go", tr.Topic)
	require.Equal(t, 1, tr.DocsCurated)
	require.Equal(t, 1, tr.DocsCurateFailed)
	require.Equal(t, []StageError{{Stage: StageCurate, DocumentID: bad, Message: "tag model down"}}, tr.Errors)
	require.ElementsMatch(t, []string{good, bad}, h.distiller.requests[0].DocumentIDs)
}

func TestTopicReportFlow_NoTopics(t *testing.T) {
	h := newHarness(t, Catalog{})

	runID, _, err := h.orch.TopicReportFlow(context.Background(), TopicReportInput{Topics: []string{"unknown", " "}})
	require.ErrorIs(t, err, ErrNoTopics)
	require.Equal(t, storage.RunStatusError, h.trace(t, runID).Run.Status)

	_, _, err = h.orch.TopicReportFlow(context.Background(), TopicReportInput{})
	require.ErrorIs(t, err, ErrNoTopics)
}

func TestTopicReportFlow_SkipsDistillWithoutDocuments(t *testing.T) {
	h := newHarness(t, Catalog{Topics: []Topic{{Name: "empty", Tags: []string{"empty"}}}})

	_, res, err := h.orch.TopicReportFlow(context.Background(), TopicReportInput{SkipReport: true})
	require.NoError(t, err)
	require.Equal(t, storage.RunStatusOK, res.Status)
	require.Empty(t, h.distiller.requests)
	require.Len(t, h.scout.calls, 1)
}

func TestDistillCurateFlow_RecordsDistillFailure(t *testing.T) {
	h := newHarness(t, Catalog{})
	a := h.addDoc(t, "A", "go")
	b := h.addDoc(t, "B", "go")
	h.distiller.err = errors.New("ollama unreachable")

	runID, res, err := h.orch.DistillCurateFlow(context.Background(), DistillCurateInput{DocumentSelector: DocumentSelector{Tag: "go"}})
	require.NoError(t, err)
	require.Equal(t, 2, res.DocsCurated)
	require.Len(t, res.Errors, 1)
	require.Equal(t, StageDistill, res.Errors[0].Stage)
	require.ElementsMatch(t, []string{a, b}, h.curator.calls)
	require.Equal(t, storage.RunStatusOK, h.trace(t, runID).Run.Status)
}

func TestStartCurateFlow_RunsThroughWorker(t *testing.T) {
	h := newHarness(t, Catalog{})
	id := h.addDoc(t, "A")
	h.curator.tags = []string{"golang"}

	runID, err := h.orch.StartCurateFlow(CurateInput{DocumentID: id})
	require.NoError(t, err)

	run, err := h.store.GetRun(runID)
	require.NoError(t, err)
	require.Equal(t, storage.RunStatusRunning, run.Status)
	require.Empty(t, h.curator.calls)

	w := jobs.NewWorker(h.store, 0, 1)
	w.Handle(jobs.TypeFlowRun, h.orch.HandleJob)
	didWork, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, didWork)

	require.Equal(t, []string{id}, h.curator.calls)
	tr := h.trace(t, runID)
	require.Equal(t, storage.RunStatusOK, tr.Run.Status)
	requireFlowBookends(t, tr, "curateFlow", "ok")
}

func TestHandleJob_PanicFinishesRun(t *testing.T) {
	h := newHarness(t, Catalog{})
	id := h.addDoc(t, "A")
	h.curator.panic = true

	runID, err := h.orch.StartCurateFlow(CurateInput{DocumentID: id})
	require.NoError(t, err)

	w := jobs.NewWorker(h.store, 0, 1)
	w.Handle(jobs.TypeFlowRun, h.orch.HandleJob)
	didWork, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, didWork)

	run, err := h.store.GetRun(runID)
	require.NoError(t, err)
	require.Equal(t, storage.RunStatusError, run.Status)
}

func TestHandleJob_BadPayloads(t *testing.T) {
	h := newHarness(t, Catalog{})
	ctx := context.Background()

	require.Error(t, h.orch.HandleJob(ctx, json.RawMessage(`{`)))
	require.Error(t, h.orch.HandleJob(ctx, json.RawMessage(`{"flow":"curate"}`)))

	runID, err := h.store.CreateRun(storage.RunKindDistill)
	require.NoError(t, err)
	err = h.orch.HandleJob(ctx, json.RawMessage(`{"runId":"`+runID+`","flow":"nope"}`))
	require.ErrorContains(t, err, "unknown flow")
	run, _ := h.store.GetRun(runID)
	require.Equal(t, storage.RunStatusError, run.Status)

	runID, _ = h.store.CreateRun(storage.RunKindCurate)
	err = h.orch.HandleJob(ctx, json.RawMessage(`{"runId":"`+runID+`","flow":"curate","input":{"documentId":7}}`))
	require.ErrorContains(t, err, "decoding flow input")
	run, _ = h.store.GetRun(runID)
	require.Equal(t, storage.RunStatusError, run.Status)
}

func TestRenderReport_Deterministic(t *testing.T) {
	res := TopicReportResult{
		Day: "2026-03-01",
		Topics: []TopicResult{
			{Topic: "alpha", DocsCurated: 1, Proposals: []artifact.Proposal{
				{URL: "https://a.example.com", Title: "A", RelevanceScore: 0.7},
				{URL: "https://shared.example.com", Title: "Shared", RelevanceScore: 0.9},
			}},
			{Topic: "beta", Proposals: []artifact.Proposal{
				{URL: "https://shared.example.com", Title: "Shared again", RelevanceScore: 0.9},
				{URL: "https://b.example.com", RelevanceScore: 0.8},
			}},
		},
	}
	res.Totals = totals(res.Topics)

	first := renderReport(res)
	require.Equal(t, first, renderReport(res))
	require.True(t, strings.HasPrefix(first, "# Research report for 2026-03-01\n"))
	require.Contains(t, first, "Researched 2 topics. Curated 1 document")
	require.Contains(t, first, "1. [Shared](https://shared.example.com) (relevance 0.90)")
	require.Contains(t, first, "2. [https://b.example.com](https://b.example.com) (relevance 0.80)")
	require.Contains(t, first, "3. [A](https://a.example.com) (relevance 0.70)")
	require.NotContains(t, first, "Shared again")
}

func TestReportTitle(t *testing.T) {
	require.Equal(t, "Research report: a, b", reportTitle([]Topic{{Name: "a"}, {Name: "b"}}))
	require.Equal(t, "Research report: a, b, c and 2 more",
		reportTitle([]Topic{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"}}))
}
