package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/curio/internal/artifact"
	"github.com/kalambet/curio/internal/distill"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/trace"
	"github.com/kalambet/curio/internal/webscout"
)

const (
	StageCurate   = "curate"
	StageWebScout = "webScout"
	StageDistill  = "distill"
)

// StageError records one failed item inside a multi-item flow.
type StageError struct {
	Stage      string `json:"stage"`
	DocumentID string `json:"documentId,omitempty"`
	Message    string `json:"message"`
}

type TopicReportInput struct {
	// Topics names the topics to research. Empty means every catalog topic.
	Topics          []string         `json:"topics,omitempty"`
	Day             string           `json:"day,omitempty"`
	MaxDocsPerTopic int              `json:"maxDocsPerTopic,omitempty"`
	SkipReport      bool             `json:"skipReport,omitempty"`
	WebScout        webscout.Options `json:"webScout,omitempty"`
}

type TopicResult struct {
	Topic             string              `json:"topic"`
	DocsMatched       int                 `json:"docsMatched"`
	DocsCurated       int                 `json:"docsCurated"`
	DocsCurateFailed  int                 `json:"docsCurateFailed"`
	ProposalsCreated  int                 `json:"proposalsCreated"`
	DocumentsImported int                 `json:"documentsImported"`
	Concepts          int                 `json:"concepts"`
	Flashcards        int                 `json:"flashcards"`
	Proposals         []artifact.Proposal `json:"proposals,omitempty"`
	Errors            []StageError        `json:"errors"`
}

type Totals struct {
	Topics            int `json:"topics"`
	TopicsWithErrors  int `json:"topicsWithErrors"`
	DocsCurated       int `json:"docsCurated"`
	DocsCurateFailed  int `json:"docsCurateFailed"`
	ProposalsCreated  int `json:"proposalsCreated"`
	DocumentsImported int `json:"documentsImported"`
	Concepts          int `json:"concepts"`
	Flashcards        int `json:"flashcards"`
}

type TopicReportResult struct {
	Day      string            `json:"day"`
	Status   storage.RunStatus `json:"status"`
	Topics   []TopicResult     `json:"topics"`
	Totals   Totals            `json:"totals"`
	ReportID string            `json:"reportId,omitempty"`
	Report   string            `json:"report"`
}

// TopicReportFlow researches each topic in a new research run. Item failures
// are collected per topic and make the run partial; only a request with no
// resolvable topics fails the run.
func (o *Orchestrator) TopicReportFlow(ctx context.Context, in TopicReportInput) (string, TopicReportResult, error) {
	runID, err := o.store.CreateRun(storage.RunKindResearch)
	if err != nil {
		return "", TopicReportResult{}, fmt.Errorf("creating run: %w", err)
	}
	res, err := o.runTopicReport(ctx, runID, in)
	return runID, res, err
}

func (o *Orchestrator) runTopicReport(ctx context.Context, runID string, in TopicReportInput) (TopicReportResult, error) {
	if in.Day == "" {
		in.Day = o.today()
	}
	if in.MaxDocsPerTopic <= 0 {
		in.MaxDocsPerTopic = defaultDocumentLimit
	}

	return execute(o, runID, "topicReportFlow", in, func(emit trace.Emitter) (TopicReportResult, storage.RunStatus, error) {
		topics, err := o.resolveTopics(in.Topics)
		if err != nil {
			return TopicReportResult{}, "", err
		}

		res := TopicReportResult{Day: in.Day, Status: storage.RunStatusOK}
		for _, topic := range topics {
			tr := o.researchTopic(ctx, runID, topic, in, emit)
			res.Topics = append(res.Topics, tr)
			if len(tr.Errors) > 0 {
				res.Status = storage.RunStatusPartial
			}
		}
		res.Totals = totals(res.Topics)
		res.Report = renderReport(res)

		if !in.SkipReport {
			refs := trace.JSON(map[string]any{"runId": runID, "topics": topicNames(topics)})
			id, err := o.store.InsertReport(in.Day, reportTitle(topics), res.Report, refs)
			if err != nil {
				return TopicReportResult{}, "", fmt.Errorf("saving report: %w", err)
			}
			res.ReportID = id
		}
		return res, res.Status, nil
	})
}

// resolveTopics maps names to catalog topics, falling back to a vault tag of
// the same name. Names that match neither are dropped.
func (o *Orchestrator) resolveTopics(names []string) ([]Topic, error) {
	if len(names) == 0 {
		if len(o.catalog.Topics) == 0 {
			return nil, ErrNoTopics
		}
		return o.catalog.Topics, nil
	}

	var topics []Topic
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if t, ok := o.catalog.Lookup(name); ok {
			topics = append(topics, t)
			continue
		}
		tag := strings.ToLower(name)
		docs, err := o.store.ListDocumentsByTag(tag, 1)
		if err != nil {
			return nil, fmt.Errorf("resolving topic %q: %w", name, err)
		}
		if len(docs) > 0 {
			topics = append(topics, Topic{Name: name, Tags: []string{tag}})
			continue
		}
		o.logger.Info("dropping unresolvable topic", "topic", name)
	}
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	return topics, nil
}

// researchTopic curates the topic's documents one by one, runs one web
// research session and one distill pass. Failures are recorded, never
// returned.
func (o *Orchestrator) researchTopic(ctx context.Context, runID string, topic Topic, in TopicReportInput, emit trace.Emitter) TopicResult {
	tr := TopicResult{Topic: topic.Name, Errors: []StageError{}}
	emit.Emit(trace.Step{Type: trace.TypeFlow, Name: "topic", Status: trace.StatusRunning, Input: trace.JSON(topic)})

	docs, err := o.store.ListDocumentsByTags(topic.Tags, in.MaxDocsPerTopic)
	if err != nil {
		tr.Errors = append(tr.Errors, StageError{Stage: StageCurate, Message: err.Error()})
	}
	tr.DocsMatched = len(docs)

	for _, d := range docs {
		if _, err := o.curator.Run(ctx, d.ID, emit); err != nil {
			tr.DocsCurateFailed++
			tr.Errors = append(tr.Errors, StageError{Stage: StageCurate, DocumentID: d.ID, Message: err.Error()})
			continue
		}
		tr.DocsCurated++
	}

	distillIDs := documentIDs(docs)

	opts := in.WebScout
	opts.Goal = topic.Goal
	if opts.Goal == "" {
		opts.Goal = "Find new, high-quality resources about " + topic.Name
	}
	opts.Mode = webscout.ModeGoal
	opts.FocusTags = topic.Tags
	opts.Day = in.Day
	opts.RunID = runID
	if scouted, err := o.scout.Run(ctx, opts, emit); err != nil {
		tr.Errors = append(tr.Errors, StageError{Stage: StageWebScout, Message: err.Error()})
	} else {
		tr.ProposalsCreated = scouted.ProposalsCreated
		tr.DocumentsImported = scouted.DocumentsImported
		tr.Proposals = scouted.Proposals
		distillIDs = append(distillIDs, scouted.ImportedDocumentIDs...)
	}

	if len(distillIDs) > 0 {
		distilled, err := o.distiller.Run(ctx, distill.Request{DocumentIDs: distillIDs, Day: in.Day, RunID: runID}, emit)
		if err != nil {
			tr.Errors = append(tr.Errors, StageError{Stage: StageDistill, Message: err.Error()})
		} else {
			tr.Concepts = len(distilled.Concepts)
			tr.Flashcards = len(distilled.Flashcards)
		}
	}

	status := trace.StatusOK
	if len(tr.Errors) > 0 {
		status = trace.StatusError
	}
	emit.Emit(trace.Step{Type: trace.TypeFlow, Name: "topic", Status: status, Output: trace.JSON(tr)})
	return tr
}

func totals(topics []TopicResult) Totals {
	t := Totals{Topics: len(topics)}
	for _, tr := range topics {
		if len(tr.Errors) > 0 {
			t.TopicsWithErrors++
		}
		t.DocsCurated += tr.DocsCurated
		t.DocsCurateFailed += tr.DocsCurateFailed
		t.ProposalsCreated += tr.ProposalsCreated
		t.DocumentsImported += tr.DocumentsImported
		t.Concepts += tr.Concepts
		t.Flashcards += tr.Flashcards
	}
	return t
}

func topicNames(topics []Topic) []string {
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.Name
	}
	return names
}

type DistillCurateInput struct {
	DocumentSelector
	Day string `json:"day,omitempty"`
}

type DistillCurateResult struct {
	DocumentIDs []string       `json:"documentIds"`
	Distill     distill.Result `json:"distill"`
	DocsCurated int            `json:"docsCurated"`
	Errors      []StageError   `json:"errors"`
}

// DistillCurateFlow distills the selected documents once, then curates each
// of them. Item failures are returned in Errors; the run still ends ok.
func (o *Orchestrator) DistillCurateFlow(ctx context.Context, in DistillCurateInput) (string, DistillCurateResult, error) {
	runID, err := o.store.CreateRun(storage.RunKindDistill)
	if err != nil {
		return "", DistillCurateResult{}, fmt.Errorf("creating run: %w", err)
	}
	res, err := o.runDistillCurate(ctx, runID, in)
	return runID, res, err
}

func (o *Orchestrator) runDistillCurate(ctx context.Context, runID string, in DistillCurateInput) (DistillCurateResult, error) {
	if in.Day == "" {
		in.Day = o.today()
	}
	return execute(o, runID, "distillCurateFlow", in, func(emit trace.Emitter) (DistillCurateResult, storage.RunStatus, error) {
		docs, err := o.selectDocuments(in.DocumentSelector)
		if err != nil {
			return DistillCurateResult{}, "", err
		}

		res := DistillCurateResult{DocumentIDs: documentIDs(docs), Errors: []StageError{}}
		distilled, err := o.distiller.Run(ctx, distill.Request{DocumentIDs: res.DocumentIDs, Day: in.Day, RunID: runID}, emit)
		if err != nil {
			res.Errors = append(res.Errors, StageError{Stage: StageDistill, Message: err.Error()})
		} else {
			res.Distill = distilled
		}

		for _, d := range docs {
			if _, err := o.curator.Run(ctx, d.ID, emit); err != nil {
				res.Errors = append(res.Errors, StageError{Stage: StageCurate, DocumentID: d.ID, Message: err.Error()})
				continue
			}
			res.DocsCurated++
		}
		return res, storage.RunStatusOK, nil
	})
}
