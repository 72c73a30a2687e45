// Package webscout implements a tool-using research agent that searches the
// web for resources matching a goal and proposes the good ones for review.
package webscout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/curio/internal/artifact"
	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/fetch"
	"github.com/kalambet/curio/internal/pipeline"
	"github.com/kalambet/curio/internal/search"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/trace"
)

// ErrNoGoal is returned when no goal is given and none can be derived from
// the vault.
var ErrNoGoal = errors.New("webscout: no research goal")

type Mode string

const (
	ModeGoal  Mode = "goal"
	ModeVault Mode = "vault"
)

const (
	ReasonSatisfied     = "satisfied"
	ReasonMaxQueries    = "max_queries"
	ReasonMaxIterations = "max_iterations"
)

const (
	NodeSetup    = "setup"
	NodeAgent    = "agent"
	NodeTools    = "tools"
	NodeFinalize = "finalize"
)

const (
	vaultContextDocs = 5
	dueSourceLimit   = 8
	goalTagCount     = 5
)

type Options struct {
	Goal      string   `json:"goal,omitempty"`
	Mode      Mode     `json:"mode,omitempty"`
	FocusTags []string `json:"focusTags,omitempty"`
	Day       string   `json:"day"`
	RunID     string   `json:"runId,omitempty"`

	MinQualityResults  int     `json:"minQualityResults,omitempty"`
	MinRelevanceScore  float64 `json:"minRelevanceScore,omitempty"`
	MaxIterations      int     `json:"maxIterations,omitempty"`
	MaxQueries         int     `json:"maxQueries,omitempty"`
	MaxResultsPerQuery int     `json:"maxResultsPerQuery,omitempty"`

	RestrictToWatchlistDomains bool `json:"restrictToWatchlistDomains,omitempty"`
	ImportToLibrary            bool `json:"importToLibrary,omitempty"`
}

// KeepAllResults as Options.MinRelevanceScore accepts every evaluated
// result. A zero MinRelevanceScore selects the default threshold.
const KeepAllResults = -1.0

// DefaultOptions returns the thresholds and ceilings used for zero fields.
func DefaultOptions() Options {
	return Options{
		Mode:               ModeGoal,
		MinQualityResults:  5,
		MinRelevanceScore:  0.6,
		MaxIterations:      6,
		MaxQueries:         8,
		MaxResultsPerQuery: 5,
	}
}

func (o Options) withDefaults(d Options) Options {
	if o.Mode == "" {
		o.Mode = d.Mode
	}
	if o.MinQualityResults <= 0 {
		o.MinQualityResults = d.MinQualityResults
	}
	switch {
	case o.MinRelevanceScore < 0:
		o.MinRelevanceScore = 0
	case o.MinRelevanceScore == 0:
		o.MinRelevanceScore = d.MinRelevanceScore
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.MaxQueries <= 0 {
		o.MaxQueries = d.MaxQueries
	}
	if o.MaxResultsPerQuery <= 0 {
		o.MaxResultsPerQuery = d.MaxResultsPerQuery
	}
	return o
}

type Result struct {
	Goal                string              `json:"goal"`
	TerminationReason   string              `json:"terminationReason"`
	Iterations          int                 `json:"iterations"`
	QueriesExecuted     int                 `json:"queriesExecuted"`
	ResultsEvaluated    int                 `json:"resultsEvaluated"`
	ProposalsCreated    int                 `json:"proposalsCreated"`
	DocumentsImported   int                 `json:"documentsImported"`
	DocumentsSkipped    int                 `json:"documentsSkipped"`
	Proposals           []artifact.Proposal `json:"proposals"`
	ArtifactIDs         []string            `json:"artifactIds"`
	ImportedDocumentIDs []string            `json:"importedDocumentIds,omitempty"`
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Page, error)
}

// Store is the slice of the repository the agent reads and writes.
type Store interface {
	TagCounts(limit int) ([]storage.TagCount, error)
	ListDocumentsByTags(tags []string, limit int) ([]storage.Document, error)
	ListRecentDocuments(limit int) ([]storage.Document, error)
	CheckoutDueSources(limit int) ([]storage.SourceWatchItem, error)
	FilterExistingSources(urls []string) ([]string, error)
	DocumentExists(sourceURL string) (bool, error)
	InsertDocument(title, source, content string) (storage.InsertResult, error)
	SetDocumentTags(id string, tags []string) error
	InsertArtifact(in storage.ArtifactInput) (string, error)
}

// Models names the model used for the tool-calling loop and the faster
// model used for evaluating and refining.
type Models struct {
	Agent string
	Eval  string
}

type Agent struct {
	engine   engine.Engine
	searcher Searcher
	fetcher  Fetcher
	store    Store
	models   Models
	defaults Options
}

func New(e engine.Engine, searcher Searcher, fetcher Fetcher, store Store, models Models) *Agent {
	if models.Eval == "" {
		models.Eval = models.Agent
	}
	return &Agent{
		engine:   e,
		searcher: searcher,
		fetcher:  fetcher,
		store:    store,
		models:   models,
		defaults: DefaultOptions(),
	}
}

// WithDefaults replaces the options applied to zero fields of each run.
func (a *Agent) WithDefaults(d Options) *Agent {
	a.defaults = d.withDefaults(DefaultOptions())
	return a
}

// candidate is a search result the agent judged relevant.
type candidate struct {
	URL         string
	Title       string
	Snippet     string
	Score       float64
	ContentType string
	Topics      []string
	Reasoning   string
}

type state struct {
	opts         Options
	goal         string
	messages     []engine.Message
	pending      []engine.ToolCall
	seen         map[string]search.Result
	quality      []candidate
	watchDomains []string
	reason       string

	iterations       int
	queriesExecuted  int
	resultsEvaluated int

	result Result
}

// uniqueQuality counts accepted results by distinct URL.
func (s *state) uniqueQuality() int {
	urls := make(map[string]bool, len(s.quality))
	for _, c := range s.quality {
		urls[c.URL] = true
	}
	return len(urls)
}

// stopReason returns the first stop condition that holds, in priority
// order, or "" to keep going.
func (s *state) stopReason() string {
	switch {
	case s.uniqueQuality() >= s.opts.MinQualityResults:
		return ReasonSatisfied
	case s.queriesExecuted >= s.opts.MaxQueries:
		return ReasonMaxQueries
	case s.iterations >= s.opts.MaxIterations:
		return ReasonMaxIterations
	}
	return ""
}

func route(s *state, last string) string {
	switch last {
	case NodeSetup:
		return NodeAgent
	case NodeAgent:
		if s.reason != "" {
			return NodeFinalize
		}
		return NodeTools
	case NodeTools:
		if s.reason != "" {
			return NodeFinalize
		}
		return NodeAgent
	}
	return pipeline.End
}

// Run executes one research session. The loop is bounded by
// opts.MaxIterations and opts.MaxQueries.
func (a *Agent) Run(ctx context.Context, opts Options, emit trace.Emitter) (Result, error) {
	opts = opts.withDefaults(a.defaults)

	g := pipeline.New(NodeSetup, route,
		pipeline.Node[*state]{Name: NodeSetup, Fn: a.setup, Output: func(s *state) any {
			return map[string]any{"goal": s.goal, "watchSourceDomains": s.watchDomains}
		}},
		pipeline.Node[*state]{Name: NodeAgent, Fn: a.agent, Output: func(s *state) any {
			return map[string]any{"toolCalls": len(s.pending), "reason": s.reason}
		}},
		pipeline.Node[*state]{Name: NodeTools, Fn: a.tools, Output: func(s *state) any {
			return map[string]int{
				"iterations":       s.iterations,
				"queriesExecuted":  s.queriesExecuted,
				"resultsEvaluated": s.resultsEvaluated,
				"qualityResults":   s.uniqueQuality(),
			}
		}},
		pipeline.Node[*state]{Name: NodeFinalize, Fn: a.finalize, Output: func(s *state) any {
			return map[string]any{"reason": s.reason, "proposals": s.result.ProposalsCreated}
		}},
	).WithMaxSteps(2*opts.MaxIterations + 3)

	st, err := g.Run(ctx, &state{opts: opts, seen: map[string]search.Result{}}, emit)
	if err != nil {
		return Result{}, err
	}
	return st.result, nil
}

func (a *Agent) setup(_ context.Context, s *state, _ trace.Emitter) (*state, error) {
	goal, err := a.resolveGoal(s.opts)
	if err != nil {
		return s, err
	}
	s.goal = goal

	var docs []storage.Document
	if len(s.opts.FocusTags) > 0 {
		docs, err = a.store.ListDocumentsByTags(s.opts.FocusTags, vaultContextDocs)
	} else {
		docs, err = a.store.ListRecentDocuments(vaultContextDocs)
	}
	if err != nil {
		return s, fmt.Errorf("loading vault context: %w", err)
	}

	sources, err := a.store.CheckoutDueSources(dueSourceLimit)
	if err != nil {
		return s, fmt.Errorf("checking out watch sources: %w", err)
	}
	seen := make(map[string]bool)
	for _, src := range sources {
		if !seen[src.Domain] {
			seen[src.Domain] = true
			s.watchDomains = append(s.watchDomains, src.Domain)
		}
	}

	s.messages = buildMessages(goal, docs, sources, s.opts)
	return s, nil
}

func (a *Agent) resolveGoal(opts Options) (string, error) {
	if goal := strings.TrimSpace(opts.Goal); goal != "" {
		return goal, nil
	}
	if opts.Mode != ModeVault {
		return "", ErrNoGoal
	}
	counts, err := a.store.TagCounts(goalTagCount)
	if err != nil {
		return "", fmt.Errorf("loading vault tags: %w", err)
	}
	if len(counts) == 0 {
		return "", ErrNoGoal
	}
	tags := make([]string, len(counts))
	for i, c := range counts {
		tags[i] = c.Tag
	}
	return "Find new, high-quality resources that deepen the reader's knowledge of: " + strings.Join(tags, ", "), nil
}

func (a *Agent) agent(ctx context.Context, s *state, emit trace.Emitter) (*state, error) {
	prompt := 0
	for _, m := range s.messages {
		prompt += engine.EstimateTokens(m.Content)
	}
	emit.Emit(trace.Step{Type: trace.TypeLLM, Name: "agentModel", Status: trace.StatusRunning, TokenEstimate: prompt})

	msg, err := a.engine.ChatTools(ctx, a.models.Agent, s.messages, toolDefs())
	if err != nil {
		emit.Emit(trace.Step{Type: trace.TypeLLM, Name: "agentModel", Status: trace.StatusError, Error: err.Error()})
		return s, fmt.Errorf("agent model: %w", err)
	}
	emit.Emit(trace.Step{
		Type:          trace.TypeLLM,
		Name:          "agentModel",
		Status:        trace.StatusOK,
		Output:        trace.JSON(map[string]any{"content": msg.Content, "toolCalls": msg.ToolCalls}),
		TokenEstimate: engine.EstimateTokens(msg.Content),
	})

	if msg.Role == "" {
		msg.Role = "assistant"
	}
	s.messages = append(s.messages, msg)
	s.pending = msg.ToolCalls

	if len(s.pending) == 0 {
		s.reason = s.stopReason()
		if s.reason == "" {
			s.reason = ReasonSatisfied
		}
	}
	return s, nil
}

func (a *Agent) tools(ctx context.Context, s *state, emit trace.Emitter) (*state, error) {
	for _, call := range s.pending {
		s.messages = append(s.messages, a.executeTool(ctx, s, call, emit))
	}
	s.pending = nil
	s.iterations++
	s.reason = s.stopReason()
	return s, nil
}

func (a *Agent) finalize(ctx context.Context, s *state, _ trace.Emitter) (*state, error) {
	res := Result{
		Goal:              s.goal,
		TerminationReason: s.reason,
		Iterations:        s.iterations,
		QueriesExecuted:   s.queriesExecuted,
		ResultsEvaluated:  s.resultsEvaluated,
		Proposals:         []artifact.Proposal{},
		ArtifactIDs:       []string{},
	}

	refs, err := artifact.Encode(artifact.ProposalRefs{Goal: s.goal, WatchSourceDomains: s.watchDomains})
	if err != nil {
		return s, fmt.Errorf("encoding proposal refs: %w", err)
	}

	for _, c := range dedupeByURL(s.quality) {
		p := artifact.Proposal{
			URL:            c.URL,
			Title:          c.Title,
			Summary:        c.Snippet,
			RelevanceScore: c.Score,
			ContentType:    c.ContentType,
			Topics:         c.Topics,
			Reasoning:      c.Reasoning,
		}
		id, err := a.storeProposal(s, p, refs)
		if err != nil {
			slog.Warn("webscout: failed to store proposal", "url", p.URL, "error", err)
			continue
		}
		res.Proposals = append(res.Proposals, p)
		res.ArtifactIDs = append(res.ArtifactIDs, id)
	}
	res.ProposalsCreated = len(res.Proposals)

	if s.opts.ImportToLibrary {
		a.importProposals(ctx, res.Proposals, &res)
	}

	s.result = res
	return s, nil
}

func (a *Agent) storeProposal(s *state, p artifact.Proposal, refs string) (string, error) {
	content, err := artifact.Encode(p)
	if err != nil {
		return "", err
	}
	title := p.Title
	if title == "" {
		title = p.URL
	}
	return a.store.InsertArtifact(storage.ArtifactInput{
		RunID:      s.opts.RunID,
		Agent:      artifact.AgentWebScout,
		Kind:       artifact.KindWebProposal,
		Day:        s.opts.Day,
		Title:      title,
		Content:    content,
		SourceRefs: refs,
	})
}

// dedupeByURL keeps the first candidate for each URL.
func dedupeByURL(in []candidate) []candidate {
	seen := make(map[string]bool, len(in))
	out := make([]candidate, 0, len(in))
	for _, c := range in {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	return out
}
