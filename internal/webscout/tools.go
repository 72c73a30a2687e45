package webscout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/pipeline"
	"github.com/kalambet/curio/internal/search"
	"github.com/kalambet/curio/internal/trace"
)

const (
	ToolSearchWeb           = "searchWeb"
	ToolCheckVaultDuplicate = "checkVaultDuplicate"
	ToolEvaluateResult      = "evaluateResult"
	ToolRefineQuery         = "refineQuery"
)

func toolDefs() []engine.Tool {
	str := engine.SchemaProperty{Type: "string"}
	return []engine.Tool{
		{
			Name:        ToolSearchWeb,
			Description: "Search the web. Returns a list of results with url, title and snippet.",
			Parameters: engine.Schema{
				Type: "object",
				Properties: map[string]engine.SchemaProperty{
					"query":          {Type: "string", Description: "Search query"},
					"maxResults":     {Type: "integer", Description: "Maximum number of results"},
					"includeDomains": {Type: "array", Description: "Only return results from these domains", Items: &str},
					"excludeDomains": {Type: "array", Description: "Never return results from these domains", Items: &str},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolCheckVaultDuplicate,
			Description: "Check which URLs are already saved in the reader's vault.",
			Parameters: engine.Schema{
				Type: "object",
				Properties: map[string]engine.SchemaProperty{
					"urls": {Type: "array", Description: "URLs to check", Items: &str},
				},
				Required: []string{"urls"},
			},
		},
		{
			Name:        ToolEvaluateResult,
			Description: "Judge how relevant a search result is to the goal. Relevant results are kept as proposals.",
			Parameters: engine.Schema{
				Type: "object",
				Properties: map[string]engine.SchemaProperty{
					"url":     {Type: "string"},
					"title":   {Type: "string"},
					"snippet": {Type: "string"},
					"goal":    {Type: "string"},
				},
				Required: []string{"url", "title", "snippet"},
			},
		},
		{
			Name:        ToolRefineQuery,
			Description: "Rewrite a search query that returned poor results.",
			Parameters: engine.Schema{
				Type: "object",
				Properties: map[string]engine.SchemaProperty{
					"goal":          {Type: "string"},
					"originalQuery": {Type: "string"},
					"feedback":      {Type: "string", Description: "What was wrong with the results"},
				},
				Required: []string{"originalQuery", "feedback"},
			},
		},
	}
}

// executeTool runs one tool call and returns the tool message fed back to the
// model. Failures become an {"error": ...} payload.
func (a *Agent) executeTool(ctx context.Context, s *state, call engine.ToolCall, emit trace.Emitter) engine.Message {
	emit.Emit(trace.Step{Type: trace.TypeTool, Name: call.Name, Status: trace.StatusRunning, Input: string(call.Arguments)})

	out, err := a.dispatch(ctx, s, call, emit)
	if err != nil {
		emit.Emit(trace.Step{Type: trace.TypeTool, Name: call.Name, Status: trace.StatusError, Error: err.Error()})
		return engine.Message{Role: "tool", ToolName: call.Name, Content: trace.JSON(map[string]string{"error": err.Error()})}
	}

	content := trace.JSON(out)
	emit.Emit(trace.Step{Type: trace.TypeTool, Name: call.Name, Status: trace.StatusOK, Output: content})
	return engine.Message{Role: "tool", ToolName: call.Name, Content: content}
}

func (a *Agent) dispatch(ctx context.Context, s *state, call engine.ToolCall, emit trace.Emitter) (any, error) {
	switch call.Name {
	case ToolSearchWeb:
		var args searchArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return a.searchWeb(ctx, s, args)
	case ToolCheckVaultDuplicate:
		var args struct {
			URLs []string `json:"urls"`
		}
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return a.checkVaultDuplicate(args.URLs)
	case ToolEvaluateResult:
		var args evaluateArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return a.evaluateResult(ctx, s, args, emit)
	case ToolRefineQuery:
		var args refineArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return a.refineQuery(ctx, s, args, emit)
	}
	return nil, fmt.Errorf("unknown tool %q", call.Name)
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	// Some models send the arguments object as a JSON string.
	var str string
	if json.Unmarshal(raw, &str) == nil {
		raw = json.RawMessage(str)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

type searchArgs struct {
	Query          string   `json:"query"`
	MaxResults     int      `json:"maxResults"`
	IncludeDomains []string `json:"includeDomains"`
	ExcludeDomains []string `json:"excludeDomains"`
}

type searchHit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

func (a *Agent) searchWeb(ctx context.Context, s *state, args searchArgs) (any, error) {
	if s.queriesExecuted >= s.opts.MaxQueries {
		return nil, fmt.Errorf("query budget exhausted (%d of %d used)", s.queriesExecuted, s.opts.MaxQueries)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	s.queriesExecuted++

	include := args.IncludeDomains
	if s.opts.RestrictToWatchlistDomains && len(s.watchDomains) > 0 {
		include = s.watchDomains
	}
	limit := args.MaxResults
	if limit <= 0 || limit > s.opts.MaxResultsPerQuery {
		limit = s.opts.MaxResultsPerQuery
	}

	results, err := a.searcher.Search(ctx, search.Query{
		Text:           args.Query,
		MaxResults:     limit,
		IncludeDomains: include,
		ExcludeDomains: args.ExcludeDomains,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		s.seen[r.URL] = r
		hits = append(hits, searchHit{URL: r.URL, Title: r.Title, Snippet: r.Snippet})
	}
	return map[string]any{"results": hits}, nil
}

func (a *Agent) checkVaultDuplicate(urls []string) (any, error) {
	existing, err := a.store.FilterExistingSources(urls)
	if err != nil {
		return nil, fmt.Errorf("checking vault: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, u := range existing {
		known[u] = true
	}
	fresh := []string{}
	for _, u := range urls {
		if !known[u] {
			fresh = append(fresh, u)
		}
	}
	if existing == nil {
		existing = []string{}
	}
	return map[string]any{"existing": existing, "new": fresh}, nil
}

type evaluateArgs struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Goal    string `json:"goal"`
}

type evaluation struct {
	RelevanceScore float64  `json:"relevanceScore"`
	ContentType    string   `json:"contentType"`
	Topics         []string `json:"topics"`
	Reasoning      string   `json:"reasoning"`
}

func (a *Agent) evaluateResult(ctx context.Context, s *state, args evaluateArgs, emit trace.Emitter) (any, error) {
	if args.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if args.Goal == "" {
		args.Goal = s.goal
	}
	if hit, ok := s.seen[args.URL]; ok {
		if args.Title == "" {
			args.Title = hit.Title
		}
		if args.Snippet == "" {
			args.Snippet = hit.Snippet
		}
	}

	var ev evaluation
	if err := pipeline.ChatJSON(ctx, a.engine, a.models.Eval, "evaluateModel", buildEvaluatePrompt(args), evaluationSchema(), &ev, emit); err != nil {
		return nil, err
	}
	s.resultsEvaluated++

	ev.RelevanceScore = clamp01(ev.RelevanceScore)
	accepted := ev.RelevanceScore >= s.opts.MinRelevanceScore
	if accepted {
		s.quality = append(s.quality, candidate{
			URL:         args.URL,
			Title:       args.Title,
			Snippet:     args.Snippet,
			Score:       ev.RelevanceScore,
			ContentType: ev.ContentType,
			Topics:      ev.Topics,
			Reasoning:   ev.Reasoning,
		})
	}
	return map[string]any{
		"relevanceScore": ev.RelevanceScore,
		"contentType":    ev.ContentType,
		"topics":         ev.Topics,
		"reasoning":      ev.Reasoning,
		"accepted":       accepted,
		"qualityResults": s.uniqueQuality(),
	}, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

type refineArgs struct {
	Goal          string `json:"goal"`
	OriginalQuery string `json:"originalQuery"`
	Feedback      string `json:"feedback"`
}

func (a *Agent) refineQuery(ctx context.Context, s *state, args refineArgs, emit trace.Emitter) (any, error) {
	if args.Goal == "" {
		args.Goal = s.goal
	}
	var out struct {
		Query string `json:"query"`
	}
	if err := pipeline.ChatJSON(ctx, a.engine, a.models.Eval, "refineModel", buildRefinePrompt(args), refineSchema(), &out, emit); err != nil {
		return nil, err
	}
	q := strings.TrimSpace(out.Query)
	if q == "" {
		return nil, fmt.Errorf("model returned an empty query")
	}
	return map[string]string{"query": q}, nil
}
