package webscout

import (
	"fmt"
	"strings"

	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/storage"
)

const agentSystemPrompt = `You are WebScout, a research assistant that finds new web resources for a reader's personal knowledge vault.

Goal: %s

Work in small steps using the tools:
1. searchWeb to find candidates. You have %d searches in total.
2. checkVaultDuplicate to skip URLs the reader already saved.
3. evaluateResult on each promising, new result. Results scoring at least %.2f are kept.
4. refineQuery when a search returns nothing useful.

Stop calling tools once %d good results are kept or nothing better can be found.`

func buildMessages(goal string, docs []storage.Document, sources []storage.SourceWatchItem, opts Options) []engine.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, agentSystemPrompt, goal, opts.MaxQueries, opts.MinRelevanceScore, opts.MinQualityResults)

	if len(docs) > 0 {
		sb.WriteString("\n\n[Already in the vault, do not propose these again]")
		for _, d := range docs {
			if d.Source != "" {
				fmt.Fprintf(&sb, "\n- %s (%s)", d.Title, d.Source)
			} else {
				fmt.Fprintf(&sb, "\n- %s", d.Title)
			}
		}
	}

	if len(sources) > 0 {
		sb.WriteString("\n\n[Watched sources due for a check, search these first]")
		for _, src := range sources {
			label := src.Label
			if label == "" {
				label = src.Domain
			}
			fmt.Fprintf(&sb, "\n- %s: %s", label, src.URL)
		}
		if opts.RestrictToWatchlistDomains {
			sb.WriteString("\nSearches are restricted to these domains.")
		}
	}

	return []engine.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: "Find resources for this goal: " + goal},
	}
}

const evaluateSystemPrompt = `You judge whether a web resource helps a reader reach a research goal. Return ONLY a JSON object that conforms to the provided schema.

- relevanceScore: 0.0 (unrelated) to 1.0 (exactly what the goal asks for)
- contentType: one of article, paper, tutorial, reference, video, tool, news, other
- topics: up to five short topic tags
- reasoning: one sentence`

func buildEvaluatePrompt(args evaluateArgs) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: evaluateSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Goal: %s\n\nURL: %s\nTitle: %s\nSnippet: %s", args.Goal, args.URL, args.Title, args.Snippet)},
	}
}

func evaluationSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"relevanceScore": {Type: "number"},
			"contentType":    {Type: "string"},
			"topics":         {Type: "array", Items: &engine.SchemaProperty{Type: "string"}},
			"reasoning":      {Type: "string"},
		},
		Required: []string{"relevanceScore", "contentType", "topics", "reasoning"},
	}
}

const refineSystemPrompt = `You improve web search queries. Given a research goal, a query and feedback about its results, return ONLY a JSON object {"query": "..."} with a better query.`

func buildRefinePrompt(args refineArgs) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: refineSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Goal: %s\nOriginal query: %s\nFeedback: %s", args.Goal, args.OriginalQuery, args.Feedback)},
	}
}

func refineSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"query": {Type: "string"},
		},
		Required: []string{"query"},
	}
}
