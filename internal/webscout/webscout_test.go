package webscout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalambet/curio/internal/artifact"
	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/fetch"
	"github.com/kalambet/curio/internal/search"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/trace"
)

const day = "2026-03-01"

// scriptedEngine plays back model turns and scores evaluated URLs from a table.
type scriptedEngine struct {
	engine.Engine
	turn   func(i int) engine.Message
	scores map[string]float64
	calls  int
	last   []engine.Message
}

func (e *scriptedEngine) ChatTools(_ context.Context, _ string, msgs []engine.Message, tools []engine.Tool) (engine.Message, error) {
	e.last = append([]engine.Message(nil), msgs...)
	i := e.calls
	e.calls++
	return e.turn(i), nil
}

func (e *scriptedEngine) Chat(_ context.Context, _ string, msgs []engine.Message, schema *engine.Schema) (string, error) {
	if _, ok := schema.Properties["query"]; ok {
		return `{"query":"refined query"}`, nil
	}
	var url string
	for _, line := range strings.Split(msgs[len(msgs)-1].Content, "\n") {
		if strings.HasPrefix(line, "URL: ") {
			url = strings.TrimPrefix(line, "URL: ")
		}
	}
	return fmt.Sprintf(`{"relevanceScore":%v,"contentType":"article","topics":["Go Concurrency","x"],"reasoning":"fits"}`, e.scores[url]), nil
}

type fakeSearcher struct {
	queries []search.Query
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) ([]search.Result, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return []search.Result{
		{URL: "https://a.example.com", Title: "A", Snippet: "about a"},
		{URL: "https://b.example.com", Title: "B", Snippet: "about b"},
	}, nil
}

type fakeFetcher struct {
	pages map[string]fetch.Page
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (fetch.Page, error) {
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return fetch.Page{}, fetch.ErrTooShort
}

func call(name string, args any) engine.ToolCall {
	raw, _ := json.Marshal(args)
	return engine.ToolCall{Name: name, Arguments: raw}
}

func toolTurn(calls ...engine.ToolCall) engine.Message {
	return engine.Message{Role: "assistant", ToolCalls: calls}
}

func done() engine.Message {
	return engine.Message{Role: "assistant", Content: "done"}
}

func script(turns ...engine.Message) func(int) engine.Message {
	return func(i int) engine.Message {
		if i < len(turns) {
			return turns[i]
		}
		return done()
	}
}

func evaluate(url string) engine.ToolCall {
	return call(ToolEvaluateResult, map[string]string{"url": url, "title": "T " + url, "snippet": "s"})
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newAgent(t *testing.T, e engine.Engine, s *fakeSearcher, f *fakeFetcher) (*Agent, *storage.Store) {
	t.Helper()
	store := openTestStore(t)
	if f == nil {
		f = &fakeFetcher{}
	}
	return New(e, s, f, store, Models{Agent: "deep", Eval: "fast"}), store
}

func TestRun_SatisfiedDedupesProposals(t *testing.T) {
	e := &scriptedEngine{
		scores: map[string]float64{"https://a.example.com": 0.9, "https://b.example.com": 0.8, "https://c.example.com": 0.2},
		turn: script(
			toolTurn(call(ToolSearchWeb, map[string]any{"query": "go scheduler"})),
			toolTurn(evaluate("https://a.example.com"), evaluate("https://a.example.com"), evaluate("https://c.example.com"), evaluate("https://b.example.com")),
		),
	}
	agent, store := newAgent(t, e, &fakeSearcher{}, nil)

	res, err := agent.Run(context.Background(), Options{Goal: "learn the go scheduler", Day: day, MinQualityResults: 2}, nil)
	require.NoError(t, err)

	require.Equal(t, ReasonSatisfied, res.TerminationReason)
	require.Equal(t, 2, res.Iterations)
	require.Equal(t, 1, res.QueriesExecuted)
	require.Equal(t, 4, res.ResultsEvaluated)
	require.Equal(t, 2, res.ProposalsCreated)
	require.Len(t, res.Proposals, 2)
	require.Len(t, res.ArtifactIDs, 2)
	require.Equal(t, "https://a.example.com", res.Proposals[0].URL)
	require.Equal(t, "https://b.example.com", res.Proposals[1].URL)

	inbox, err := store.ListInboxArtifacts(day)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	require.Equal(t, artifact.AgentWebScout, inbox[0].Agent)
	require.Equal(t, artifact.KindWebProposal, inbox[0].Kind)

	refs := artifact.ProposalRefs{}
	require.NoError(t, json.Unmarshal([]byte(inbox[0].SourceRefs), &refs))
	require.Equal(t, "learn the go scheduler", refs.Goal)
}

func TestRun_QueryBudgetIsStrict(t *testing.T) {
	e := &scriptedEngine{turn: func(int) engine.Message {
		return toolTurn(
			call(ToolSearchWeb, map[string]any{"query": "one"}),
			call(ToolSearchWeb, map[string]any{"query": "two"}),
		)
	}}
	s := &fakeSearcher{}
	agent, _ := newAgent(t, e, s, nil)

	res, err := agent.Run(context.Background(), Options{Goal: "g", Day: day, MaxQueries: 3, MaxIterations: 10}, nil)
	require.NoError(t, err)
	require.Equal(t, ReasonMaxQueries, res.TerminationReason)
	require.Equal(t, 3, res.QueriesExecuted)
	require.Len(t, s.queries, 3)
	require.Equal(t, 2, res.Iterations)
}

func TestRun_QueryBudgetErrorReachesModel(t *testing.T) {
	e := &scriptedEngine{turn: script(
		toolTurn(
			call(ToolSearchWeb, map[string]any{"query": "one"}),
			call(ToolSearchWeb, map[string]any{"query": "two"}),
		),
	)}
	s := &fakeSearcher{}
	agent, _ := newAgent(t, e, s, nil)

	var steps []trace.Step
	res, err := agent.Run(context.Background(), Options{Goal: "g", Day: day, MaxQueries: 1, MaxIterations: 10}, trace.Collect(&steps))
	require.NoError(t, err)
	require.Equal(t, 1, res.QueriesExecuted)
	require.Len(t, s.queries, 1)
	require.Equal(t, ReasonMaxQueries, res.TerminationReason)

	var toolErrors int
	for _, st := range steps {
		if st.Type == trace.TypeTool && st.Status == trace.StatusError {
			toolErrors++
			require.Contains(t, st.Error, "query budget exhausted")
		}
	}
	require.Equal(t, 1, toolErrors)
}

func TestRun_MaxIterations(t *testing.T) {
	e := &scriptedEngine{turn: func(int) engine.Message {
		return toolTurn(call(ToolRefineQuery, map[string]string{"originalQuery": "q", "feedback": "too broad"}))
	}}
	agent, _ := newAgent(t, e, &fakeSearcher{}, nil)

	res, err := agent.Run(context.Background(), Options{Goal: "g", Day: day, MaxIterations: 2}, nil)
	require.NoError(t, err)
	require.Equal(t, ReasonMaxIterations, res.TerminationReason)
	require.Equal(t, 2, res.Iterations)
	require.Zero(t, res.QueriesExecuted)
	require.Equal(t, 2, e.calls)
}

func TestRun_StopPriority(t *testing.T) {
	e := &scriptedEngine{
		scores: map[string]float64{"https://a.example.com": 1},
		turn: script(toolTurn(
			call(ToolSearchWeb, map[string]any{"query": "q"}),
			evaluate("https://a.example.com"),
		)),
	}
	agent, _ := newAgent(t, e, &fakeSearcher{}, nil)

	res, err := agent.Run(context.Background(), Options{Goal: "g", Day: day, MinQualityResults: 1, MaxQueries: 1, MaxIterations: 1}, nil)
	require.NoError(t, err)
	require.Equal(t, ReasonSatisfied, res.TerminationReason)
}

func TestRun_NoToolCalls(t *testing.T) {
	e := &scriptedEngine{turn: script()}
	agent, store := newAgent(t, e, &fakeSearcher{}, nil)

	res, err := agent.Run(context.Background(), Options{Goal: "g", Day: day}, nil)
	require.NoError(t, err)
	require.Equal(t, ReasonSatisfied, res.TerminationReason)
	require.Zero(t, res.Iterations)
	require.Zero(t, res.ProposalsCreated)
	require.Empty(t, res.Proposals)

	counts, err := store.CountArtifactsByStatus(day)
	require.NoError(t, err)
	require.Zero(t, counts[storage.ArtifactProposed])
}

func TestRun_ToolFailuresBecomeToolMessages(t *testing.T) {
	e := &scriptedEngine{turn: script(
		toolTurn(
			call("deleteEverything", map[string]any{}),
			engine.ToolCall{Name: ToolSearchWeb, Arguments: json.RawMessage(`{"query": 5}`)},
			call(ToolSearchWeb, map[string]any{"query": "q"}),
		),
	)}
	s := &fakeSearcher{err: errors.New("search provider down")}
	agent, _ := newAgent(t, e, s, nil)

	res, err := agent.Run(context.Background(), Options{Goal: "g", Day: day}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Iterations)

	var toolMsgs []engine.Message
	for _, m := range e.last {
		if m.Role == "tool" {
			toolMsgs = append(toolMsgs, m)
		}
	}
	require.Len(t, toolMsgs, 3)
	require.Contains(t, toolMsgs[0].Content, `unknown tool`)
	require.Contains(t, toolMsgs[1].Content, `invalid arguments`)
	require.Contains(t, toolMsgs[2].Content, `search provider down`)
	for _, m := range toolMsgs {
		require.True(t, strings.HasPrefix(m.Content, `{"error":`), m.Content)
	}
}

func TestRun_RestrictToWatchlistDomains(t *testing.T) {
	e := &scriptedEngine{turn: func(i int) engine.Message {
		if i%2 == 0 {
			return toolTurn(call(ToolSearchWeb, map[string]any{"query": "q", "includeDomains": []string{"other.org"}}))
		}
		return done()
	}}
	s := &fakeSearcher{}
	agent, store := newAgent(t, e, s, nil)
	_, err := store.AddWatchSource("https://www.go.dev/blog", "Go blog", "", 24)
	require.NoError(t, err)

	_, err = agent.Run(context.Background(), Options{Goal: "g", Day: day, RestrictToWatchlistDomains: true}, nil)
	require.NoError(t, err)
	require.Len(t, s.queries, 1)
	require.Equal(t, []string{"go.dev"}, s.queries[0].IncludeDomains)
	require.Contains(t, e.last[0].Content, "https://www.go.dev/blog")

	// The source was claimed by the first run.
	_, err = agent.Run(context.Background(), Options{Goal: "g", Day: day, RestrictToWatchlistDomains: true}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"other.org"}, s.queries[1].IncludeDomains)
}

func TestRun_VaultModeGoal(t *testing.T) {
	e := &scriptedEngine{turn: script()}
	agent, store := newAgent(t, e, &fakeSearcher{}, nil)

	_, err := agent.Run(context.Background(), Options{Mode: ModeVault, Day: day}, nil)
	require.ErrorIs(t, err, ErrNoGoal)

	doc, err := store.InsertDocument("Raft", "", "consensus")
	require.NoError(t, err)
	require.NoError(t, store.SetDocumentTags(doc.ID, []string{"consensus", "raft"}))

	res, err := agent.Run(context.Background(), Options{Mode: ModeVault, Day: day}, nil)
	require.NoError(t, err)
	require.Contains(t, res.Goal, "consensus")
	require.Contains(t, e.last[0].Content, "Raft")
}

func TestRun_ImportToLibrary(t *testing.T) {
	e := &scriptedEngine{
		scores: map[string]float64{"https://a.example.com": 0.9, "https://b.example.com": 0.9, "https://c.example.com": 0.9},
		turn: script(toolTurn(
			evaluate("https://a.example.com"),
			evaluate("https://b.example.com"),
			evaluate("https://c.example.com"),
		)),
	}
	f := &fakeFetcher{pages: map[string]fetch.Page{
		"https://a.example.com": {Title: "Page A", Text: "the content of page a"},
		"https://c.example.com": {Title: "Page C", Text: "the content of page c"},
	}}
	agent, store := newAgent(t, e, &fakeSearcher{}, f)
	_, err := store.InsertDocument("Known", "https://c.example.com", "already saved")
	require.NoError(t, err)

	res, err := agent.Run(context.Background(), Options{Goal: "g", Day: day, MinQualityResults: 3, ImportToLibrary: true}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.ProposalsCreated)
	require.Equal(t, 1, res.DocumentsImported)
	require.Equal(t, 2, res.DocumentsSkipped)
	require.Len(t, res.ImportedDocumentIDs, 1)

	doc, err := store.GetDocument(res.ImportedDocumentIDs[0])
	require.NoError(t, err)
	require.Equal(t, "Page A", doc.Title)
	require.Equal(t, []string{"go concurrency"}, doc.Tags)
}

// failingStore rejects artifacts whose content mentions failURL.
type failingStore struct {
	*storage.Store
	failURL string
}

func (s *failingStore) InsertArtifact(in storage.ArtifactInput) (string, error) {
	if strings.Contains(in.Content, s.failURL) {
		return "", errors.New("disk full")
	}
	return s.Store.InsertArtifact(in)
}

func TestRun_FailedProposalInsertIsSkipped(t *testing.T) {
	e := &scriptedEngine{
		scores: map[string]float64{"https://a.example.com": 0.9, "https://b.example.com": 0.8},
		turn: script(toolTurn(
			evaluate("https://a.example.com"),
			evaluate("https://b.example.com"),
		)),
	}
	store := openTestStore(t)
	agent := New(e, &fakeSearcher{}, &fakeFetcher{}, &failingStore{Store: store, failURL: "a.example.com"}, Models{Agent: "deep", Eval: "fast"})

	res, err := agent.Run(context.Background(), Options{Goal: "g", Day: day, MinQualityResults: 2}, nil)
	require.NoError(t, err)
	require.Equal(t, ReasonSatisfied, res.TerminationReason)
	require.Equal(t, 1, res.ProposalsCreated)
	require.Len(t, res.ArtifactIDs, 1)
	require.Len(t, res.Proposals, 1)
	require.Equal(t, "https://b.example.com", res.Proposals[0].URL)

	inbox, err := store.ListInboxArtifacts(day)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, res.ArtifactIDs[0], inbox[0].ID)
}

func TestRun_KeepAllResultsAcceptsZeroScores(t *testing.T) {
	e := &scriptedEngine{
		scores: map[string]float64{"https://a.example.com": 0},
		turn:   script(toolTurn(evaluate("https://a.example.com"))),
	}
	agent, _ := newAgent(t, e, &fakeSearcher{}, nil)

	res, err := agent.Run(context.Background(), Options{Goal: "g", Day: day, MinQualityResults: 1, MinRelevanceScore: KeepAllResults}, nil)
	require.NoError(t, err)
	require.Equal(t, ReasonSatisfied, res.TerminationReason)
	require.Equal(t, 1, res.ProposalsCreated)
}
