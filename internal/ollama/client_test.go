package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	r := tagsResponse{}
	for _, n := range names {
		r.Models = append(r.Models, modelEntry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("qwen2.5:latest"))
	}))
	defer up.Close()
	if !New(up.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = false for live server")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()
	if New(down.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = true for closed server")
	}
}

func TestHasModel_MatchesWithoutTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("qwen2.5:latest", "nomic-embed-text:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.HasModel(context.Background(), "qwen2.5") {
		t.Error("HasModel(qwen2.5) = false")
	}
	if c.HasModel(context.Background(), "llama3.1") {
		t.Error("HasModel(llama3.1) = true")
	}
}

func TestChat_SendsSchemaAsFormat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: "assistant", Content: `{"tags":["go"]}`},
		})
	}))
	defer srv.Close()

	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"tags":     {Type: "array", Items: &SchemaProperty{Type: "string"}},
			"category": {Type: "string", Enum: []string{"paper", "note"}},
		},
		Required: []string{"tags"},
	}
	out, err := New(srv.URL).Chat(context.Background(), "qwen2.5", []Message{{Role: "user", Content: "tag this"}}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"tags":["go"]}` {
		t.Errorf("Chat = %q", out)
	}

	format, ok := got.Format.(map[string]any)
	if !ok {
		t.Fatalf("format = %T, want object", got.Format)
	}
	props := format["properties"].(map[string]any)
	tags := props["tags"].(map[string]any)
	if items := tags["items"].(map[string]any); items["type"] != "string" {
		t.Errorf("tags.items = %v", items)
	}
	if got.Stream {
		t.Error("stream = true, want false")
	}
}

func TestChatTools_ReturnsToolCalls(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[
			{"function":{"name":"searchWeb","arguments":{"query":"go generics","maxResults":3}}}
		]}}`))
	}))
	defer srv.Close()

	tools := []Tool{{
		Type: "function",
		Function: ToolFunction{
			Name:        "searchWeb",
			Description: "Search the web",
			Parameters: Schema{
				Type:       "object",
				Properties: map[string]SchemaProperty{"query": {Type: "string"}},
				Required:   []string{"query"},
			},
		},
	}}
	msg, err := New(srv.URL).ChatTools(context.Background(), "qwen2.5", []Message{{Role: "user", Content: "find"}}, tools)
	if err != nil {
		t.Fatalf("ChatTools: %v", err)
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Name != "searchWeb" {
		t.Errorf("request tools = %+v", got.Tools)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %+v, want 1", msg.ToolCalls)
	}
	call := msg.ToolCalls[0].Function
	if call.Name != "searchWeb" {
		t.Errorf("Name = %q", call.Name)
	}
	var args struct {
		Query      string `json:"query"`
		MaxResults int    `json:"maxResults"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		t.Fatalf("arguments: %v", err)
	}
	if args.Query != "go generics" || args.MaxResults != 3 {
		t.Errorf("args = %+v", args)
	}
}

func TestChat_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Chat(context.Background(), "m", nil, nil); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.5, 0.25}}})
	}))
	defer srv.Close()

	vec, err := New(srv.URL).Embed(context.Background(), "nomic-embed-text", "text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 || vec[1] != 0.25 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbed_EmptyEmbeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Embed(context.Background(), "m", "text"); err == nil {
		t.Error("expected error for empty embeddings")
	}
}

func TestPullModel_StreamsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "pulling manifest"})
		enc.Encode(PullProgress{Status: "downloading", Total: 10, Completed: 10})
	}))
	defer srv.Close()

	var statuses []string
	err := New(srv.URL).PullModel(context.Background(), "qwen2.5", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(statuses) != 2 {
		t.Errorf("statuses = %v", statuses)
	}
}
