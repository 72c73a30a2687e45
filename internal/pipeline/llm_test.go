package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/trace"
)

type chatEngine struct {
	engine.Engine
	reply string
	err   error
}

func (c *chatEngine) Chat(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
	return c.reply, c.err
}

func TestChatJSON_DecodesAndEmits(t *testing.T) {
	e := &chatEngine{reply: "```json\n{\"tags\":[\"go\"]}\n```"}
	var out struct {
		Tags []string `json:"tags"`
	}
	var steps []trace.Step

	err := ChatJSON(context.Background(), e, "m", "extractTags", []engine.Message{{Role: "user", Content: "hello world"}}, nil, &out, trace.Collect(&steps))
	if err != nil {
		t.Fatalf("ChatJSON: %v", err)
	}
	if len(out.Tags) != 1 || out.Tags[0] != "go" {
		t.Errorf("Tags = %v", out.Tags)
	}
	if len(steps) != 2 || steps[0].Status != trace.StatusRunning || steps[1].Status != trace.StatusOK {
		t.Fatalf("steps = %+v", steps)
	}
	if steps[0].Type != trace.TypeLLM || steps[1].Output != `{"tags":["go"]}` {
		t.Errorf("ok step = %+v", steps[1])
	}
}

func TestChatJSON_Errors(t *testing.T) {
	tests := []struct {
		name string
		e    *chatEngine
	}{
		{"transport", &chatEngine{err: errors.New("connection refused")}},
		{"malformed", &chatEngine{reply: "no json here"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var steps []trace.Step
			var out map[string]any
			err := ChatJSON(context.Background(), tt.e, "m", "categorize", nil, nil, &out, trace.Collect(&steps))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), "categorize:") {
				t.Errorf("error = %v", err)
			}
			if len(steps) != 2 || steps[1].Status != trace.StatusError {
				t.Errorf("steps = %+v", steps)
			}
		})
	}
}
