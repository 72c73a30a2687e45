package pipeline

import (
	"context"
	"fmt"

	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/trace"
)

// ChatJSON runs one structured chat call and decodes the reply into v. The
// call is recorded as an llm step named name.
func ChatJSON(ctx context.Context, e engine.Engine, model, name string, messages []engine.Message, schema *engine.Schema, v any, emit trace.Emitter) error {
	prompt := 0
	for _, m := range messages {
		prompt += engine.EstimateTokens(m.Content)
	}
	emit.Emit(trace.Step{
		Type:          trace.TypeLLM,
		Name:          name,
		Status:        trace.StatusRunning,
		Input:         trace.JSON(map[string]any{"model": model, "messages": len(messages)}),
		TokenEstimate: prompt,
	})

	raw, err := e.Chat(ctx, model, messages, schema)
	if err == nil {
		err = engine.DecodeJSON(raw, v)
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", name, err)
		emit.Emit(trace.Step{Type: trace.TypeLLM, Name: name, Status: trace.StatusError, Error: err.Error()})
		return err
	}

	emit.Emit(trace.Step{
		Type:          trace.TypeLLM,
		Name:          name,
		Status:        trace.StatusOK,
		Output:        trace.JSON(v),
		TokenEstimate: engine.EstimateTokens(raw),
	})
	return nil
}
