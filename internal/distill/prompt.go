package distill

import (
	"fmt"
	"strings"

	"github.com/kalambet/curio/internal/engine"
	"github.com/kalambet/curio/internal/storage"
)

const systemPrompt = `You help a reader study their research notes. From the documents below, extract the key concepts and write flashcards for active recall. Return ONLY a JSON object that conforms to the provided schema.

Rules:
- At most 12 concepts. Each has a short name and a one or two sentence summary.
- At most 12 flashcards. Each question must be answerable from the documents alone.
- Do not invent facts that are not in the documents.`

func buildPrompt(docs []storage.Document) []engine.Message {
	var sb strings.Builder
	for i, d := range docs {
		content := d.Content
		if len(content) > maxDocChars {
			content = content[:maxDocChars] + "\n[truncated]"
		}
		fmt.Fprintf(&sb, "[Document %d] %s\n%s\n\n", i+1, d.Title, content)
	}
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: strings.TrimSpace(sb.String())},
	}
}

func distillSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"concepts": {
				Type:        "array",
				Description: "Key concepts, each an object with name and summary",
				Items:       &engine.SchemaProperty{Type: "object"},
			},
			"flashcards": {
				Type:        "array",
				Description: "Flashcards, each an object with question and answer",
				Items:       &engine.SchemaProperty{Type: "object"},
			},
		},
		Required: []string{"concepts", "flashcards"},
	}
}
