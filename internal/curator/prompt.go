package curator

import (
	"fmt"
	"strings"

	"github.com/kalambet/curio/internal/engine"
)

// maxPromptChars bounds the document excerpt sent to the model.
const maxPromptChars = 6000

const tagSystemPrompt = `You are a librarian tagging documents in a personal research vault. Read the document and return ONLY a JSON object that conforms to the provided schema.

Rules:
- Return at most 10 tags.
- Each tag is a short topic of one to three words, such as "distributed systems" or "rust".
- Prefer specific technologies, concepts and fields over generic words like "article" or "overview".`

const categorySystemPrompt = `You classify documents in a personal research vault. Return ONLY a JSON object with a single "category" field.

Pick exactly one category:
- article: long-form writing or essay
- paper: academic or research paper
- tutorial: step-by-step guide
- reference: documentation or specification
- note: personal or short note
- news: report of a recent event or release
- opinion: argument or commentary
- tool: description of a software tool or library`

func excerpt(content string) string {
	if len(content) <= maxPromptChars {
		return content
	}
	return content[:maxPromptChars] + "\n[truncated]"
}

func buildTagPrompt(title, content string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: tagSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Title: %s\n\n%s", title, excerpt(content))},
	}
}

func buildCategoryPrompt(title string, tags []string, content string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: categorySystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Title: %s\nTags: %s\n\n%s", title, strings.Join(tags, ", "), excerpt(content))},
	}
}

func tagSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"tags": {Type: "array", Description: "Topic tags for the document", Items: &engine.SchemaProperty{Type: "string"}},
		},
		Required: []string{"tags"},
	}
}

func categorySchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"category": {Type: "string", Enum: Categories[:len(Categories)-1]},
		},
		Required: []string{"category"},
	}
}
