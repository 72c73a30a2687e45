package engine

import "fmt"

// DetectConfig holds parameters for backend detection.
type DetectConfig struct {
	OllamaBaseURL string
}

// Detect returns the inference backend for cfg. Ollama is the only backend.
func Detect(cfg DetectConfig) (Engine, error) {
	if cfg.OllamaBaseURL == "" {
		return nil, fmt.Errorf("no inference backend configured: ollama base URL is empty")
	}
	return NewOllamaEngine(cfg.OllamaBaseURL), nil
}
