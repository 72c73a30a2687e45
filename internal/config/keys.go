package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	default:
		return "string"
	}
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CURIO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_stdio", typ: kBool, env: "CURIO_SERVER_MCP_STDIO",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPStdio = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPStdio },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CURIO_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.fast_model", typ: kString, env: "CURIO_OLLAMA_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.FastModel },
	},
	{
		key: "ollama.deep_model", typ: kString, env: "CURIO_OLLAMA_DEEP_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.DeepModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.DeepModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "CURIO_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CURIO_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "search.base_url", typ: kString, env: "CURIO_SEARCH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.BaseURL },
	},
	{
		key: "search.api_key", typ: kString, env: "CURIO_SEARCH_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Search.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.APIKey },
	},
	{
		key: "webscout.min_quality_results", typ: kInt, env: "CURIO_WEBSCOUT_MIN_QUALITY_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.WebScout.MinQualityResults = v.(int) },
		extract: func(cfg Config) any { return cfg.WebScout.MinQualityResults },
	},
	{
		key: "webscout.min_relevance_score", typ: kFloat, env: "CURIO_WEBSCOUT_MIN_RELEVANCE_SCORE",
		apply:   func(cfg *Config, v any) { cfg.WebScout.MinRelevanceScore = v.(float64) },
		extract: func(cfg Config) any { return cfg.WebScout.MinRelevanceScore },
	},
	{
		key: "webscout.max_iterations", typ: kInt, env: "CURIO_WEBSCOUT_MAX_ITERATIONS",
		apply:   func(cfg *Config, v any) { cfg.WebScout.MaxIterations = v.(int) },
		extract: func(cfg Config) any { return cfg.WebScout.MaxIterations },
	},
	{
		key: "webscout.max_queries", typ: kInt, env: "CURIO_WEBSCOUT_MAX_QUERIES",
		apply:   func(cfg *Config, v any) { cfg.WebScout.MaxQueries = v.(int) },
		extract: func(cfg Config) any { return cfg.WebScout.MaxQueries },
	},
	{
		key: "webscout.max_results_per_query", typ: kInt, env: "CURIO_WEBSCOUT_MAX_RESULTS_PER_QUERY",
		apply:   func(cfg *Config, v any) { cfg.WebScout.MaxResultsPerQuery = v.(int) },
		extract: func(cfg Config) any { return cfg.WebScout.MaxResultsPerQuery },
	},
	{
		key: "curator.categorize_enabled", typ: kBool, env: "CURIO_CURATOR_CATEGORIZE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Curator.CategorizeEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Curator.CategorizeEnabled },
	},
	{
		key: "curator.max_related", typ: kInt, env: "CURIO_CURATOR_MAX_RELATED",
		apply:   func(cfg *Config, v any) { cfg.Curator.MaxRelated = v.(int) },
		extract: func(cfg Config) any { return cfg.Curator.MaxRelated },
	},
	{
		key: "flows.max_concurrent", typ: kInt, env: "CURIO_FLOWS_MAX_CONCURRENT",
		apply:   func(cfg *Config, v any) { cfg.Flows.MaxConcurrent = v.(int) },
		extract: func(cfg Config) any { return cfg.Flows.MaxConcurrent },
	},
	{
		key: "flows.poll_interval", typ: kString, env: "CURIO_FLOWS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Flows.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Flows.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "CURIO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw into the Go value for the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			if s.typ == kInt {
				return fmt.Errorf("invalid integer for %s: %w", s.key, err)
			}
			slog.Warn("ignoring config value", "key", s.key, "value", raw, "type", s.typ.String(), "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring environment override", "env", s.env, "value", raw, "type", s.typ.String(), "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
