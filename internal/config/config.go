package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Ollama   OllamaConfig
	Storage  StorageConfig
	Search   SearchConfig
	WebScout WebScoutConfig
	Curator  CuratorConfig
	Flows    FlowsConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
	// MCPStdio serves the MCP tools on stdin/stdout alongside HTTP.
	MCPStdio bool
}

type OllamaConfig struct {
	BaseURL    string
	FastModel  string
	DeepModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type SearchConfig struct {
	BaseURL string
	APIKey  string
}

// WebScoutConfig holds the default thresholds and ceilings of a research
// session. Per-request options override them.
type WebScoutConfig struct {
	MinQualityResults  int
	MinRelevanceScore  float64
	MaxIterations      int
	MaxQueries         int
	MaxResultsPerQuery int
}

type CuratorConfig struct {
	CategorizeEnabled bool
	MaxRelated        int
}

type FlowsConfig struct {
	MaxConcurrent int
	PollInterval  string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			FastModel:  "phi3.5",
			DeepModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Search: SearchConfig{
			BaseURL: "https://api.tavily.com",
		},
		WebScout: WebScoutConfig{
			MinQualityResults:  5,
			MinRelevanceScore:  0.6,
			MaxIterations:      6,
			MaxQueries:         8,
			MaxResultsPerQuery: 5,
		},
		Curator: CuratorConfig{
			CategorizeEnabled: true,
			MaxRelated:        5,
		},
		Flows: FlowsConfig{
			MaxConcurrent: 2,
			PollInterval:  "500ms",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// PollInterval parses Flows.PollInterval, falling back to 500ms.
func (c Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Flows.PollInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.curio.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/curio/config.json
// and secrets come from environment variables or a 0600 secrets file.
//
// Environment variables (CURIO_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain reads and writes secrets in the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

const (
	keychainService   = "curio"
	searchKeyAccount  = "search_api_key"
	apiTokenAccount   = "api_token"
	apiTokenEnv       = "CURIO_API_TOKEN"
	apiTokenByteCount = 32
)

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Search.APIKey == "" {
		if key, err := kc.Get(keychainService, searchKeyAccount); err == nil && key != "" {
			cfg.Search.APIKey = key
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Flows.MaxConcurrent < 1 {
		return Config{}, fmt.Errorf("flows.max_concurrent must be at least 1, got %d", cfg.Flows.MaxConcurrent)
	}
	return cfg, nil
}

// SearchKeyHint tells the user where the search API key can be provided.
func SearchKeyHint() string {
	return "set CURIO_SEARCH_API_KEY" + apiKeyHint()
}

// GetAPIToken returns the bearer token protecting the HTTP API. The token
// comes from CURIO_API_TOKEN or the secret store; on first use a random
// token is generated and stored.
func GetAPIToken(kc Keychain) (string, error) {
	if t := os.Getenv(apiTokenEnv); t != "" {
		return t, nil
	}
	if t, err := kc.Get(keychainService, apiTokenAccount); err == nil && t != "" {
		return t, nil
	}

	buf := make([]byte, apiTokenByteCount)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, apiTokenAccount, token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return keychainReader{}
}

type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (keychainReader) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
