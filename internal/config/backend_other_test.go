//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curio", "config.json")

	b := openFileBackend(path)
	for key, val := range map[string]any{
		"server.port":                  4200,
		"curator.categorize_enabled":   false,
		"webscout.min_relevance_score": 0.55,
		"log.level":                    "debug",
	} {
		if err := b.Set(key, val); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	reopened := openFileBackend(path)
	want := map[string]string{
		"server.port":                  "4200",
		"curator.categorize_enabled":   "false",
		"webscout.min_relevance_score": "0.55",
		"log.level":                    "debug",
	}
	for key, w := range want {
		got, ok, err := reopened.Get(key)
		if err != nil || !ok || got != w {
			t.Errorf("Get(%s) = %q, %v, %v; want %q", key, got, ok, err, w)
		}
	}

	cfg, err := loadWith(reopened, &mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 || cfg.Curator.CategorizeEnabled || cfg.Log.Level != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}

	if err := reopened.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := openFileBackend(path).Get("server.port"); ok {
		t.Error("server.port still present after Delete")
	}
}

func TestFileBackendCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	b := openFileBackend(path)
	if _, ok, err := b.Get("server.port"); ok || err != nil {
		t.Errorf("Get on corrupt file = %v, %v", ok, err)
	}
}

func TestSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainGet("curio", "api_token"); err == nil {
		t.Error("expected error for missing secret")
	}
	if err := keychainSet("curio", "api_token", "abc"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	if err := keychainSet("curio", "search_api_key", "key"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	got, err := NewKeychain().Get("curio", "api_token")
	if err != nil || got != "abc" {
		t.Errorf("Get = %q, %v", got, err)
	}
	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v", info.Mode().Perm())
	}
}
