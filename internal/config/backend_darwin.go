//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.curio.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "curio")
	}
	return "curio-data"
}

func apiKeyHint() string {
	return " or store it in the macOS Keychain (service: curio, account: search_api_key)"
}

// defaultsBackend reads and writes UserDefaults through the defaults CLI.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

func (b defaultsBackend) Get(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, s)
	}
	// defaults prints booleans as 1 and 0.
	return s, true, nil
}

func (b defaultsBackend) Set(key string, val any) error {
	var typeFlag, s string
	switch v := val.(type) {
	case int:
		typeFlag, s = "-int", strconv.Itoa(v)
	case bool:
		typeFlag, s = "-bool", strconv.FormatBool(v)
	case float64:
		typeFlag, s = "-float", strconv.FormatFloat(v, 'f', -1, 64)
	default:
		typeFlag, s = "-string", fmt.Sprint(v)
	}
	if out, err := exec.Command("defaults", "write", b.domain, key, typeFlag, s).CombinedOutput(); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b defaultsBackend) Delete(key string) error {
	return exec.Command("defaults", "delete", b.domain, key).Run()
}
