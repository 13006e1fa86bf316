// Package config loads tippkeeper configuration from defaults, an
// optional JSON config file, and TIPPKEEPER_* environment variables, in
// that order of precedence (later wins).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Storage StorageConfig `json:"storage"`
	Predict PredictConfig `json:"predict"`
	Server  ServerConfig  `json:"server"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
}

type PredictConfig struct {
	OpenRouterAPIKey string   `json:"openrouter_api_key"`
	Models           []string `json:"models"`
	Communities      []string `json:"communities"`
	// SkipDocuments names context documents whose churn never triggers
	// regeneration (e.g. a standings table rewritten on every run).
	SkipDocuments []string `json:"skip_documents"`
	Concurrency   int      `json:"concurrency"`
}

type ServerConfig struct {
	Port int `json:"port"`
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Predict: PredictConfig{
			Models:      []string{"openai/gpt-5"},
			Concurrency: 4,
		},
		Server: ServerConfig{
			Port: 4710,
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "tippkeeper")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "tippkeeper")
}

// DefaultPath returns the config file location Load falls back to when no
// explicit path is given: $XDG_CONFIG_HOME/tippkeeper/config.json.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tippkeeper", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tippkeeper", "config.json")
}

// Load reads configuration. A missing config file is not an error (all
// values have defaults or env overrides); an unreadable or malformed one
// is.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults + env only.
		case err != nil:
			return Config{}, fmt.Errorf("reading config file: %w", err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if len(cfg.Predict.Communities) == 0 {
		return Config{}, fmt.Errorf("missing required config: at least one community (set predict.communities or TIPPKEEPER_COMMUNITIES)")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TIPPKEEPER_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("TIPPKEEPER_OPENROUTER_API_KEY"); v != "" {
		cfg.Predict.OpenRouterAPIKey = v
	}
	if v := os.Getenv("TIPPKEEPER_MODELS"); v != "" {
		cfg.Predict.Models = splitList(v)
	}
	if v := os.Getenv("TIPPKEEPER_COMMUNITIES"); v != "" {
		cfg.Predict.Communities = splitList(v)
	}
	if v := os.Getenv("TIPPKEEPER_SKIP_DOCUMENTS"); v != "" {
		cfg.Predict.SkipDocuments = splitList(v)
	}
	if v := os.Getenv("TIPPKEEPER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Predict.Concurrency = n
		}
	}
	if v := os.Getenv("TIPPKEEPER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
