package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/scanop/internal/logging"
)

// Config holds the CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	Dialect   string `json:"dialect"`
	Pretty    bool   `json:"pretty"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:  "warn",
		LogFormat: "text",
		Dialect:   "expr",
	}
}

func scanopDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scanop"
	}
	return filepath.Join(home, ".scanop")
}

func settingsPath() string {
	return filepath.Join(scanopDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("SCANOP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("SCANOP_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("SCANOP_DIALECT"); v != "" {
		cfg.Dialect = v
	}
	if v := getenv("SCANOP_PRETTY"); v != "" {
		cfg.Pretty = v == "true" || v == "1"
	}
	return cfg
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// newLogger builds the CLI logger; records carry the scan correlation attributes.
func newLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logging.NewCorrelationHandler(h))
}
