package testsupport

import (
	"path/filepath"
	"testing"

	"reelay/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkspaceRoot = filepath.Join(base, "workspace")
	cfg.Paths.OutputRoot = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.JournalPath = filepath.Join(base, "journal.db")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Jobs.BackoffBaseMS = 1
	cfg.Jobs.BackoffCeilingMS = 5

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cfg
}

// WithMaxAttempts overrides the retry ceiling on the test config.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Jobs.MaxAttempts = attempts
	}
}

// WithConcurrencyLimit overrides the admission gate width on the test config.
func WithConcurrencyLimit(limit int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Jobs.ConcurrencyLimit = limit
	}
}
