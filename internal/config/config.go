package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkspaceRoot string `toml:"workspace_root"`
	OutputRoot    string `toml:"output_root"`
	LogDir        string `toml:"log_dir"`
	JournalPath   string `toml:"journal_path"`
	APIBind       string `toml:"api_bind"`
}

// Encoder contains configuration for the external ffmpeg/ffprobe binaries.
type Encoder struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	// InvokeTimeoutSeconds bounds a single encoder attempt. Zero disables the limit.
	InvokeTimeoutSeconds int `toml:"invoke_timeout_seconds"`
	// ShutdownGraceSeconds is how long a child gets between SIGTERM and SIGKILL.
	ShutdownGraceSeconds int `toml:"shutdown_grace_seconds"`
}

// Jobs contains retry policy and admission gate configuration.
type Jobs struct {
	ConcurrencyLimit int `toml:"concurrency_limit"`
	MaxAttempts      int `toml:"max_attempts"`
	BackoffBaseMS    int `toml:"backoff_base_ms"`
	BackoffCeilingMS int `toml:"backoff_ceiling_ms"`
	// AdmissionWaitMS is how long Handle waits for a concurrency slot before
	// signalling suspension back to the orchestrator.
	AdmissionWaitMS int `toml:"admission_wait_ms"`
	// StagingTimeoutSeconds bounds a single source fetch attempt.
	StagingTimeoutSeconds int `toml:"staging_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelay.
//
// Configuration sections by subsystem:
//   - Paths: workspace/output roots, journal database, and API bind address
//   - Encoder: external binary locations and invocation limits
//   - Jobs: concurrency limit, retry ceiling, and backoff policy
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Encoder Encoder `toml:"encoder"`
	Jobs    Jobs    `toml:"jobs"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reelay/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment
// overrides are applied after the file is read. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelay.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkspaceRoot, err = expandPath(c.Paths.WorkspaceRoot); err != nil {
		return fmt.Errorf("paths.workspace_root: %w", err)
	}
	if c.Paths.OutputRoot, err = expandPath(c.Paths.OutputRoot); err != nil {
		return fmt.Errorf("paths.output_root: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.JournalPath) == "" {
		c.Paths.JournalPath = filepath.Join(c.Paths.LogDir, "journal.db")
	}
	if c.Paths.JournalPath, err = expandPath(c.Paths.JournalPath); err != nil {
		return fmt.Errorf("paths.journal_path: %w", err)
	}
	if strings.TrimSpace(c.Encoder.FFmpegBinary) == "" {
		c.Encoder.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Encoder.FFprobeBinary) == "" {
		c.Encoder.FFprobeBinary = defaultFFprobeBinary
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.WorkspaceRoot,
		c.Paths.OutputRoot,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.JournalPath),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// InvokeTimeout returns the per-invocation time limit as a duration.
func (c *Config) InvokeTimeout() time.Duration {
	return time.Duration(c.Encoder.InvokeTimeoutSeconds) * time.Second
}

// ShutdownGrace returns the TERM-to-KILL grace period as a duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Encoder.ShutdownGraceSeconds) * time.Second
}

// BackoffBase returns the retry backoff floor as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Jobs.BackoffBaseMS) * time.Millisecond
}

// BackoffCeiling returns the retry backoff cap as a duration.
func (c *Config) BackoffCeiling() time.Duration {
	return time.Duration(c.Jobs.BackoffCeilingMS) * time.Millisecond
}

// AdmissionWait returns the admission gate wait budget as a duration.
func (c *Config) AdmissionWait() time.Duration {
	return time.Duration(c.Jobs.AdmissionWaitMS) * time.Millisecond
}

// StagingTimeout returns the per-fetch time limit as a duration.
func (c *Config) StagingTimeout() time.Duration {
	return time.Duration(c.Jobs.StagingTimeoutSeconds) * time.Second
}

// SampleConfig returns the annotated sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// WriteSample writes the sample configuration to the given path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}
	if strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Abs(trimmed)
}
