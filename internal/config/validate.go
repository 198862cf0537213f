package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkspaceRoot) == "" {
		return errors.New("paths.workspace_root must be set")
	}
	if strings.TrimSpace(c.Paths.OutputRoot) == "" {
		return errors.New("paths.output_root must be set")
	}
	if c.Paths.WorkspaceRoot == c.Paths.OutputRoot {
		return errors.New("paths.workspace_root and paths.output_root must differ")
	}
	if bind := strings.TrimSpace(c.Paths.APIBind); bind != "" {
		if _, _, err := net.SplitHostPort(bind); err != nil {
			return fmt.Errorf("paths.api_bind: %w", err)
		}
	}
	return nil
}

func (c *Config) validateEncoder() error {
	if strings.TrimSpace(c.Encoder.FFmpegBinary) == "" {
		return errors.New("encoder.ffmpeg_binary must be set")
	}
	if strings.TrimSpace(c.Encoder.FFprobeBinary) == "" {
		return errors.New("encoder.ffprobe_binary must be set")
	}
	if c.Encoder.InvokeTimeoutSeconds < 0 {
		return errors.New("encoder.invoke_timeout_seconds must not be negative")
	}
	if c.Encoder.ShutdownGraceSeconds <= 0 {
		return errors.New("encoder.shutdown_grace_seconds must be positive")
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.ConcurrencyLimit <= 0 {
		return errors.New("jobs.concurrency_limit must be positive")
	}
	if c.Jobs.MaxAttempts <= 0 {
		return errors.New("jobs.max_attempts must be positive")
	}
	if c.Jobs.BackoffBaseMS <= 0 {
		return errors.New("jobs.backoff_base_ms must be positive")
	}
	if c.Jobs.BackoffCeilingMS < c.Jobs.BackoffBaseMS {
		return errors.New("jobs.backoff_ceiling_ms must be at least jobs.backoff_base_ms")
	}
	if c.Jobs.AdmissionWaitMS < 0 {
		return errors.New("jobs.admission_wait_ms must not be negative")
	}
	if c.Jobs.StagingTimeoutSeconds <= 0 {
		return errors.New("jobs.staging_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
