package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment override names, one per recognized option.
const (
	EnvWorkspaceRoot    = "REELAY_WORKSPACE_ROOT"
	EnvOutputRoot       = "REELAY_OUTPUT_ROOT"
	EnvLogDir           = "REELAY_LOG_DIR"
	EnvJournalPath      = "REELAY_JOURNAL_PATH"
	EnvAPIBind          = "REELAY_API_BIND"
	EnvFFmpegBinary     = "REELAY_FFMPEG_BINARY"
	EnvFFprobeBinary    = "REELAY_FFPROBE_BINARY"
	EnvInvokeTimeout    = "REELAY_INVOKE_TIMEOUT_SECONDS"
	EnvShutdownGrace    = "REELAY_SHUTDOWN_GRACE_SECONDS"
	EnvConcurrencyLimit = "REELAY_CONCURRENCY_LIMIT"
	EnvMaxAttempts      = "REELAY_MAX_ATTEMPTS"
	EnvBackoffBase      = "REELAY_BACKOFF_BASE_MS"
	EnvBackoffCeiling   = "REELAY_BACKOFF_CEILING_MS"
	EnvAdmissionWait    = "REELAY_ADMISSION_WAIT_MS"
	EnvStagingTimeout   = "REELAY_STAGING_TIMEOUT_SECONDS"
	EnvLogFormat        = "REELAY_LOG_FORMAT"
	EnvLogLevel         = "REELAY_LOG_LEVEL"
)

func (c *Config) applyEnvOverrides() {
	overrideString(EnvWorkspaceRoot, &c.Paths.WorkspaceRoot)
	overrideString(EnvOutputRoot, &c.Paths.OutputRoot)
	overrideString(EnvLogDir, &c.Paths.LogDir)
	overrideString(EnvJournalPath, &c.Paths.JournalPath)
	overrideString(EnvAPIBind, &c.Paths.APIBind)
	overrideString(EnvFFmpegBinary, &c.Encoder.FFmpegBinary)
	overrideString(EnvFFprobeBinary, &c.Encoder.FFprobeBinary)
	overrideInt(EnvInvokeTimeout, &c.Encoder.InvokeTimeoutSeconds)
	overrideInt(EnvShutdownGrace, &c.Encoder.ShutdownGraceSeconds)
	overrideInt(EnvConcurrencyLimit, &c.Jobs.ConcurrencyLimit)
	overrideInt(EnvMaxAttempts, &c.Jobs.MaxAttempts)
	overrideInt(EnvBackoffBase, &c.Jobs.BackoffBaseMS)
	overrideInt(EnvBackoffCeiling, &c.Jobs.BackoffCeilingMS)
	overrideInt(EnvAdmissionWait, &c.Jobs.AdmissionWaitMS)
	overrideInt(EnvStagingTimeout, &c.Jobs.StagingTimeoutSeconds)
	overrideString(EnvLogFormat, &c.Logging.Format)
	overrideString(EnvLogLevel, &c.Logging.Level)
}

func overrideString(name string, target *string) {
	if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(name string, target *int) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return
	}
	*target = parsed
}
