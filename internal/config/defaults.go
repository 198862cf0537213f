package config

const (
	defaultWorkspaceRoot         = "~/.local/share/reelay/work"
	defaultOutputRoot            = "~/.local/share/reelay/output"
	defaultLogDir                = "~/.local/share/reelay/logs"
	defaultAPIBind               = "127.0.0.1:9190"
	defaultFFmpegBinary          = "ffmpeg"
	defaultFFprobeBinary         = "ffprobe"
	defaultInvokeTimeoutSeconds  = 4 * 60 * 60
	defaultShutdownGraceSeconds  = 5
	defaultConcurrencyLimit      = 2
	defaultMaxAttempts           = 3
	defaultBackoffBaseMS         = 500
	defaultBackoffCeilingMS      = 30_000
	defaultAdmissionWaitMS       = 250
	defaultStagingTimeoutSeconds = 10 * 60
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceRoot: defaultWorkspaceRoot,
			OutputRoot:    defaultOutputRoot,
			LogDir:        defaultLogDir,
			APIBind:       defaultAPIBind,
		},
		Encoder: Encoder{
			FFmpegBinary:         defaultFFmpegBinary,
			FFprobeBinary:        defaultFFprobeBinary,
			InvokeTimeoutSeconds: defaultInvokeTimeoutSeconds,
			ShutdownGraceSeconds: defaultShutdownGraceSeconds,
		},
		Jobs: Jobs{
			ConcurrencyLimit:      defaultConcurrencyLimit,
			MaxAttempts:           defaultMaxAttempts,
			BackoffBaseMS:         defaultBackoffBaseMS,
			BackoffCeilingMS:      defaultBackoffCeilingMS,
			AdmissionWaitMS:       defaultAdmissionWaitMS,
			StagingTimeoutSeconds: defaultStagingTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
