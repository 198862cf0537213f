package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"reelay/internal/encoder"
	"reelay/internal/journal"
	"reelay/internal/logging"
	"reelay/internal/outcome"
)

// Step names. Step identifiers are derived from these and the request key,
// so renaming one invalidates journals written by earlier versions.
const (
	StepStage    = "stage"
	StepInvoke   = "invoke"
	StepPublish  = "publish"
	StepFinalize = "finalize"
)

// OutcomeStore records terminal outcomes exactly once per request key.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, out outcome.JobOutcome) (outcome.JobOutcome, bool, error)
	LookupOutcome(ctx context.Context, requestKey string) (*outcome.JobOutcome, error)
}

// Observer receives job lifecycle events for metrics.
type Observer interface {
	InvocationFinished(class string, duration time.Duration)
	RetryScheduled(stepName string)
}

type nopObserver struct{}

func (nopObserver) InvocationFinished(string, time.Duration) {}
func (nopObserver) RetryScheduled(string)                    {}

// Policy bounds retries of recoverable failures.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
}

// Machine drives one request through its states. A Machine is stateless
// across requests; all per-request state lives in the journal and the
// workspace.
type Machine struct {
	bridge    *journal.Bridge
	outcomes  OutcomeStore
	adapter   *encoder.Adapter
	prober    *encoder.Prober
	workspace *Workspace
	policy    Policy
	observer  Observer
	logger    *slog.Logger
}

func NewMachine(
	bridge *journal.Bridge,
	outcomes OutcomeStore,
	adapter *encoder.Adapter,
	prober *encoder.Prober,
	workspace *Workspace,
	policy Policy,
	observer Observer,
	logger *slog.Logger,
) *Machine {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	return &Machine{
		bridge:    bridge,
		outcomes:  outcomes,
		adapter:   adapter,
		prober:    prober,
		workspace: workspace,
		policy:    policy,
		observer:  observer,
		logger:    logger,
	}
}

type stagePayload struct {
	StagedPath string `json:"stagedPath"`
	DurationMS int64  `json:"durationMs"`
}

type invokePayload struct {
	ArtifactPath string `json:"artifactPath"`
	ExitCode     int    `json:"exitCode"`
	DurationMS   int64  `json:"durationMs"`
}

// Run drives the request to its terminal outcome. Replaying a request whose
// outcome is already recorded returns that outcome without side effects.
func (m *Machine) Run(ctx context.Context, req ProcessingRequest) (outcome.JobOutcome, error) {
	ctx = outcome.WithRequestKey(ctx, req.Key)
	logger := logging.WithContext(ctx, m.logger)

	// Without a usable key there is nothing to record the outcome under;
	// journaling it would make unrelated malformed requests replay each
	// other's failure.
	if err := req.ValidateKey(); err != nil {
		logger.Warn("request rejected", logging.Error(err))
		return outcome.Failed(req.Key, err), nil
	}

	if existing, err := m.outcomes.LookupOutcome(ctx, req.Key); err != nil {
		return outcome.JobOutcome{}, fmt.Errorf("outcome lookup for %s: %w", req.Key, err)
	} else if existing != nil {
		logger.Info("terminal outcome replayed",
			logging.String(logging.FieldEventType, "outcome_replay"))
		return *existing, nil
	}

	if err := req.Validate(); err != nil {
		logger.Warn("request rejected", logging.Error(err))
		return m.terminal(ctx, outcome.Failed(req.Key, err))
	}

	staged, err := m.stage(ctx, req)
	if err != nil {
		return m.terminal(ctx, outcome.Failed(req.Key, err))
	}

	artifact, err := m.invoke(ctx, req, staged)
	if err != nil {
		return m.terminal(ctx, outcome.Failed(req.Key, err))
	}

	descriptor, err := m.publish(ctx, req, artifact)
	if err != nil {
		return m.terminal(ctx, outcome.Failed(req.Key, err))
	}

	m.finalize(ctx, req)

	return m.terminal(ctx, outcome.Completed(req.Key, descriptor))
}

// stage fetches the source into the workspace and probes it for duration.
func (m *Machine) stage(ctx context.Context, req ProcessingRequest) (stagePayload, error) {
	ctx = outcome.WithStage(ctx, "staging")
	logger := logging.WithContext(ctx, m.logger)

	opts := journal.StepOptions{
		RequestKey: req.Key,
		StepName:   StepStage,
		Cleanup: func(context.Context) error {
			return m.workspace.RemoveStagedInput(req.Key, req.Source)
		},
	}
	result, err := m.runWithRetry(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		stagedPath, err := m.workspace.Stage(ctx, req.Key, req.Source)
		if err != nil {
			return "", err
		}

		payload := stagePayload{StagedPath: stagedPath}
		if m.prober != nil {
			if info, probeErr := m.prober.Probe(ctx, stagedPath); probeErr != nil {
				// Duration only improves progress reporting; the encoder is
				// the authority on whether the input is usable.
				logger.Warn("probe failed, progress percent unavailable",
					logging.Error(probeErr))
			} else {
				payload.DurationMS = info.InputDuration().Milliseconds()
			}
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return "", outcome.Wrap(outcome.ErrStaging, "staging", "encode step payload", "", err)
		}
		return string(encoded), nil
	})
	if err != nil {
		return stagePayload{}, err
	}

	var payload stagePayload
	if err := json.Unmarshal([]byte(result.Payload), &payload); err != nil {
		return stagePayload{}, outcome.Wrap(outcome.ErrStaging, "staging", "decode step payload", "", err)
	}
	return payload, nil
}

// invoke runs the encoder over the staged input.
func (m *Machine) invoke(ctx context.Context, req ProcessingRequest, staged stagePayload) (invokePayload, error) {
	ctx = outcome.WithStage(ctx, "invoking")
	logger := logging.WithContext(ctx, m.logger)

	extension := req.Output.Extension()
	artifactPath := m.workspace.ArtifactPath(req.Key, extension)

	opts := journal.StepOptions{
		RequestKey: req.Key,
		StepName:   StepInvoke,
		Cleanup: func(context.Context) error {
			return m.workspace.RemoveArtifact(req.Key, extension)
		},
	}
	result, err := m.runWithRetry(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		lastLogged := -10.0
		invocation, err := m.adapter.Invoke(ctx, encoder.InvocationRequest{
			InputPath:     staged.StagedPath,
			OutputPath:    artifactPath,
			Spec:          req.Output,
			InputDuration: time.Duration(staged.DurationMS) * time.Millisecond,
			OnProgress: func(u encoder.ProgressUpdate) {
				if u.Percent >= 0 && u.Percent-lastLogged < 10 && !u.Done {
					return
				}
				lastLogged = u.Percent
				logger.Debug("encode progress",
					logging.String(logging.FieldEventType, "encode_progress"),
					logging.Int(logging.FieldAttempt, attempt),
					logging.Int64("frame", u.Frame),
					logging.Float64("percent", u.Percent),
					logging.String("speed", u.Speed),
				)
			},
		})
		if err != nil {
			return "", outcome.Wrap(outcome.ErrEncodingTransient, "invoking", "spawn encoder", "", err)
		}

		m.observer.InvocationFinished(invocation.Class.String(), invocation.Duration)

		switch invocation.Class {
		case encoder.ClassSuccess:
			payload := invokePayload{
				ArtifactPath: artifactPath,
				ExitCode:     invocation.ExitCode,
				DurationMS:   invocation.Duration.Milliseconds(),
			}
			encoded, err := json.Marshal(payload)
			if err != nil {
				return "", outcome.Wrap(outcome.ErrEncodingTransient, "invoking", "encode step payload", "", err)
			}
			return string(encoded), nil
		case encoder.ClassCancelled:
			return "", outcome.Wrap(outcome.ErrCancelled, "invoking", "encode", invocation.Reason, nil)
		case encoder.ClassFatal:
			return "", outcome.Wrap(outcome.ErrEncodingFatal, "invoking", invocation.Reason,
				outcome.Excerpt(invocation.StderrTail), nil)
		default:
			return "", outcome.Wrap(outcome.ErrEncodingTransient, "invoking", invocation.Reason,
				outcome.Excerpt(invocation.StderrTail), nil)
		}
	})
	if err != nil {
		return invokePayload{}, err
	}

	var payload invokePayload
	if err := json.Unmarshal([]byte(result.Payload), &payload); err != nil {
		return invokePayload{}, outcome.Wrap(outcome.ErrEncodingFatal, "invoking", "decode step payload", "", err)
	}
	return payload, nil
}

// publish moves the artifact to the output root.
func (m *Machine) publish(ctx context.Context, req ProcessingRequest, artifact invokePayload) (string, error) {
	ctx = outcome.WithStage(ctx, "publishing")

	opts := journal.StepOptions{
		RequestKey: req.Key,
		StepName:   StepPublish,
	}
	result, err := m.runWithRetry(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		return m.workspace.Publish(ctx, req.Key, artifact.ArtifactPath, req.Output.Extension())
	})
	if err != nil {
		return "", err
	}
	return result.Payload, nil
}

// finalize removes the workspace. Cleanup failure never downgrades a
// published artifact to a job failure.
func (m *Machine) finalize(ctx context.Context, req ProcessingRequest) {
	ctx = outcome.WithStage(ctx, "finalizing")
	logger := logging.WithContext(ctx, m.logger)

	opts := journal.StepOptions{
		RequestKey: req.Key,
		StepName:   StepFinalize,
	}
	_, err := m.bridge.RunStep(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		if cleanupErr := m.workspace.Cleanup(req.Key); cleanupErr != nil {
			logger.Warn("workspace cleanup failed", logging.Error(cleanupErr))
		}
		return "cleaned", nil
	})
	if err != nil {
		logger.Warn("finalize step failed", logging.Error(err))
	}
}

// runWithRetry re-runs a journaled step on recoverable failure until the
// attempt ceiling, waiting with backoff between attempts. Attempt counts
// come from the journal, so the ceiling holds across process restarts.
func (m *Machine) runWithRetry(ctx context.Context, opts journal.StepOptions, work journal.Work) (journal.StepResult, error) {
	logger := logging.WithContext(ctx, m.logger)
	for {
		result, err := m.bridge.RunStep(ctx, opts, work)
		if err == nil {
			return result, nil
		}
		if result.Replayed || !outcome.Retryable(err) {
			return result, err
		}
		if result.Attempt >= m.policy.MaxAttempts {
			logger.Warn("retry ceiling exhausted",
				logging.String(logging.FieldEventType, "retry_exhausted"),
				logging.Int(logging.FieldAttempt, result.Attempt),
				logging.Error(err),
			)
			return result, err
		}

		m.observer.RetryScheduled(opts.StepName)
		delay := m.policy.Backoff.Delay(result.Attempt)
		logger.Info("retry scheduled",
			logging.String(logging.FieldEventType, "retry_scheduled"),
			logging.Int(logging.FieldAttempt, result.Attempt),
			logging.String("delay", delay.Round(time.Millisecond).String()),
		)
		if waitErr := sleepContext(ctx, delay); waitErr != nil {
			return result, outcome.Wrap(outcome.ErrCancelled, opts.StepName, "retry wait", "", waitErr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminal records the outcome exactly once and returns the stored value.
// Recording proceeds even when ctx is already cancelled: the journal must
// reflect the terminal state the job reached.
func (m *Machine) terminal(ctx context.Context, out outcome.JobOutcome) (outcome.JobOutcome, error) {
	recordCtx := context.WithoutCancel(ctx)
	stored, first, err := m.outcomes.RecordOutcome(recordCtx, out)
	if err != nil {
		return out, fmt.Errorf("record outcome for %s: %w", out.RequestKey, err)
	}
	logger := logging.WithContext(ctx, m.logger)
	if first {
		logger.Info("job finished",
			logging.String(logging.FieldEventType, "job_finished"),
			logging.String("status", string(stored.Status)),
			logging.String("error_kind", string(stored.ErrorKind)),
		)
	} else {
		logger.Info("terminal outcome replayed",
			logging.String(logging.FieldEventType, "outcome_replay"))
	}
	return stored, nil
}
