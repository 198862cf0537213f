package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"reelay/internal/logging"
	"reelay/internal/outcome"
)

// Work performs the side effect of one step. The attempt counter is 1-based
// and survives process restarts through the journal.
type Work func(ctx context.Context, attempt int) (payload string, err error)

// StepOptions describes one journaled step.
type StepOptions struct {
	RequestKey string
	StepName   string
	// Cleanup removes partial artifacts left by an earlier attempt. It runs
	// before re-executing work when a pending record already exists, so a
	// half-written download or encode never leaks into the next attempt.
	Cleanup func(ctx context.Context) error
}

// StepResult is what RunStep hands back to the state machine.
type StepResult struct {
	Payload string
	// Attempt is the attempt counter after this call, including attempts
	// made by earlier activations of the same request.
	Attempt int
	// Replayed is true when the result came from the journal without
	// executing work.
	Replayed bool
}

// Bridge wraps side-effecting work as journaled steps.
type Bridge struct {
	store  Store
	logger *slog.Logger
}

// NewBridge constructs a bridge over the given journal store.
func NewBridge(store Store, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bridge{store: store, logger: logger}
}

// RunStep executes work under the journal's idempotence contract:
//
//   - a completed record short-circuits to the recorded payload, without
//     executing work;
//   - a failed record short-circuits to the recorded fatal failure, without
//     executing work;
//   - otherwise work runs, and its result is durably recorded before being
//     returned. Recoverable failures keep the step pending (retryable) with
//     the attempt counter persisted; fatal failures mark the step failed so
//     it is never retried, even after a crash.
//
// Cancellation leaves the step pending: a cancelled job is terminal, and its
// partial records are safe to leave behind.
func (b *Bridge) RunStep(ctx context.Context, opts StepOptions, work Work) (StepResult, error) {
	if b.store == nil {
		return StepResult{}, errors.New("journal store is required")
	}
	if opts.RequestKey == "" || opts.StepName == "" {
		return StepResult{}, errors.New("request key and step name are required")
	}

	stepID := StepID(opts.RequestKey, opts.StepName)
	logger := logging.WithContext(ctx, b.logger).With(
		logging.String(logging.FieldStepID, stepID),
	)

	record, err := b.store.LookupStep(ctx, stepID)
	if err != nil {
		return StepResult{}, fmt.Errorf("journal lookup %s: %w", stepID, err)
	}

	if record != nil {
		switch record.Status {
		case StepCompleted:
			logger.Debug("step replayed from journal",
				logging.String(logging.FieldEventType, "step_replay"),
			)
			return StepResult{Payload: record.Payload, Attempt: record.Attempts, Replayed: true}, nil
		case StepFailed:
			logger.Debug("step failure replayed from journal",
				logging.String(logging.FieldEventType, "step_replay"),
			)
			replayErr := outcome.Wrap(
				outcome.MarkerFor(record.ErrorKind),
				opts.StepName, "journal replay", record.ErrorMessage, nil,
			)
			return StepResult{Attempt: record.Attempts, Replayed: true}, replayErr
		}
	}

	attempt := 1
	if record != nil {
		attempt = record.Attempts + 1
		if opts.Cleanup != nil {
			if cleanupErr := opts.Cleanup(ctx); cleanupErr != nil {
				logger.Warn("partial artifact cleanup failed", logging.Error(cleanupErr))
			}
		}
	}

	if record == nil {
		record = &StepRecord{
			StepID:     stepID,
			RequestKey: opts.RequestKey,
			StepName:   opts.StepName,
		}
	}
	record.Status = StepPending
	record.Attempts = attempt
	if err := b.store.SaveStep(ctx, record); err != nil {
		return StepResult{}, fmt.Errorf("journal pending transition %s: %w", stepID, err)
	}

	logger.Info("step started",
		logging.String(logging.FieldEventType, "step_start"),
		logging.Int(logging.FieldAttempt, attempt),
	)

	payload, workErr := work(ctx, attempt)
	result := StepResult{Payload: payload, Attempt: attempt}

	switch {
	case workErr == nil:
		record.Status = StepCompleted
		record.Payload = payload
		record.ErrorKind = outcome.KindNone
		record.ErrorMessage = ""
		if err := b.store.SaveStep(ctx, record); err != nil {
			return StepResult{}, fmt.Errorf("journal completion %s: %w", stepID, err)
		}
		logger.Info("step completed",
			logging.String(logging.FieldEventType, "step_complete"),
			logging.Int(logging.FieldAttempt, attempt),
		)
		return result, nil

	case errors.Is(workErr, outcome.ErrCancelled) || ctx.Err() != nil:
		// Leave the record pending; the job is terminal and a later
		// identical key never resumes a cancelled run.
		logger.Info("step cancelled",
			logging.String(logging.FieldEventType, "step_cancelled"),
			logging.Int(logging.FieldAttempt, attempt),
		)
		return result, workErr

	case outcome.Retryable(workErr):
		record.ErrorKind = outcome.Kind(workErr)
		record.ErrorMessage = outcome.Excerpt(workErr.Error())
		if err := b.store.SaveStep(ctx, record); err != nil {
			return StepResult{}, fmt.Errorf("journal attempt %s: %w", stepID, err)
		}
		logger.Warn("step failed, retryable",
			logging.String(logging.FieldEventType, "step_failure"),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Error(workErr),
		)
		return result, workErr

	default:
		record.Status = StepFailed
		record.ErrorKind = outcome.Kind(workErr)
		record.ErrorMessage = outcome.Excerpt(workErr.Error())
		if err := b.store.SaveStep(ctx, record); err != nil {
			return StepResult{}, fmt.Errorf("journal failure %s: %w", stepID, err)
		}
		logger.Error("step failed, fatal",
			logging.String(logging.FieldEventType, "step_failure"),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Error(workErr),
		)
		return result, workErr
	}
}
