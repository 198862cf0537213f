package journal_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"reelay/internal/journal"
	"reelay/internal/logging"
	"reelay/internal/outcome"
)

func newBridge(t *testing.T) (*journal.Bridge, *journal.SQLiteStore) {
	t.Helper()
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return journal.NewBridge(store, logging.NewNop()), store
}

func TestRunStepExecutesAndRecords(t *testing.T) {
	bridge, store := newBridge(t)
	ctx := context.Background()

	calls := 0
	res, err := bridge.RunStep(ctx, journal.StepOptions{RequestKey: "job-1", StepName: "stage"},
		func(ctx context.Context, attempt int) (string, error) {
			calls++
			if attempt != 1 {
				t.Fatalf("expected attempt 1, got %d", attempt)
			}
			return "staged-path", nil
		})
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if calls != 1 || res.Payload != "staged-path" || res.Replayed {
		t.Fatalf("unexpected result %+v calls=%d", res, calls)
	}

	rec, err := store.LookupStep(ctx, journal.StepID("job-1", "stage"))
	if err != nil {
		t.Fatalf("LookupStep: %v", err)
	}
	if rec.Status != journal.StepCompleted || rec.Payload != "staged-path" {
		t.Fatalf("journal not updated: %+v", rec)
	}
}

func TestRunStepReplaysCompletedWithoutExecuting(t *testing.T) {
	bridge, _ := newBridge(t)
	ctx := context.Background()
	opts := journal.StepOptions{RequestKey: "job-1", StepName: "invoke"}

	calls := 0
	work := func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "encoded", nil
	}

	if _, err := bridge.RunStep(ctx, opts, work); err != nil {
		t.Fatalf("first RunStep: %v", err)
	}
	res, err := bridge.RunStep(ctx, opts, work)
	if err != nil {
		t.Fatalf("replay RunStep: %v", err)
	}
	if calls != 1 {
		t.Fatalf("work executed %d times, want 1", calls)
	}
	if !res.Replayed || res.Payload != "encoded" {
		t.Fatalf("expected replayed payload, got %+v", res)
	}
}

func TestRunStepRecoverableKeepsPendingAndCountsAttempts(t *testing.T) {
	bridge, store := newBridge(t)
	ctx := context.Background()
	opts := journal.StepOptions{RequestKey: "job-1", StepName: "invoke"}

	transient := outcome.Wrap(outcome.ErrEncodingTransient, "invoking", "ffmpeg", "signal: killed", nil)
	for want := 1; want <= 3; want++ {
		res, err := bridge.RunStep(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
			return "", transient
		})
		if !errors.Is(err, outcome.ErrEncodingTransient) {
			t.Fatalf("expected transient error, got %v", err)
		}
		if res.Attempt != want {
			t.Fatalf("attempt %d, want %d", res.Attempt, want)
		}
	}

	rec, err := store.LookupStep(ctx, journal.StepID("job-1", "invoke"))
	if err != nil {
		t.Fatalf("LookupStep: %v", err)
	}
	if rec.Status != journal.StepPending || rec.Attempts != 3 {
		t.Fatalf("expected pending with 3 attempts, got %+v", rec)
	}
}

func TestRunStepFatalRecordsFailedAndNeverRetries(t *testing.T) {
	bridge, store := newBridge(t)
	ctx := context.Background()
	opts := journal.StepOptions{RequestKey: "job-1", StepName: "invoke"}

	calls := 0
	fatal := outcome.Wrap(outcome.ErrEncodingFatal, "invoking", "ffmpeg", "Unknown encoder 'h299'", nil)
	if _, err := bridge.RunStep(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", fatal
	}); !errors.Is(err, outcome.ErrEncodingFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}

	rec, err := store.LookupStep(ctx, journal.StepID("job-1", "invoke"))
	if err != nil {
		t.Fatalf("LookupStep: %v", err)
	}
	if rec.Status != journal.StepFailed {
		t.Fatalf("expected failed record, got %+v", rec)
	}

	// Replay after a simulated crash: work must not run again and the same
	// classification must surface.
	_, err = bridge.RunStep(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", nil
	})
	if !errors.Is(err, outcome.ErrEncodingFatal) {
		t.Fatalf("expected replayed fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("fatal step executed %d times, want 1", calls)
	}
}

func TestRunStepRunsCleanupBeforeRetry(t *testing.T) {
	bridge, _ := newBridge(t)
	ctx := context.Background()

	cleanups := 0
	opts := journal.StepOptions{
		RequestKey: "job-1",
		StepName:   "stage",
		Cleanup: func(ctx context.Context) error {
			cleanups++
			return nil
		},
	}

	transient := outcome.Wrap(outcome.ErrStaging, "staging", "fetch", "connection reset", nil)
	if _, err := bridge.RunStep(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		return "", transient
	}); !errors.Is(err, outcome.ErrStaging) {
		t.Fatalf("expected staging error, got %v", err)
	}
	if cleanups != 0 {
		t.Fatal("cleanup must not run on the first attempt")
	}

	if _, err := bridge.RunStep(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("retry RunStep: %v", err)
	}
	if cleanups != 1 {
		t.Fatalf("cleanup ran %d times, want 1", cleanups)
	}
}

func TestRunStepCancellationLeavesStepPending(t *testing.T) {
	bridge, store := newBridge(t)
	ctx := context.Background()
	opts := journal.StepOptions{RequestKey: "job-1", StepName: "invoke"}

	cancelled := outcome.Wrap(outcome.ErrCancelled, "invoking", "ffmpeg", "terminated", nil)
	if _, err := bridge.RunStep(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		return "", cancelled
	}); !errors.Is(err, outcome.ErrCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}

	rec, err := store.LookupStep(ctx, journal.StepID("job-1", "invoke"))
	if err != nil {
		t.Fatalf("LookupStep: %v", err)
	}
	if rec.Status != journal.StepPending {
		t.Fatalf("cancelled step should stay pending, got %s", rec.Status)
	}
}
