package encoder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"reelay/internal/logging"
)

// commandContext is swapped in tests to substitute the external binary.
var commandContext = exec.CommandContext

const stderrTailLimit = 2048

// Adapter invokes ffmpeg once per attempt and classifies the outcome.
type Adapter struct {
	binary   string
	timeout  time.Duration
	grace    time.Duration
	registry *Registry
	logger   *slog.Logger
}

// NewAdapter wires the adapter to its registry. timeout bounds one
// invocation; grace is the TERM-to-KILL window on cancellation.
func NewAdapter(binary string, timeout, grace time.Duration, registry *Registry, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		binary:   binary,
		timeout:  timeout,
		grace:    grace,
		registry: registry,
		logger:   logger,
	}
}

// InvocationRequest describes one encode attempt.
type InvocationRequest struct {
	InputPath  string
	OutputPath string
	Spec       OutputSpec
	// InputDuration enables percent derivation in progress updates; zero
	// disables it.
	InputDuration time.Duration
	OnProgress    func(ProgressUpdate)
}

// InvocationResult is the classified outcome of one attempt. Exactly one
// child process is spawned and reaped per result.
type InvocationResult struct {
	Class      Class
	Reason     string
	ExitCode   int
	StderrTail string
	Duration   time.Duration
	Last       ProgressUpdate
}

// Invoke runs one ffmpeg attempt to completion. Cancellation of ctx
// terminates the child's process group with TERM, escalating to KILL after
// the grace window; the child is always reaped before Invoke returns.
func (a *Adapter) Invoke(ctx context.Context, req InvocationRequest) (InvocationResult, error) {
	args := BuildArgs(req.InputPath, req.OutputPath, req.Spec)

	invokeCtx := ctx
	var cancel context.CancelFunc
	if a.timeout > 0 {
		invokeCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	cmd := commandContext(invokeCtx, a.binary, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return signalGroup(cmd, false)
	}
	cmd.WaitDelay = a.grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return InvocationResult{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return InvocationResult{}, err
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return InvocationResult{
			Class:      ClassFatal,
			Reason:     "encoder failed to start",
			ExitCode:   -1,
			StderrTail: err.Error(),
		}, nil
	}
	a.registry.Add(cmd)
	defer a.registry.Remove(cmd)

	a.logger.DebugContext(ctx, "encoder started",
		logging.FieldComponent, "encoder",
		"binary", a.binary,
		"pid", cmd.Process.Pid,
		"output", req.OutputPath)

	tail := newTailBuffer(stderrTailLimit)
	var last ProgressUpdate

	var pumps errgroup.Group
	pumps.Go(func() error {
		return scanProgress(stdout, req.InputDuration, func(u ProgressUpdate) {
			last = u
			if req.OnProgress != nil {
				req.OnProgress(u)
			}
		})
	})
	pumps.Go(func() error {
		_, err := io.Copy(tail, stderr)
		return err
	})

	pumpErr := pumps.Wait()
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	result := InvocationResult{
		StderrTail: tail.String(),
		Duration:   elapsed,
		Last:       last,
	}

	switch {
	case waitErr == nil:
		result.Class = ClassSuccess
	case ctx.Err() != nil:
		result.Class = ClassCancelled
		result.Reason = "invocation cancelled"
		result.ExitCode = -1
	case invokeCtx.Err() != nil && errors.Is(invokeCtx.Err(), context.DeadlineExceeded):
		result.Class = ClassRecoverable
		result.Reason = "invocation timeout"
		result.ExitCode = -1
	default:
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		result.ExitCode = exitCode
		result.Class, result.Reason = classify(exitCode, exitCode == -1, result.StderrTail)
	}

	if result.Class == ClassSuccess && pumpErr != nil {
		// A broken progress pipe with exit 0 still means the encode finished.
		a.logger.WarnContext(ctx, "progress stream error",
			logging.FieldComponent, "encoder",
			logging.Error(pumpErr))
	}

	a.logger.InfoContext(ctx, "encoder finished",
		logging.FieldComponent, "encoder",
		"class", result.Class.String(),
		"exit_code", result.ExitCode,
		"duration", elapsed.Round(time.Millisecond).String())

	return result, nil
}

// Health verifies the configured binary is present and executable.
func (a *Adapter) Health(ctx context.Context) error {
	cmd := commandContext(ctx, a.binary, "-version")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}
