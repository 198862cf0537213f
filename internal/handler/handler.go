package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"reelay/internal/encoder"
	"reelay/internal/job"
	"reelay/internal/logging"
	"reelay/internal/outcome"
)

// SuspendSignal tells the orchestrator to redeliver the activation later
// instead of waiting for a concurrency slot. It is a control-flow signal,
// not a job failure: no outcome is recorded.
type SuspendSignal struct {
	RetryAfter time.Duration
}

func (s *SuspendSignal) Error() string {
	return fmt.Sprintf("suspended, retry after %s", s.RetryAfter)
}

// AsSuspend extracts a suspension signal from an error chain.
func AsSuspend(err error) (*SuspendSignal, bool) {
	var signal *SuspendSignal
	if errors.As(err, &signal) {
		return signal, true
	}
	return nil, false
}

// Runner is the state machine surface the handler drives.
type Runner interface {
	Run(ctx context.Context, req job.ProcessingRequest) (outcome.JobOutcome, error)
}

// HealthChecker is the journal surface the readiness check consumes.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Options configures a Handler.
type Options struct {
	ConcurrencyLimit int
	AdmissionWait    time.Duration
	// RetryAfter is the redelivery hint attached to suspension signals.
	RetryAfter    time.Duration
	WorkspaceRoot string
	OutputRoot    string
}

// Handler is the orchestrator-facing entry point.
type Handler struct {
	machine Runner
	adapter *encoder.Adapter
	prober  *encoder.Prober
	journal HealthChecker
	opts    Options
	gate    *semaphore.Weighted
	metrics *Metrics
	logger  *slog.Logger
}

func New(machine Runner, adapter *encoder.Adapter, prober *encoder.Prober, journal HealthChecker, opts Options, metrics *Metrics, logger *slog.Logger) *Handler {
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = 1
	}
	if opts.AdmissionWait <= 0 {
		opts.AdmissionWait = 250 * time.Millisecond
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 15 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		machine: machine,
		adapter: adapter,
		prober:  prober,
		journal: journal,
		opts:    opts,
		gate:    semaphore.NewWeighted(int64(opts.ConcurrencyLimit)),
		metrics: metrics,
		logger:  logger,
	}
}

// Handle validates the request, admits it through the concurrency gate, and
// drives it to a terminal outcome. When no slot frees up within the
// admission wait it returns a SuspendSignal; the orchestrator redelivers
// and replays of already-durable steps are side-effect free.
func (h *Handler) Handle(ctx context.Context, req job.ProcessingRequest) (outcome.JobOutcome, error) {
	ctx = outcome.WithCorrelationID(ctx, uuid.NewString())
	ctx = outcome.WithRequestKey(ctx, req.Key)
	logger := logging.WithContext(ctx, h.logger)

	// Invalid requests never contend for a slot; the machine records the
	// terminal validation failure without touching the encoder.
	if err := req.Validate(); err != nil {
		return h.run(ctx, req)
	}

	admitCtx, cancel := context.WithTimeout(ctx, h.opts.AdmissionWait)
	defer cancel()
	if err := h.gate.Acquire(admitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return outcome.JobOutcome{}, ctx.Err()
		}
		if h.metrics != nil {
			h.metrics.suspended()
		}
		logger.Info("activation suspended",
			logging.String(logging.FieldEventType, "suspended"),
			logging.Duration("retry_after", h.opts.RetryAfter),
		)
		return outcome.JobOutcome{}, &SuspendSignal{RetryAfter: h.opts.RetryAfter}
	}
	defer h.gate.Release(1)

	if h.metrics != nil {
		h.metrics.jobAdmitted()
		defer h.metrics.jobReleased()
	}

	return h.run(ctx, req)
}

func (h *Handler) run(ctx context.Context, req job.ProcessingRequest) (outcome.JobOutcome, error) {
	out, err := h.machine.Run(ctx, req)
	if err != nil {
		return outcome.JobOutcome{}, err
	}
	if h.metrics != nil {
		h.metrics.outcomeRecorded(string(out.Status), string(out.ErrorKind))
	}
	return out, nil
}

// Probe inspects a media source without journaling anything.
func (h *Handler) Probe(ctx context.Context, source string) (encoder.MediaInfo, error) {
	if h.prober == nil {
		return encoder.MediaInfo{}, errors.New("prober not configured")
	}
	return h.prober.Probe(ctx, source)
}

// HealthStatus is the readiness report for the daemon.
type HealthStatus struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

// Health verifies the external binaries, the journal, and the roots. It has
// no side effects and is safe to call at any frequency.
func (h *Handler) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{Ready: true, Checks: make(map[string]string)}
	check := func(name string, err error) {
		if err != nil {
			status.Ready = false
			status.Checks[name] = err.Error()
			return
		}
		status.Checks[name] = "ok"
	}

	if h.adapter != nil {
		check("ffmpeg", h.adapter.Health(ctx))
	}
	if h.prober != nil {
		check("ffprobe", h.prober.Health(ctx))
	}
	if h.journal != nil {
		check("journal", h.journal.CheckHealth(ctx))
	}
	check("workspace_root", dirUsable(h.opts.WorkspaceRoot))
	check("output_root", dirUsable(h.opts.OutputRoot))
	return status
}

func dirUsable(path string) error {
	if path == "" {
		return errors.New("not configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
