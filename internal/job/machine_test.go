package job_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"reelay/internal/config"
	"reelay/internal/encoder"
	"reelay/internal/job"
	"reelay/internal/journal"
	"reelay/internal/logging"
	"reelay/internal/outcome"
	"reelay/internal/testsupport"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
	return path
}

// ffmpegSuccess emits one progress block and writes the output file, which
// the argument list places last.
const ffmpegSuccess = `for a in "$@"; do out="$a"; done
echo "frame=10"
echo "out_time_us=1000000"
echo "progress=end"
echo encoded > "$out"
exit 0
`

const ffprobeStub = `echo '{"format":{"format_name":"matroska","duration":"2.0"},"streams":[{"index":0,"codec_type":"video","codec_name":"h264"}]}'
exit 0
`

// countingScript prepends an invocation counter to body.
func countingScript(counterPath, body string) string {
	return fmt.Sprintf(`n=$(cat %[1]s 2>/dev/null || echo 0)
n=$((n+1))
echo $n > %[1]s
%[2]s`, counterPath, body)
}

func readCounter(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("read counter: %v", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse counter: %v", err)
	}
	return n
}

func newTestMachine(t *testing.T, cfg *config.Config, store *journal.SQLiteStore, ffmpegPath, ffprobePath string) *job.Machine {
	t.Helper()
	logger := logging.NewNop()
	registry := encoder.NewRegistry(time.Second)
	adapter := encoder.NewAdapter(ffmpegPath, cfg.InvokeTimeout(), time.Second, registry, logger)
	var prober *encoder.Prober
	if ffprobePath != "" {
		prober = encoder.NewProber(ffprobePath)
	}
	workspace := job.NewWorkspace(cfg.Paths.WorkspaceRoot, cfg.Paths.OutputRoot, cfg.StagingTimeout())
	bridge := journal.NewBridge(store, logger)
	policy := job.Policy{
		MaxAttempts: cfg.Jobs.MaxAttempts,
		Backoff:     job.Backoff{Base: cfg.BackoffBase(), Ceiling: cfg.BackoffCeiling()},
	}
	return job.NewMachine(bridge, store, adapter, prober, workspace, policy, nil, logger)
}

func sourceFile(t *testing.T, cfg *config.Config) string {
	t.Helper()
	source := filepath.Join(cfg.Paths.WorkspaceRoot, "..", "source.mkv")
	testsupport.WriteMediaFixture(t, source, 64)
	return source
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ffmpeg := writeScript(t, "ffmpeg", ffmpegSuccess)
	ffprobe := writeScript(t, "ffprobe", ffprobeStub)
	machine := newTestMachine(t, cfg, store, ffmpeg, ffprobe)

	req := job.ProcessingRequest{Key: "job-1", Source: sourceFile(t, cfg)}
	out, err := machine.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !out.Succeeded() {
		t.Fatalf("expected completed outcome, got %+v", out)
	}
	if out.OutputDescriptor != "out-job-1.mp4" {
		t.Fatalf("expected descriptor out-job-1.mp4, got %q", out.OutputDescriptor)
	}

	published := filepath.Join(cfg.Paths.OutputRoot, "out-job-1.mp4")
	if _, err := os.Stat(published); err != nil {
		t.Fatalf("expected published artifact: %v", err)
	}

	steps, err := store.StepsForRequest(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("StepsForRequest: %v", err)
	}
	if len(steps) != 4 {
		t.Fatalf("expected exactly 4 journaled steps, got %d", len(steps))
	}
	for _, step := range steps {
		if step.Status != journal.StepCompleted {
			t.Fatalf("expected step %s completed, got %s", step.StepID, step.Status)
		}
	}
}

func TestRunReplayOfFinishedRequest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	counter := filepath.Join(t.TempDir(), "count")
	ffmpeg := writeScript(t, "ffmpeg", countingScript(counter, ffmpegSuccess))
	ffprobe := writeScript(t, "ffprobe", ffprobeStub)
	machine := newTestMachine(t, cfg, store, ffmpeg, ffprobe)

	req := job.ProcessingRequest{Key: "job-replay", Source: sourceFile(t, cfg)}
	first, err := machine.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if readCounter(t, counter) != 1 {
		t.Fatalf("expected one invocation, got %d", readCounter(t, counter))
	}

	// A fresh machine over the same journal models a restarted worker.
	replayed, err := newTestMachine(t, cfg, store, ffmpeg, ffprobe).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("replay Run: %v", err)
	}
	if replayed != first {
		t.Fatalf("expected recorded outcome replayed, got %+v vs %+v", replayed, first)
	}
	if readCounter(t, counter) != 1 {
		t.Fatalf("replay must not re-invoke the encoder, got %d invocations", readCounter(t, counter))
	}
}

func TestRunResumesAfterCrashBetweenSteps(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ffprobe := writeScript(t, "ffprobe", ffprobeStub)

	source := sourceFile(t, cfg)
	req := job.ProcessingRequest{Key: "job-crash", Source: source}

	// Seed the journal as a crashed activation left it: stage and invoke
	// completed, no publish, no terminal outcome.
	workspace := job.NewWorkspace(cfg.Paths.WorkspaceRoot, cfg.Paths.OutputRoot, cfg.StagingTimeout())
	stagedPath := workspace.StagedInputPath("job-crash", source)
	testsupport.WriteMediaFixture(t, stagedPath, 64)
	artifactPath := workspace.ArtifactPath("job-crash", ".mp4")
	testsupport.WriteMediaFixture(t, artifactPath, 64)

	ctx := context.Background()
	for _, record := range []*journal.StepRecord{
		{
			StepID:     journal.StepID("job-crash", job.StepStage),
			RequestKey: "job-crash",
			StepName:   job.StepStage,
			Status:     journal.StepCompleted,
			Attempts:   1,
			Payload:    fmt.Sprintf(`{"stagedPath":%q,"durationMs":2000}`, stagedPath),
		},
		{
			StepID:     journal.StepID("job-crash", job.StepInvoke),
			RequestKey: "job-crash",
			StepName:   job.StepInvoke,
			Status:     journal.StepCompleted,
			Attempts:   1,
			Payload:    fmt.Sprintf(`{"artifactPath":%q,"exitCode":0,"durationMs":50}`, artifactPath),
		},
	} {
		if err := store.SaveStep(ctx, record); err != nil {
			t.Fatalf("seed step %s: %v", record.StepID, err)
		}
	}

	// An encoder that would fail fatally proves the completed steps are
	// replayed, not re-executed.
	ffmpeg := writeScript(t, "ffmpeg", `echo "must not run" >&2
exit 1
`)
	machine := newTestMachine(t, cfg, store, ffmpeg, ffprobe)
	out, err := machine.Run(ctx, req)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if !out.Succeeded() {
		t.Fatalf("expected resumed run to complete, got %+v", out)
	}
	if out.OutputDescriptor != "out-job-crash.mp4" {
		t.Fatalf("unexpected descriptor %q", out.OutputDescriptor)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.OutputRoot, "out-job-crash.mp4")); err != nil {
		t.Fatalf("expected published artifact: %v", err)
	}
}

func TestRunRetryCeilingExact(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(3))
	store := testsupport.MustOpenStore(t, cfg)
	counter := filepath.Join(t.TempDir(), "count")
	ffmpeg := writeScript(t, "ffmpeg", countingScript(counter, `echo "write error: Input/output error" >&2
exit 1
`))
	machine := newTestMachine(t, cfg, store, ffmpeg, "")

	req := job.ProcessingRequest{Key: "job-retry", Source: sourceFile(t, cfg)}
	out, err := machine.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Succeeded() {
		t.Fatalf("expected failure, got %+v", out)
	}
	if out.ErrorKind != outcome.KindEncoding {
		t.Fatalf("expected exhausted transient failure to report encoding_error, got %s", out.ErrorKind)
	}
	if got := readCounter(t, counter); got != 3 {
		t.Fatalf("expected exactly 3 invocations, got %d", got)
	}
}

func TestRunFatalShortCircuits(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(5))
	store := testsupport.MustOpenStore(t, cfg)
	counter := filepath.Join(t.TempDir(), "count")
	ffmpeg := writeScript(t, "ffmpeg", countingScript(counter, `echo "broken.mkv: Invalid data found when processing input" >&2
exit 1
`))
	machine := newTestMachine(t, cfg, store, ffmpeg, "")

	req := job.ProcessingRequest{Key: "job-fatal", Source: sourceFile(t, cfg)}
	out, err := machine.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.ErrorKind != outcome.KindEncoding {
		t.Fatalf("expected encoding_error, got %s", out.ErrorKind)
	}
	if out.Message == "" {
		t.Fatal("expected diagnostic excerpt in the outcome message")
	}
	if got := readCounter(t, counter); got != 1 {
		t.Fatalf("fatal failure must invoke exactly once, got %d", got)
	}

	// Even a fresh activation with a higher ceiling never retries a fatal
	// step: the journal short-circuits it.
	if _, err := machine.Run(context.Background(), req); err != nil {
		t.Fatalf("replay Run: %v", err)
	}
	if got := readCounter(t, counter); got != 1 {
		t.Fatalf("fatal step must never re-execute, got %d invocations", got)
	}
}

func TestRunValidationFailureJournalsNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ffmpeg := writeScript(t, "ffmpeg", ffmpegSuccess)
	machine := newTestMachine(t, cfg, store, ffmpeg, "")

	out, err := machine.Run(context.Background(), job.ProcessingRequest{Key: "", Source: "x"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.ErrorKind != outcome.KindValidation {
		t.Fatalf("expected validation_error, got %s", out.ErrorKind)
	}

	steps, err := store.StepsForRequest(context.Background(), "")
	if err != nil {
		t.Fatalf("StepsForRequest: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("validation failure must journal zero steps, got %d", len(steps))
	}
}

func TestRunUnusableKeyRecordsNoOutcome(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ffmpeg := writeScript(t, "ffmpeg", ffmpegSuccess)
	machine := newTestMachine(t, cfg, store, ffmpeg, "")

	ctx := context.Background()
	first, err := machine.Run(ctx, job.ProcessingRequest{Key: "", Source: "x"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	second, err := machine.Run(ctx, job.ProcessingRequest{Key: "../escape", Source: "y"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if first.ErrorKind != outcome.KindValidation || second.ErrorKind != outcome.KindValidation {
		t.Fatalf("expected validation failures, got %s and %s", first.ErrorKind, second.ErrorKind)
	}
	if first.Message == second.Message {
		t.Fatalf("distinct malformed requests must not share a message: %q", first.Message)
	}

	for _, key := range []string{"", "../escape"} {
		recorded, err := store.LookupOutcome(ctx, key)
		if err != nil {
			t.Fatalf("LookupOutcome %q: %v", key, err)
		}
		if recorded != nil {
			t.Fatalf("unusable key %q must not record an outcome, got %+v", key, recorded)
		}
	}
}

func TestRunCancellationIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ffmpeg := writeScript(t, "ffmpeg", "sleep 30\nexit 0\n")
	machine := newTestMachine(t, cfg, store, ffmpeg, "")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	req := job.ProcessingRequest{Key: "job-cancel", Source: sourceFile(t, cfg)}
	out, err := machine.Run(ctx, req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.ErrorKind != outcome.KindCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", out)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("cancellation took too long: %v", elapsed)
	}

	// The terminal outcome is durable despite the cancelled context.
	recorded, err := store.LookupOutcome(context.Background(), "job-cancel")
	if err != nil {
		t.Fatalf("LookupOutcome: %v", err)
	}
	if recorded == nil || recorded.ErrorKind != outcome.KindCancelled {
		t.Fatalf("expected recorded cancelled outcome, got %+v", recorded)
	}
}

func TestRunTransientThenSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(3))
	store := testsupport.MustOpenStore(t, cfg)
	counter := filepath.Join(t.TempDir(), "count")
	ffmpeg := writeScript(t, "ffmpeg", countingScript(counter, `if [ "$n" -lt 2 ]; then
  echo "write error: Input/output error" >&2
  exit 1
fi
`+ffmpegSuccess))
	ffprobe := writeScript(t, "ffprobe", ffprobeStub)
	machine := newTestMachine(t, cfg, store, ffmpeg, ffprobe)

	req := job.ProcessingRequest{Key: "job-flaky", Source: sourceFile(t, cfg)}
	out, err := machine.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !out.Succeeded() {
		t.Fatalf("expected success after retry, got %+v", out)
	}
	if got := readCounter(t, counter); got != 2 {
		t.Fatalf("expected 2 invocations, got %d", got)
	}

	steps, err := store.StepsForRequest(context.Background(), "job-flaky")
	if err != nil {
		t.Fatalf("StepsForRequest: %v", err)
	}
	for _, step := range steps {
		if step.StepName == job.StepInvoke && step.Attempts != 2 {
			t.Fatalf("expected invoke attempts persisted as 2, got %d", step.Attempts)
		}
	}
}
