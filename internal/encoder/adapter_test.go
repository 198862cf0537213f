package encoder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"reelay/internal/logging"
)

func stubCommand(t *testing.T, mode string, capture *[]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if capture != nil {
			*capture = append([]string(nil), args...)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "REELAY_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	registry := NewRegistry(2 * time.Second)
	return NewAdapter("ffmpeg", 30*time.Second, 2*time.Second, registry, logging.NewNop())
}

func TestInvokeSuccessReportsProgress(t *testing.T) {
	stubCommand(t, "success", nil)

	var updates []ProgressUpdate
	result, err := testAdapter(t).Invoke(context.Background(), InvocationRequest{
		InputPath:     "/in/a.mkv",
		OutputPath:    "/out/a.mp4",
		InputDuration: 10 * time.Second,
		OnProgress: func(u ProgressUpdate) {
			updates = append(updates, u)
		},
	})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if result.Class != ClassSuccess {
		t.Fatalf("expected success, got %v (%s): %s", result.Class, result.Reason, result.StderrTail)
	}
	if len(updates) == 0 {
		t.Fatal("expected progress updates")
	}
	final := updates[len(updates)-1]
	if !final.Done || final.Percent != 100 {
		t.Fatalf("expected terminal progress block, got %+v", final)
	}
}

func TestInvokeFatalFailure(t *testing.T) {
	stubCommand(t, "fatal", nil)

	result, err := testAdapter(t).Invoke(context.Background(), InvocationRequest{
		InputPath:  "/in/a.mkv",
		OutputPath: "/out/a.mp4",
	})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if result.Class != ClassFatal {
		t.Fatalf("expected fatal class, got %v (%s)", result.Class, result.Reason)
	}
	if result.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", result.ExitCode)
	}
	if result.StderrTail == "" {
		t.Fatal("expected diagnostic tail to be captured")
	}
}

func TestInvokeRecoverableFailure(t *testing.T) {
	stubCommand(t, "recoverable", nil)

	result, err := testAdapter(t).Invoke(context.Background(), InvocationRequest{
		InputPath:  "/in/a.mkv",
		OutputPath: "/out/a.mp4",
	})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if result.Class != ClassRecoverable {
		t.Fatalf("expected recoverable class, got %v (%s)", result.Class, result.Reason)
	}
}

func TestInvokeStderrTailBounded(t *testing.T) {
	stubCommand(t, "noisy", nil)

	result, err := testAdapter(t).Invoke(context.Background(), InvocationRequest{
		InputPath:  "/in/a.mkv",
		OutputPath: "/out/a.mp4",
	})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if len(result.StderrTail) > stderrTailLimit {
		t.Fatalf("expected tail bounded at %d bytes, got %d", stderrTailLimit, len(result.StderrTail))
	}
}

func TestInvokeCancellationIsPrompt(t *testing.T) {
	stubCommand(t, "hang", nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := testAdapter(t).Invoke(ctx, InvocationRequest{
		InputPath:  "/in/a.mkv",
		OutputPath: "/out/a.mp4",
	})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if result.Class != ClassCancelled {
		t.Fatalf("expected cancelled class, got %v (%s)", result.Class, result.Reason)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation took too long: %v", elapsed)
	}
}

func TestInvokeStartFailureIsFatal(t *testing.T) {
	registry := NewRegistry(time.Second)
	adapter := NewAdapter("/nonexistent/reelay-ffmpeg", time.Second, time.Second, registry, logging.NewNop())

	result, err := adapter.Invoke(context.Background(), InvocationRequest{
		InputPath:  "/in/a.mkv",
		OutputPath: "/out/a.mp4",
	})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if result.Class != ClassFatal {
		t.Fatalf("expected fatal class when binary missing, got %v", result.Class)
	}
}

func TestRegistryTracksChildren(t *testing.T) {
	registry := NewRegistry(time.Second)
	if registry.Active() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Active())
	}
	cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "REELAY_HELPER_MODE=success")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start helper: %v", err)
	}
	registry.Add(cmd)
	if registry.Active() != 1 {
		t.Fatalf("expected one tracked child, got %d", registry.Active())
	}
	_ = cmd.Wait()
	registry.Remove(cmd)
	if registry.Active() != 0 {
		t.Fatalf("expected registry drained, got %d", registry.Active())
	}
}

func TestRegistryShutdownDuringLiveWait(t *testing.T) {
	registry := NewRegistry(5 * time.Second)

	cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "REELAY_HELPER_MODE=hang")
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start helper: %v", err)
	}
	registry.Add(cmd)

	// Reap in the owning goroutine, exactly as the adapter does.
	reaped := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		registry.Remove(cmd)
		reaped <- err
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	registry.Shutdown(shutdownCtx)

	select {
	case <-reaped:
	case <-time.After(10 * time.Second):
		t.Fatal("child not reaped after shutdown")
	}
	if registry.Active() != 0 {
		t.Fatalf("expected registry drained, got %d", registry.Active())
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("REELAY_HELPER_MODE") {
	case "success":
		fmt.Println("frame=100")
		fmt.Println("out_time_us=5000000")
		fmt.Println("speed=2.0x")
		fmt.Println("progress=continue")
		fmt.Println("frame=200")
		fmt.Println("out_time_us=10000000")
		fmt.Println("speed=2.1x")
		fmt.Println("progress=end")
		os.Exit(0)
	case "fatal":
		fmt.Fprintln(os.Stderr, "broken.mp4: Invalid data found when processing input")
		os.Exit(1)
	case "recoverable":
		fmt.Fprintln(os.Stderr, "av_malloc failed: Cannot allocate memory")
		os.Exit(1)
	case "noisy":
		for i := 0; i < 500; i++ {
			fmt.Fprintln(os.Stderr, "frame dropped while filtering, continuing anyway")
		}
		fmt.Fprintln(os.Stderr, "write error: Input/output error")
		os.Exit(1)
	case "hang":
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "probe":
		fmt.Println(`{
  "format": {"filename": "a.mkv", "format_name": "matroska,webm", "duration": "12.500000", "size": "1048576", "bit_rate": "671088"},
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "channels": 2, "sample_rate": "48000"}
  ]
}`)
		os.Exit(0)
	case "probe-fail":
		fmt.Fprintln(os.Stderr, "a.mkv: No such file or directory")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
