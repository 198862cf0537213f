package encoder

import "testing"

func TestClassifySuccess(t *testing.T) {
	class, reason := classify(0, false, "")
	if class != ClassSuccess {
		t.Fatalf("expected success, got %v (%s)", class, reason)
	}
}

func TestClassifyFatalSignatures(t *testing.T) {
	tails := []string{
		"[mov,mp4] moov atom not found\nbroken.mp4: Invalid data found when processing input",
		"Unknown encoder 'libx266'",
		"Unrecognized option 'badflag'.",
		"Error opening input: No such file or directory",
		"input.mkv: does not contain any stream",
	}
	for _, tail := range tails {
		class, _ := classify(1, false, tail)
		if class != ClassFatal {
			t.Fatalf("expected fatal for %q, got %v", tail, class)
		}
	}
}

func TestClassifyRecoverableSignatures(t *testing.T) {
	tails := []string{
		"av_malloc failed: Cannot allocate memory",
		"read error: Input/output error",
		"tcp: connection reset by peer",
	}
	for _, tail := range tails {
		class, _ := classify(1, false, tail)
		if class != ClassRecoverable {
			t.Fatalf("expected recoverable for %q, got %v", tail, class)
		}
	}
}

func TestClassifyUnknownDefaultsRecoverable(t *testing.T) {
	class, reason := classify(187, false, "something nobody has seen before")
	if class != ClassRecoverable {
		t.Fatalf("expected recoverable default, got %v (%s)", class, reason)
	}
}

func TestClassifySignalDeathRecoverable(t *testing.T) {
	class, _ := classify(-1, true, "")
	if class != ClassRecoverable {
		t.Fatalf("expected signal death to be recoverable, got %v", class)
	}
}

func TestClassifyOrderFirstMatchWins(t *testing.T) {
	// A tail carrying both a fatal and a recoverable signature resolves to
	// the earlier fatal rule.
	tail := "Invalid data found when processing input after connection reset"
	class, _ := classify(1, false, tail)
	if class != ClassFatal {
		t.Fatalf("expected first matching rule to win, got %v", class)
	}
}
