package outcome_test

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"reelay/internal/outcome"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := outcome.Wrap(outcome.ErrEncodingTransient, "invoking", "ffmpeg", "exit status 1", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, outcome.ErrEncodingTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"invoking", "ffmpeg", "exit status 1"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		marker error
		want   bool
	}{
		{outcome.ErrValidation, false},
		{outcome.ErrEncodingFatal, false},
		{outcome.ErrCancelled, false},
		{outcome.ErrEncodingTransient, true},
		{outcome.ErrStaging, true},
		{outcome.ErrPublishing, true},
	}
	for _, tc := range cases {
		err := outcome.Wrap(tc.marker, "stage", "op", "msg", nil)
		if got := outcome.Retryable(err); got != tc.want {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.marker, got, tc.want)
		}
	}
	if outcome.Retryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		marker error
		want   outcome.ErrorKind
	}{
		{outcome.ErrValidation, outcome.KindValidation},
		{outcome.ErrStaging, outcome.KindStaging},
		{outcome.ErrPublishing, outcome.KindPublishing},
		{outcome.ErrEncodingFatal, outcome.KindEncoding},
		{outcome.ErrEncodingTransient, outcome.KindTransientEncoding},
		{outcome.ErrCancelled, outcome.KindCancelled},
	}
	for _, tc := range cases {
		err := outcome.Wrap(tc.marker, "stage", "op", "", nil)
		if got := outcome.Kind(err); got != tc.want {
			t.Fatalf("Kind(%v) = %s, want %s", tc.marker, got, tc.want)
		}
	}
	if got := outcome.Kind(errors.New("untagged")); got != outcome.KindInternal {
		t.Fatalf("expected untagged error to map to internal, got %s", got)
	}
}

func TestFailedEscalatesExhaustedTransient(t *testing.T) {
	err := outcome.Wrap(outcome.ErrEncodingTransient, "invoking", "ffmpeg", "retry ceiling reached", nil)
	out := outcome.Failed("job-9", err)
	if out.ErrorKind != outcome.KindEncoding {
		t.Fatalf("expected exhausted transient to surface as encoding error, got %s", out.ErrorKind)
	}
	if out.Succeeded() {
		t.Fatal("failed outcome must not report success")
	}
}

func TestExcerptBoundsLength(t *testing.T) {
	long := strings.Repeat("x", 10_000) + " tail marker"
	got := outcome.Excerpt(long)
	if len(got) > 2100 {
		t.Fatalf("excerpt too long: %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "tail marker") {
		t.Fatalf("excerpt should keep the tail, got %q", got[:40])
	}
	if outcome.Excerpt("  short  ") != "short" {
		t.Fatal("short excerpts should pass through trimmed")
	}
}

func TestExcerptKeepsValidUTF8(t *testing.T) {
	// The odd-length tail forces the byte-offset cut to land inside one of
	// the two-byte runes.
	long := strings.Repeat("é", 5_000) + " Fehler beim Öffnen."
	got := outcome.Excerpt(long)
	if !utf8.ValidString(got) {
		t.Fatalf("excerpt is not valid UTF-8: %q", got[:20])
	}
	if !strings.HasSuffix(got, "Fehler beim Öffnen.") {
		t.Fatalf("excerpt should keep the tail, got %q", got[len(got)-40:])
	}
}
