package encoder

import "strings"

// Class is the adapter's verdict on one invocation attempt.
type Class int

const (
	ClassSuccess Class = iota
	// ClassRecoverable means retrying with the same input may succeed.
	ClassRecoverable
	// ClassFatal means retrying with the same input will deterministically
	// fail again.
	ClassFatal
	// ClassCancelled means the invocation was externally cancelled.
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRecoverable:
		return "recoverable"
	case ClassFatal:
		return "fatal"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// classRule maps a diagnostic-output pattern to a classification. Rules are
// evaluated in order against the lowercased stderr tail; the first match
// wins.
type classRule struct {
	pattern string
	class   Class
	reason  string
}

// classRules is the explicit fatal/recoverable signature table for ffmpeg.
// Deterministic input or argument rejections are fatal; resource and I/O
// conditions are recoverable. Unknown signatures fall through to the
// conservative default below.
var classRules = []classRule{
	{"invalid data found when processing input", ClassFatal, "input rejected by demuxer"},
	{"unknown encoder", ClassFatal, "requested encoder unavailable"},
	{"encoder not found", ClassFatal, "requested encoder unavailable"},
	{"unrecognized option", ClassFatal, "argument rejected"},
	{"option not found", ClassFatal, "argument rejected"},
	{"error opening input", ClassFatal, "input unreadable"},
	{"no such file or directory", ClassFatal, "input missing"},
	{"does not contain any stream", ClassFatal, "no usable stream"},
	{"invalid argument", ClassFatal, "argument rejected"},
	{"experimental codecs are not enabled", ClassFatal, "codec not enabled"},

	{"cannot allocate memory", ClassRecoverable, "memory exhaustion"},
	{"resource temporarily unavailable", ClassRecoverable, "resource exhaustion"},
	{"input/output error", ClassRecoverable, "transient I/O failure"},
	{"connection reset", ClassRecoverable, "transient network failure"},
	{"connection timed out", ClassRecoverable, "transient network failure"},
	{"operation timed out", ClassRecoverable, "transient network failure"},
}

// classify maps one finished attempt to its class. Signal deaths are
// recoverable: the kill came from outside the input data. Everything
// unrecognized defaults to recoverable, bounded upstream by the global retry
// ceiling.
func classify(exitCode int, signalled bool, stderrTail string) (Class, string) {
	if exitCode == 0 {
		return ClassSuccess, ""
	}
	lowered := strings.ToLower(stderrTail)
	for _, rule := range classRules {
		if strings.Contains(lowered, rule.pattern) {
			return rule.class, rule.reason
		}
	}
	if signalled {
		return ClassRecoverable, "terminated by signal"
	}
	return ClassRecoverable, "unrecognized failure"
}
