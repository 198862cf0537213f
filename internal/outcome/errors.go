package outcome

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrorKind names a terminal failure category visible to the orchestrator.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindValidation        ErrorKind = "validation_error"
	KindStaging           ErrorKind = "staging_error"
	KindPublishing        ErrorKind = "publishing_error"
	KindEncoding          ErrorKind = "encoding_error"
	KindTransientEncoding ErrorKind = "transient_encoding_error"
	KindCancelled         ErrorKind = "cancelled"
	KindInternal          ErrorKind = "internal_error"
)

var (
	// ErrValidation marks malformed requests. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrStaging marks I/O failures fetching the source. Retried per policy.
	ErrStaging = errors.New("staging error")
	// ErrPublishing marks I/O failures writing the artifact. Retried per policy.
	ErrPublishing = errors.New("publishing error")
	// ErrEncodingFatal marks deterministic encoder rejections. Never retried.
	ErrEncodingFatal = errors.New("encoding error")
	// ErrEncodingTransient marks recoverable encoder failures. Retried with
	// backoff up to the ceiling, then escalated to ErrEncodingFatal semantics.
	ErrEncodingTransient = errors.New("transient encoding error")
	// ErrCancelled marks external cancellation. Terminal, not retried.
	ErrCancelled = errors.New("cancelled")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrEncodingTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether retry policy may re-attempt the failure.
// Classification happens where the failure occurs; this only reads the tag.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEncodingFatal), errors.Is(err, ErrCancelled):
		return false
	default:
		return true
	}
}

// Kind maps a tagged error to its orchestrator-visible kind.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrEncodingFatal):
		return KindEncoding
	case errors.Is(err, ErrEncodingTransient):
		return KindTransientEncoding
	case errors.Is(err, ErrStaging):
		return KindStaging
	case errors.Is(err, ErrPublishing):
		return KindPublishing
	default:
		return KindInternal
	}
}

// MarkerFor returns the sentinel matching a kind, for reconstructing tagged
// errors from journal records.
func MarkerFor(kind ErrorKind) error {
	switch kind {
	case KindValidation:
		return ErrValidation
	case KindStaging:
		return ErrStaging
	case KindPublishing:
		return ErrPublishing
	case KindEncoding:
		return ErrEncodingFatal
	case KindTransientEncoding:
		return ErrEncodingTransient
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrEncodingTransient
	}
}

// excerptLimit bounds caller-visible diagnostic text so raw process output
// never produces unbounded payloads.
const excerptLimit = 2048

// Excerpt truncates diagnostic output to a bounded length, keeping the tail,
// which is where ffmpeg reports the actual failure. The cut advances past any
// split multi-byte sequence so the result stays valid UTF-8.
func Excerpt(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if len(cleaned) <= excerptLimit {
		return cleaned
	}
	cut := len(cleaned) - excerptLimit
	for cut < len(cleaned) && !utf8.RuneStart(cleaned[cut]) {
		cut++
	}
	return "…" + cleaned[cut:]
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "worker failure"
	}
	return strings.Join(parts, ": ")
}
