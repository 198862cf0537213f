package job

import (
	"net/url"
	"os"
	"strings"

	"reelay/internal/encoder"
	"reelay/internal/outcome"
)

// ProcessingRequest is one transcoding request from the orchestrator. It is
// immutable once accepted; the request key is the idempotence key for every
// journaled step and for the terminal outcome.
type ProcessingRequest struct {
	Key      string             `json:"key"`
	Source   string             `json:"source"`
	Output   encoder.OutputSpec `json:"output"`
	Metadata map[string]string  `json:"metadata,omitempty"`
}

// ValidateKey checks the request key alone. The key namespaces workspace
// directories, step identifiers, and the terminal outcome row, so a request
// without a usable key cannot be journaled at all.
func (r ProcessingRequest) ValidateKey() error {
	key := strings.TrimSpace(r.Key)
	if key == "" {
		return outcome.Wrap(outcome.ErrValidation, "validating", "request key", "must not be empty", nil)
	}
	if strings.ContainsAny(key, "/\\\x00") || key == "." || key == ".." {
		return outcome.Wrap(outcome.ErrValidation, "validating", "request key", "contains path elements", nil)
	}
	return nil
}

// Validate rejects requests the state machine must not journal steps for.
// A validation failure is terminal and never retried.
func (r ProcessingRequest) Validate() error {
	if err := r.ValidateKey(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Source) == "" {
		return outcome.Wrap(outcome.ErrValidation, "validating", "source", "must not be empty", nil)
	}
	if err := resolveSource(r.Source); err != nil {
		return err
	}
	if err := r.Output.Validate(); err != nil {
		return outcome.Wrap(outcome.ErrValidation, "validating", "output options", err.Error(), nil)
	}
	return nil
}

// resolveSource confirms the source names something fetchable: an existing
// local file or an http(s) URL. Remote reachability is a staging concern,
// not a validation one.
func resolveSource(source string) error {
	if isRemoteSource(source) {
		u, err := url.Parse(source)
		if err != nil || u.Host == "" {
			return outcome.Wrap(outcome.ErrValidation, "validating", "source", "malformed URL", err)
		}
		return nil
	}
	info, err := os.Stat(source)
	if err != nil {
		return outcome.Wrap(outcome.ErrValidation, "validating", "source", "not found", err)
	}
	if info.IsDir() {
		return outcome.Wrap(outcome.ErrValidation, "validating", "source", "is a directory", nil)
	}
	return nil
}

func isRemoteSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
