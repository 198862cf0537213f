package job

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"reelay/internal/outcome"
)

// Workspace owns the per-request staging directories and the output root.
// Each request key gets an exclusive directory; concurrent requests never
// share files.
type Workspace struct {
	root       string
	outputRoot string
	client     *http.Client
}

// NewWorkspace wires the staging and output roots. stagingTimeout bounds a
// single remote fetch attempt.
func NewWorkspace(root, outputRoot string, stagingTimeout time.Duration) *Workspace {
	if stagingTimeout <= 0 {
		stagingTimeout = 10 * time.Minute
	}
	return &Workspace{
		root:       root,
		outputRoot: outputRoot,
		client:     &http.Client{Timeout: stagingTimeout},
	}
}

// Dir returns the exclusive staging directory for a request key.
func (w *Workspace) Dir(requestKey string) string {
	return filepath.Join(w.root, requestKey)
}

// StagedInputPath is where the fetched source lands inside the request
// directory. The source extension is preserved so ffmpeg can sniff the
// container.
func (w *Workspace) StagedInputPath(requestKey, source string) string {
	ext := filepath.Ext(source)
	if ext == "" || len(ext) > 8 {
		ext = ".src"
	}
	return filepath.Join(w.Dir(requestKey), "input"+ext)
}

// ArtifactPath is where the encoder writes its output before publishing.
func (w *Workspace) ArtifactPath(requestKey, extension string) string {
	return filepath.Join(w.Dir(requestKey), "artifact"+extension)
}

// Stage fetches the source into the request directory. Partial fetches are
// written through a pending temp file and promoted atomically, so a crashed
// attempt never leaves a plausible-looking input behind.
func (w *Workspace) Stage(ctx context.Context, requestKey, source string) (string, error) {
	if err := os.MkdirAll(w.Dir(requestKey), 0o755); err != nil {
		return "", outcome.Wrap(outcome.ErrStaging, "staging", "create workspace", "", err)
	}

	staged := w.StagedInputPath(requestKey, source)
	var reader io.ReadCloser
	if isRemoteSource(source) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return "", outcome.Wrap(outcome.ErrValidation, "staging", "build fetch request", "", err)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return "", outcome.Wrap(outcome.ErrStaging, "staging", "fetch source", "", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err := fmt.Errorf("unexpected status %s", resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				// The source itself is bad; retrying cannot help.
				return "", outcome.Wrap(outcome.ErrValidation, "staging", "fetch source", "", err)
			}
			return "", outcome.Wrap(outcome.ErrStaging, "staging", "fetch source", "", err)
		}
		reader = resp.Body
	} else {
		file, err := os.Open(source)
		if err != nil {
			return "", outcome.Wrap(outcome.ErrStaging, "staging", "open source", "", err)
		}
		reader = file
	}
	defer reader.Close()

	pending, err := renameio.NewPendingFile(staged)
	if err != nil {
		return "", outcome.Wrap(outcome.ErrStaging, "staging", "create staging file", "", err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, reader); err != nil {
		return "", outcome.Wrap(outcome.ErrStaging, "staging", "copy source", "", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", outcome.Wrap(outcome.ErrStaging, "staging", "promote staging file", "", err)
	}
	return staged, nil
}

// Publish copies the artifact into the output root as out-<key><ext>,
// atomically, and returns the descriptor (the output file name).
func (w *Workspace) Publish(ctx context.Context, requestKey, artifactPath, extension string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", outcome.Wrap(outcome.ErrCancelled, "publishing", "publish artifact", "", err)
	}
	if err := os.MkdirAll(w.outputRoot, 0o755); err != nil {
		return "", outcome.Wrap(outcome.ErrPublishing, "publishing", "create output root", "", err)
	}

	descriptor := "out-" + requestKey + extension
	target := filepath.Join(w.outputRoot, descriptor)

	source, err := os.Open(artifactPath)
	if err != nil {
		return "", outcome.Wrap(outcome.ErrPublishing, "publishing", "open artifact", "", err)
	}
	defer source.Close()

	pending, err := renameio.NewPendingFile(target)
	if err != nil {
		return "", outcome.Wrap(outcome.ErrPublishing, "publishing", "create output file", "", err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, source); err != nil {
		return "", outcome.Wrap(outcome.ErrPublishing, "publishing", "copy artifact", "", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", outcome.Wrap(outcome.ErrPublishing, "publishing", "promote output file", "", err)
	}
	return descriptor, nil
}

// RemoveStagedInput deletes a previously staged (possibly partial) input.
func (w *Workspace) RemoveStagedInput(requestKey, source string) error {
	err := os.Remove(w.StagedInputPath(requestKey, source))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveArtifact deletes a previously written (possibly partial) artifact.
func (w *Workspace) RemoveArtifact(requestKey, extension string) error {
	err := os.Remove(w.ArtifactPath(requestKey, extension))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Cleanup removes the request directory entirely.
func (w *Workspace) Cleanup(requestKey string) error {
	return os.RemoveAll(w.Dir(requestKey))
}
