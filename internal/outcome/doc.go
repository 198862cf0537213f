// Package outcome defines the failure taxonomy and terminal job results
// shared by the journal bridge, the encoder adapter, and the job state
// machine.
//
// Key responsibilities:
//   - Sentinel error markers plus the Wrap helper that tag failures at the
//     point of occurrence; downstream code inspects the marker with
//     errors.Is and never re-classifies the underlying cause.
//   - Retryable reports whether policy may re-attempt a failure.
//   - JobOutcome, the value returned to the orchestrator exactly once per
//     request, carrying either an output descriptor or an error kind with a
//     bounded diagnostic message.
//   - Context helpers that stamp request keys, stages, and correlation
//     identifiers for logging.
package outcome
