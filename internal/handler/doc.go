// Package handler is the orchestrator-facing boundary: it validates
// incoming processing requests, admits them through the concurrency gate,
// and delegates to the job state machine. When a concurrency slot cannot be
// granted within the admission wait budget the handler suspends the
// activation instead of queueing it, so the orchestrator keeps ownership of
// redelivery. The HTTP server maps that contract onto the wire.
package handler
