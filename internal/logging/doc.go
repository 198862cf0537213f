// Package logging constructs the slog loggers used across the worker and
// standardizes the structured field keys attached to them.
//
// Console output is used when stdout is an interactive terminal; otherwise
// JSON is emitted so the orchestrator's log pipeline can ingest records.
// Context-derived attributes (request key, stage, correlation id) are added
// through WithContext so every stage logs with the same identity fields.
package logging
