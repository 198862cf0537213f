// Package journal persists step records and terminal job outcomes, and
// provides the bridge that makes side-effecting work replay-safe.
//
// Every unit of work (stage, invoke, publish, finalize) runs through
// Bridge.RunStep keyed by a deterministic step identifier. A step that
// completed in an earlier activation is never executed again: the bridge
// short-circuits to the recorded result, which is what lets the orchestrator
// replay a crashed request without duplicating encoder runs.
//
// The SQLite store is the durable default used by the daemon and tests; the
// bridge only depends on the small Store interface, so an
// orchestrator-supplied journal can be bound in instead.
package journal
