// Package job owns the per-request state machine: validate, stage the
// source into an exclusive workspace, invoke the encoder, publish the
// artifact, and finalize. Every side-effecting state runs as a journaled
// step, so a replay of the same request key resumes after the last durable
// step instead of repeating work. Retry policy lives here and only here;
// failure classification is read from the error tags, never reinterpreted.
package job
