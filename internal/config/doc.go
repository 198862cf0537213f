// Package config loads, normalizes, and validates reelay configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies REELAY_* environment overrides
// for every recognized option. The Config type centralizes every knob the
// worker daemon and CLI need: the admission limit for concurrent encodes,
// retry policy, per-invocation time limit, workspace and output roots, and
// the encoder binary locations.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
