// Package daemon assembles the worker: journal store, encoder adapter and
// registry, job state machine, handler, and HTTP server, under a
// single-instance file lock. It owns the shutdown order so live encoder
// children are terminated before the journal closes.
package daemon
