// Package logging assembles structured slog loggers used across reelhook.
//
// It owns the console and JSON handlers, level and output plumbing, and
// context helpers that tag log lines with job IDs, stages, worker slots, and
// correlation IDs. A no-op logger is provided for tests and optional wiring.
package logging
