// Package logging assembles structured slog loggers and formatting helpers used
// across MediaMiner.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so dispatch and batch code tag log lines
// with correlation IDs, batch IDs, and item names. Attributes whose keys name
// secrets are redacted by both handlers.
package logging
