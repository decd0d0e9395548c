// Package logging assembles structured slog loggers and formatting helpers used
// across imagepipe.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so pipeline code can tag log lines with item
// names, stages, batch IDs, and correlation IDs. A no-op logger is provided for
// tests and for wiring code that has no logger to hand.
package logging
