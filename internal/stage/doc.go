// Package stage names the pipeline stages, the lifecycle statuses an item
// moves through, and the readiness record stage adapters report.
package stage
