// Package services defines shared utilities consumed by the pipeline stages
// and their external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp item names, stage names, batch IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (input, stage execution, transfer, cleanup) for batch results and
//     HTTP responses.
//
// Subpackages wrap the external tools themselves: the enhancer CLI, the
// captioning CLI, and the SFTP transfer client.
package services
