// Package daemon coordinates the long-running imagepipe process.
//
// It wires the HTTP API, the maintenance scheduler, and the optional inbox
// watcher into a single lifecycle with flock-based locking to prevent multiple
// instances. Batch execution itself lives in the pipeline package; the daemon
// focuses on startup, shutdown, periodic housekeeping, and status reporting.
//
// Shutdown order matters: the HTTP server and scheduler stop first so no new
// work starts, the inbox watcher drains, the shared SFTP connection closes,
// and only then is the instance lock released.
package daemon
