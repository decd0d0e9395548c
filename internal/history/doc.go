// Package history keeps a SQLite ledger of finished batches.
//
// The ledger is written once per batch after every item has reached a
// terminal state. It backs the batch listing endpoints and the CLI history
// command; nothing reads it to resume work.
package history
