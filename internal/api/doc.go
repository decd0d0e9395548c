// Package api exposes imagepipe over HTTP and defines the wire-format types
// the CLI client decodes.
//
// # Routes
//
// POST /images/upload: multipart batch intake; runs the batch to completion
// and returns per-item outcomes.
//
// GET /images/events, GET /images/events/ws: live progress fan-out over
// server-sent events or a websocket. Neither replays past events.
//
// POST /images/captions: caption search for uploaded images (when enabled).
//
// GET /api/status, /api/batches, /api/batches/{id}: daemon status and the
// batch history ledger.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Errors are always {"error": "..."} with the
// status code chosen by services.HTTPStatus. Batch execution is detached from
// the request context: a client that disconnects mid-batch does not cancel
// items already in flight.
package api
