// Command imagepipe runs the image enhancement daemon and talks to it over
// its HTTP API.
//
// `imagepipe serve` starts the daemon in the foreground. The remaining
// commands (upload, captions, watch, status, history) are thin clients that
// reach the daemon at the configured api_bind address, or at --server when
// given. `imagepipe config init` writes a sample configuration.
package main
