// Package enhancer wraps the external resolution-enhancement CLI.
//
// The client builds the command line, enforces the configured timeout, keeps
// the tail of the program's output for diagnostics, and verifies that the
// expected output file exists once the program exits cleanly. Command
// execution is abstracted behind Executor so tests can run without the real
// binary.
package enhancer
