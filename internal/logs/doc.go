// Package logs reads the daemon's run log for `imagepipe logs`.
//
// The daemon writes each run to its own file and keeps imagepipe.log in the
// log directory pointing at the active one. Reads use bounded memory, and
// Follow reopens the pointer on every poll so a daemon restart is picked up
// from the start of the new file.
package logs
