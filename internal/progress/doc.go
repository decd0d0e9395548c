// Package progress fans pipeline progress events out to live observers.
//
// Publishing never blocks: each subscriber owns a bounded buffer and events
// that do not fit are dropped for that subscriber only. There is no replay, so
// a subscriber sees only events published after it subscribed. Reporter wraps
// the bus for a single item and keeps that item's overall progress
// non-decreasing.
package progress
