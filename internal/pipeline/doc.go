// Package pipeline drives a batch of uploaded images through enhancement and
// transfer.
//
// Every item runs in its own goroutine and moves through the stages strictly
// in order. A failing item stops where it failed and is reported in the batch
// result without affecting its siblings. Each item owns an artifact tracker so
// its temporary files are deleted exactly once whatever the outcome.
package pipeline
