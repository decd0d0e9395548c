// Package apiclient is the HTTP client the imagepipe CLI uses to talk to a
// running daemon. It decodes the wire types defined in package api.
package apiclient
