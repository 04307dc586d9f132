// Package liberrors contains errors returned by the library.
package liberrors

import (
	"fmt"

	"github.com/bluenviron/rtspcore/pkg/base"
)

// ErrServerTerminated is an error that can be returned by a server.
type ErrServerTerminated struct{}

// Error implements the error interface.
func (e ErrServerTerminated) Error() string {
	return "terminated"
}

// ErrServerCSeqMissing is an error that can be returned by a server.
type ErrServerCSeqMissing struct{}

// Error implements the error interface.
func (e ErrServerCSeqMissing) Error() string {
	return "CSeq is missing"
}

// ErrServerInvalidRequest is an error that can be returned by a server.
type ErrServerInvalidRequest struct {
	Message string
}

// Error implements the error interface.
func (e ErrServerInvalidRequest) Error() string {
	return "invalid request: " + e.Message
}

// ErrServerUnauthorized is an error that can be returned by a server.
type ErrServerUnauthorized struct {
	Stale bool
}

// Error implements the error interface.
func (e ErrServerUnauthorized) Error() string {
	if e.Stale {
		return "unauthorized: stale nonce"
	}
	return "unauthorized"
}

// ErrServerPathNotFound is an error that can be returned by a server.
type ErrServerPathNotFound struct {
	Path string
}

// Error implements the error interface.
func (e ErrServerPathNotFound) Error() string {
	return fmt.Sprintf("path '%s' not found", e.Path)
}

// ErrServerSessionNotFound is an error that can be returned by a server.
type ErrServerSessionNotFound struct{}

// Error implements the error interface.
func (e ErrServerSessionNotFound) Error() string {
	return "session not found"
}

// ErrServerMethodNotValidInState is an error that can be returned by a server.
type ErrServerMethodNotValidInState struct {
	Method base.Method
}

// Error implements the error interface.
func (e ErrServerMethodNotValidInState) Error() string {
	return fmt.Sprintf("method %s is not valid in the current state", e.Method)
}

// ErrServerAggregateNotAllowed is an error that can be returned by a server.
type ErrServerAggregateNotAllowed struct{}

// Error implements the error interface.
func (e ErrServerAggregateNotAllowed) Error() string {
	return "a session is already present on this connection"
}

// ErrServerUnsupportedTransport is an error that can be returned by a server.
type ErrServerUnsupportedTransport struct{}

// Error implements the error interface.
func (e ErrServerUnsupportedTransport) Error() string {
	return "neither UDP nor interleaved transport are available"
}

// ErrServerInternal is an error that can be returned by a server.
type ErrServerInternal struct {
	Message string
}

// Error implements the error interface.
func (e ErrServerInternal) Error() string {
	return "internal error: " + e.Message
}

// ErrServerMethodNotImplemented is an error that can be returned by a server.
type ErrServerMethodNotImplemented struct {
	Method base.Method
}

// Error implements the error interface.
func (e ErrServerMethodNotImplemented) Error() string {
	return fmt.Sprintf("method %s is not implemented", e.Method)
}
