package liberrors

import (
	"fmt"

	"github.com/bluenviron/rtspcore/pkg/base"
)

// ErrClientTerminated is an error that can be returned by a client.
type ErrClientTerminated struct{}

// Error implements the error interface.
func (e ErrClientTerminated) Error() string {
	return "terminated"
}

// ErrClientBadStatusCode is an error that can be returned by a client.
type ErrClientBadStatusCode struct {
	Code    base.StatusCode
	Message string
}

// Error implements the error interface.
func (e ErrClientBadStatusCode) Error() string {
	return fmt.Sprintf("bad status code: %d (%s)", e.Code, e.Message)
}

// ErrClientInvalidState is an error that can be returned by a client.
type ErrClientInvalidState struct {
	Message string
}

// Error implements the error interface.
func (e ErrClientInvalidState) Error() string {
	return "invalid state: " + e.Message
}

// ErrClientNoMedias is an error that can be returned by a client.
type ErrClientNoMedias struct{}

// Error implements the error interface.
func (e ErrClientNoMedias) Error() string {
	return "no supported video medias found in the SDP"
}

// ErrClientTransportUnsupported is an error that can be returned by a client.
type ErrClientTransportUnsupported struct{}

// Error implements the error interface.
func (e ErrClientTransportUnsupported) Error() string {
	return "server does not support any transport offered by the client"
}

// ErrClientReceiveTimeout is an error that can be returned by a client.
type ErrClientReceiveTimeout struct{}

// Error implements the error interface.
func (e ErrClientReceiveTimeout) Error() string {
	return "receive timed out"
}

// ErrClientAuthFailed is an error that can be returned by a client.
type ErrClientAuthFailed struct{}

// Error implements the error interface.
func (e ErrClientAuthFailed) Error() string {
	return "authentication failed"
}
