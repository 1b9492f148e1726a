package protocol

import (
	"errors"
	"strings"

	"github.com/dreamware/depot/internal/cluster"
	"github.com/dreamware/depot/internal/storage"
)

// Code is the stable textual error code carried at the start of every
// response message. Internal error values never cross the wire.
type Code string

const (
	CodeOK             Code = "ok"
	CodeInvalidName    Code = "invalid_name"
	CodeNotFound       Code = "not_found"
	CodeMediumError    Code = "medium_error"
	CodeProtocolError  Code = "protocol_error"
	CodeInvalidRequest Code = "invalid_request"
)

// ErrInvalidRequest is the sentinel for CodeInvalidRequest responses.
var ErrInvalidRequest = errors.New("invalid request")

// Known reports whether c is one of the documented codes.
func (c Code) Known() bool {
	switch c {
	case CodeOK, CodeInvalidName, CodeNotFound, CodeMediumError, CodeProtocolError, CodeInvalidRequest:
		return true
	}
	return false
}

// sentinel returns the error a failure code stands for.
func (c Code) sentinel() error {
	switch c {
	case CodeInvalidName:
		return storage.ErrInvalidName
	case CodeNotFound:
		return storage.ErrNotFound
	case CodeMediumError:
		return storage.ErrMedium
	case CodeProtocolError:
		return ErrProtocol
	case CodeInvalidRequest:
		return ErrInvalidRequest
	}
	return nil
}

// NodeStatus is one membership row in a Members response.
type NodeStatus struct {
	ID      string
	Addr    string
	Status  cluster.Status
	Version uint64
}

// Response is the reply to exactly one Command.
//
// Message is "ok" on success, or "<code>" / "<code>: <detail>" on failure.
// Data is set only for Download, Names only for ListFiles and Search, and
// Nodes only for Members. Each optional field keeps nil and empty distinct
// on the wire.
type Response struct {
	Message string
	Data    []byte
	Names   []string
	Nodes   []NodeStatus
}

// OK returns a bare success response.
func OK() Response { return Response{Message: string(CodeOK)} }

// Failure builds an error response. detail may be empty.
func Failure(code Code, detail string) Response {
	if detail == "" {
		return Response{Message: string(code)}
	}
	return Response{Message: string(code) + ": " + detail}
}

// CodeOf extracts the code from a response message.
func CodeOf(message string) Code {
	code, _, _ := strings.Cut(message, ": ")
	return Code(code)
}

// Code returns the response's code.
func (r Response) Code() Code { return CodeOf(r.Message) }

// Err converts a failure response into an error matching the sentinel for
// its code. It returns nil for success.
func (r Response) Err() error {
	code := r.Code()
	if code == CodeOK {
		return nil
	}
	_, detail, _ := strings.Cut(r.Message, ": ")
	return &RemoteError{Code: code, Detail: detail}
}

// RemoteError is a failure reported by the peer.
type RemoteError struct {
	Code   Code
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return "remote: " + string(e.Code)
	}
	return "remote: " + string(e.Code) + ": " + e.Detail
}

// Unwrap returns the sentinel for the code, so callers can use errors.Is
// with storage.ErrNotFound and friends.
func (e *RemoteError) Unwrap() error { return e.Code.sentinel() }
