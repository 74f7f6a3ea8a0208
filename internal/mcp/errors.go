package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an MCP failure.
type Kind int

const (
	// KindTransport covers spawn failures, a dead process and broken pipes.
	KindTransport Kind = iota + 1
	// KindTimeout means no reply arrived within the read deadline.
	KindTimeout
	// KindEmptyResponse means the server closed its output (EOF) or wrote a blank line.
	KindEmptyResponse
	// KindInvalidResponse means the reply line was not valid JSON.
	KindInvalidResponse
	// KindProtocol covers server-reported JSON-RPC errors and the
	// client-side unknown-tool check.
	KindProtocol
)

// String returns the name used in logs.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindEmptyResponse:
		return "empty_response"
	case KindInvalidResponse:
		return "invalid_response"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CodeToolNotFound is the code attached to the client-side unknown-tool
// failure. It matches the server-side "method not found" code so callers
// that only look at codes treat both the same way.
const CodeToolNotFound = CodeMethodNotFound

// Error is the single error type produced by this package. Kind tags
// the variant; Code is the JSON-RPC code for protocol errors and -1
// otherwise.
type Error struct {
	Kind    Kind
	Code    int
	Message string

	// Available lists the server's tool names when a call named an
	// unknown tool.
	Available []string

	Err error
}

// Error implements the error interface. Constructors fold the cause
// into Message, so the text is exactly what the toolkit shows.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func transportError(msg string, err error) *Error {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &Error{Kind: KindTransport, Code: -1, Message: msg, Err: err}
}

func timeoutError() *Error {
	return &Error{Kind: KindTimeout, Code: -1, Message: "Timeout waiting for MCP server response"}
}

func emptyResponseError() *Error {
	return &Error{Kind: KindEmptyResponse, Code: -1, Message: "Empty response from MCP server"}
}

func invalidResponseError(err error) *Error {
	return &Error{
		Kind:    KindInvalidResponse,
		Code:    -1,
		Message: fmt.Sprintf("Invalid JSON response: %v", err),
		Err:     err,
	}
}

// serverError converts a JSON-RPC error object into a protocol error.
func serverError(rpcErr *RPCError) *Error {
	msg := rpcErr.Message
	if msg == "" {
		msg = "Unknown error"
	}
	return &Error{
		Kind:    KindProtocol,
		Code:    rpcErr.Code,
		Message: "Server error: " + msg,
		Err:     rpcErr,
	}
}

func toolNotFoundError(name string, available []string) *Error {
	return &Error{
		Kind:      KindProtocol,
		Code:      CodeToolNotFound,
		Message:   fmt.Sprintf("Tool '%s' not found. Available tools: %s", name, strings.Join(available, ", ")),
		Available: available,
	}
}
