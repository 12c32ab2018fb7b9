// Package rpcerr defines the protocol-level error taxonomy the Tool
// Dispatcher maps every handler outcome onto, per spec.md §7.
package rpcerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a JSON-RPC 2.0 error code. The first four reuse the standard
// JSON-RPC reserved range; the rest are this server's own extension range.
type Code int

const (
	CodeInvalidRequest           Code = -32600
	CodeMethodNotFound           Code = -32601
	CodeInvalidParams            Code = -32602
	CodeInternalError            Code = -32603
	CodeNotFound                 Code = -32001
	CodeTransientExternalFailure Code = -32002
	CodeDataIntegrityFailure     Code = -32003
)

// Error is a typed protocol error. It is never constructed with cross-user
// data in its Message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// As supports errors.As(err, *rpcerr.Error) ergonomics via a plain type
// assertion helper.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func new_(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

func InvalidRequest(msg string) *Error { return new_(CodeInvalidRequest, msg, nil) }
func InvalidParams(msg string) *Error  { return new_(CodeInvalidParams, msg, nil) }
func MethodNotFound(method string) *Error {
	return new_(CodeMethodNotFound, "unknown tool: "+method, nil)
}
func NotFound(msg string) *Error { return new_(CodeNotFound, msg, nil) }
func Internal(msg string, cause error) *Error {
	return new_(CodeInternalError, msg, cause)
}
func DataIntegrityFailure(msg string) *Error {
	return new_(CodeDataIntegrityFailure, msg, nil)
}
func TransientExternalFailure(msg string, cause error) *Error {
	return new_(CodeTransientExternalFailure, msg, cause)
}

// transientMarkers are substrings seen in Gmail API client errors that
// indicate a retryable, transient condition rather than a permanent
// failure. Generalized from the teacher's service.IsAuthError classifier.
var transientMarkers = []string{
	"rateLimitExceeded",
	"userRateLimitExceeded",
	"backendError",
	"Error 429",
	"Error 500",
	"Error 503",
	"context deadline exceeded",
}

var authMarkers = []string{
	"ACCESS_TOKEN_SCOPE_INSUFFICIENT",
	"insufficientPermissions",
	"Error 401",
	"Error 403",
}

// Classify wraps a raw error (typically from the Gmail vendor client) into
// the appropriate typed protocol error, leaving already-typed *Error values
// untouched so they propagate verbatim.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if existing, ok := As(err); ok {
		return existing
	}
	msg := err.Error()
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return InvalidRequest("authentication failed or insufficient Gmail scopes: " + msg)
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return TransientExternalFailure("gmail API transient failure", err)
		}
	}
	return Internal("unhandled error", err)
}

// IsAuthError reports whether err (raw or classified) represents an
// authentication/authorization failure against the Gmail vendor API. Kept
// as a standalone predicate for callers that only need the boolean, mirroring
// the teacher's service.IsAuthError.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
