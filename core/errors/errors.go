package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for callers and the RPC boundary. The dotted form
// mirrors the wire representation returned to clients.
type Kind string

const (
	KindUnauthenticated   Kind = "unauthenticated"
	KindUnauthorized      Kind = "unauthorized"
	KindValidationFailure Kind = "bad_request.validation_failure"
	KindInvalidParam      Kind = "bad_request.invalid_param"
	KindParseFailure      Kind = "bad_request.parse_failure"
	KindDuplicate         Kind = "bad_request.duplicate"
	KindConflict          Kind = "bad_request.conflict"
	KindPrunable          Kind = "bad_request.prunable"
	KindNotFound          Kind = "not_found"
	KindStorageFailure    Kind = "unavailable.storage_failure"
	KindNetworkFailure    Kind = "unavailable.network_failure"
	KindUnknown           Kind = "unknown"
)

// HubError couples a Kind with a human-readable message and the originating
// cause. The cause is preserved verbatim for Unwrap so callers can still reach
// the underlying storage or validation error.
type HubError struct {
	kind  Kind
	msg   string
	cause error
}

func New(kind Kind, msg string) *HubError {
	return &HubError{kind: kind, msg: msg}
}

func Newf(kind Kind, format string, args ...any) *HubError {
	return &HubError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error. A nil cause behaves
// like New.
func Wrap(kind Kind, msg string, cause error) *HubError {
	return &HubError{kind: kind, msg: msg, cause: cause}
}

func (e *HubError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *HubError) Kind() Kind {
	if e == nil {
		return KindUnknown
	}
	return e.kind
}

// Message returns the message without the kind prefix or cause chain.
func (e *HubError) Message() string {
	if e == nil {
		return ""
	}
	return e.msg
}

func (e *HubError) Unwrap() error {
	return e.cause
}

// KindOf extracts the Kind from an error chain, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var hubErr *HubError
	if stderrors.As(err, &hubErr) {
		return hubErr.Kind()
	}
	return KindUnknown
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
