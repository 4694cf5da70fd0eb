// File: internal/errdefs/errors.go
package errdefs

import (
	"errors"
	"fmt"
)

// Code identifies one member of the closed error taxonomy. Every error that
// crosses a package boundary in this codebase carries exactly one Code.
type Code string

const (
	// CodeInvalidArgument marks a boundary validation failure. Never retried.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeNotFound marks an unknown browser, page, or element id.
	CodeNotFound Code = "NOT_FOUND"
	// CodeStale marks an element whose epoch no longer matches its page.
	CodeStale Code = "STALE"
	// CodeCapacity marks a rejected create because a configured cap is reached.
	CodeCapacity Code = "CAPACITY"
	// CodeBrowserGone marks a browser that vanished mid-operation.
	CodeBrowserGone Code = "BROWSER_GONE"
	// CodePageClosed marks a page that vanished mid-operation.
	CodePageClosed Code = "PAGE_CLOSED"
	// CodeTimeout marks an elapsed deadline. The CDP-side effect may still
	// have occurred.
	CodeTimeout Code = "TIMEOUT"
	// CodeCDPProtocol wraps an error object returned by Chromium for a
	// command; the protocol code and message are carried verbatim.
	CodeCDPProtocol Code = "CDP_PROTOCOL"
	// CodeTransportClosed marks a dead WebSocket. BROWSER_GONE is imminent.
	CodeTransportClosed Code = "TRANSPORT_CLOSED"
	// CodeLagged marks a subscriber dropped for failing to keep up.
	CodeLagged Code = "LAGGED"
	// CodeInternal marks an unexpected condition, logged with context.
	CodeInternal Code = "INTERNAL"
)

// Error is the one concrete error type exchanged between components.
type Error struct {
	Code    Code
	Message string
	// ProtocolCode holds the numeric CDP error code for CodeCDPProtocol.
	ProtocolCode int64
	// Details carries optional structured context, never sensitive input.
	Details map[string]string

	cause error
}

func (e *Error) Error() string {
	if e.Code == CodeCDPProtocol {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.ProtocolCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is reports code equality so callers can match with errors.Is against a
// bare code sentinel created via New(code, "").
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// New constructs an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause while keeping the taxonomy code authoritative.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

// WithDetail returns a copy carrying one extra detail entry.
func (e *Error) WithDetail(key, value string) *Error {
	dup := *e
	dup.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		dup.Details[k] = v
	}
	dup.Details[key] = value
	return &dup
}

// CodeOf extracts the taxonomy code from any error chain. Unknown errors
// map to CodeInternal; a nil error has no code and returns "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether the first taxonomy error in err's chain carries
// the given code; codes of taxonomy errors wrapped deeper are not checked.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Convenience constructors for the frequent codes.

func InvalidArgument(msg string) *Error { return New(CodeInvalidArgument, msg) }

func NotFound(kind, id string) *Error {
	return Newf(CodeNotFound, "%s not found: %s", kind, id)
}

func Stale(elementID string) *Error {
	return Newf(CodeStale, "element is stale: %s", elementID)
}

func Capacity(what string, limit int) *Error {
	return Newf(CodeCapacity, "%s capacity reached (limit %d)", what, limit)
}

func BrowserGone(id string) *Error {
	return Newf(CodeBrowserGone, "browser gone: %s", id)
}

func PageClosed(id string) *Error {
	return Newf(CodePageClosed, "page closed: %s", id)
}

func Timeout(op string) *Error {
	return Newf(CodeTimeout, "operation timed out: %s", op)
}

// Protocol builds a CDP_PROTOCOL error carrying Chromium's code and
// message verbatim.
func Protocol(code int64, message string) *Error {
	return &Error{Code: CodeCDPProtocol, ProtocolCode: code, Message: message}
}

func TransportClosed(msg string) *Error { return New(CodeTransportClosed, msg) }

func Lagged(subscriptionID string) *Error {
	return Newf(CodeLagged, "subscriber dropped after sustained overflow: %s", subscriptionID)
}

func Internal(msg string) *Error { return New(CodeInternal, msg) }
