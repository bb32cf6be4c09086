// Package sdkerrors defines the single error type returned by every SDK call.
//
// An Error carries the (module, code) pair used by the Commvault message table,
// the message built from that table, and a Kind that groups errors into the
// five failure classes callers act on:
//
//   - KindTransport: HTTP-level non-success (Response/101)
//   - KindEmptyResponse: success status but an empty or keyless body (Response/102)
//   - KindApplication: a non-zero embedded errorCode in an otherwise valid body
//   - KindPrecondition: a client-side validation failure, raised before any request
//   - KindTimeout: a polling or retry budget ran out
package sdkerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

// Error kinds.
const (
	KindTransport Kind = iota + 1
	KindEmptyResponse
	KindApplication
	KindPrecondition
	KindTimeout
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindEmptyResponse:
		return "empty_response"
	case KindApplication:
		return "application"
	case KindPrecondition:
		return "precondition"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the error type returned by SDK operations.
type Error struct {
	Kind    Kind
	Module  string
	Code    string
	Message string
	Err     error
}

// Error returns the formatted message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same module and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code
}

// New builds an Error for the (module, code) pair with an optional detail.
// The kind is inferred: Response/101 is a transport failure, Response/102 an
// empty response, and everything else an application error. Use Precondition
// or Timeout when the error is detected client-side.
func New(module, code, detail string) *Error {
	return &Error{
		Kind:    inferKind(module, code),
		Module:  module,
		Code:    code,
		Message: Message(module, code, detail),
	}
}

// Newf is New with a formatted detail.
func Newf(module, code, format string, args ...any) *Error {
	return New(module, code, fmt.Sprintf(format, args...))
}

// Transport reports an HTTP-level failure with the raw response body as detail.
func Transport(body string) *Error {
	return &Error{
		Kind:    KindTransport,
		Module:  ModuleResponse,
		Code:    "101",
		Message: Message(ModuleResponse, "101", body),
	}
}

// TransportErr wraps a network error as a transport failure.
func TransportErr(err error) *Error {
	e := Transport(err.Error())
	e.Err = err
	return e
}

// EmptyResponse reports a success response that carried no usable body.
func EmptyResponse() *Error {
	return &Error{
		Kind:    KindEmptyResponse,
		Module:  ModuleResponse,
		Code:    "102",
		Message: Message(ModuleResponse, "102", ""),
	}
}

// Application reports a non-zero embedded error code returned by the server.
func Application(module, code, detail string) *Error {
	e := New(module, code, detail)
	e.Kind = KindApplication
	return e
}

// Precondition reports an argument or state check that failed before any request.
func Precondition(module, code, detail string) *Error {
	e := New(module, code, detail)
	e.Kind = KindPrecondition
	return e
}

// Timeout reports an exhausted retry or polling budget.
func Timeout(module, code, detail string) *Error {
	e := New(module, code, detail)
	e.Kind = KindTimeout
	return e
}

// Wrap attaches a cause to e and returns it.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As returns the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsTransport reports a Response/101 failure.
func IsTransport(err error) bool { return Is(err, KindTransport) }

// IsEmptyResponse reports a Response/102 failure.
func IsEmptyResponse(err error) bool { return Is(err, KindEmptyResponse) }

// IsApplication reports an embedded server error.
func IsApplication(err error) bool { return Is(err, KindApplication) }

// IsPrecondition reports a client-side validation failure.
func IsPrecondition(err error) bool { return Is(err, KindPrecondition) }

// IsTimeout reports an exhausted wait budget.
func IsTimeout(err error) bool { return Is(err, KindTimeout) }

func inferKind(module, code string) Kind {
	if module == ModuleResponse {
		switch code {
		case "101":
			return KindTransport
		case "102":
			return KindEmptyResponse
		}
	}
	return KindApplication
}
