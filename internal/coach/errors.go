package coach

import (
	"errors"
	"fmt"
)

// Kind classifies a failed turn exchange.
type Kind string

const (
	// KindHTTP is a non-2xx response from the backend.
	KindHTTP Kind = "http"
	// KindTransport covers connectivity failures, timeouts and cancellation.
	KindTransport Kind = "transport"
	// KindDecode is a 2xx response whose body is not a valid TurnResponse.
	KindDecode Kind = "decode"
)

// Sentinel errors matched through errors.Is on an *Error.
var (
	ErrHTTP      = errors.New("coach: http error")
	ErrTransport = errors.New("coach: transport error")
	ErrDecode    = errors.New("coach: decode error")
)

// Error is returned by Client.SendTurn for every failed exchange.
type Error struct {
	Kind   Kind
	Status int    // set for KindHTTP
	Body   string // set for KindHTTP
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("coach: backend returned %d: %s", e.Status, e.Body)
	case KindTransport:
		return fmt.Sprintf("coach: transport failure: %v", e.Err)
	default:
		return fmt.Sprintf("coach: malformed response: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrHTTP:
		return e.Kind == KindHTTP
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

// HTTPError builds a KindHTTP error.
func HTTPError(status int, body string) *Error {
	return &Error{Kind: KindHTTP, Status: status, Body: body}
}

// TransportError builds a KindTransport error.
func TransportError(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

// DecodeError builds a KindDecode error.
func DecodeError(err error) *Error {
	return &Error{Kind: KindDecode, Err: err}
}
