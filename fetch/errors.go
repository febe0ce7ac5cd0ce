package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed fetch.
type Kind uint8

const (
	// TransportError covers dial, read, timeout and cancellation failures.
	TransportError Kind = iota + 1
	// ServerError is a response outside the 2xx class.
	ServerError
	// DecodeError is a body that is not a valid image payload.
	DecodeError
)

func (k Kind) String() string {
	switch k {
	case TransportError:
		return "transport"
	case ServerError:
		return "server"
	case DecodeError:
		return "decode"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Sentinels matching every *Error of the corresponding Kind via errors.Is.
var (
	ErrTransport = errors.New("fetch: transport error")
	ErrServer    = errors.New("fetch: server error")
	ErrDecode    = errors.New("fetch: decode error")
)

// Error is the closed error type surfaced for every failed load.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int   // set for ServerError
	Err        error // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Kind == ServerError:
		return fmt.Sprintf("fetch %s: %s error: status %d %s", e.URL, e.Kind, e.StatusCode, http.StatusText(e.StatusCode))
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s error: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s error", e.URL, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the Kind sentinel.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == TransportError
	case ErrServer:
		return e.Kind == ServerError
	case ErrDecode:
		return e.Kind == DecodeError
	}
	return false
}

// Cancelled reports whether the failure was a cancellation or timeout.
func (e *Error) Cancelled() bool {
	return errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}

// Transport wraps err as a TransportError.
func Transport(url string, err error) *Error {
	return &Error{Kind: TransportError, URL: url, Err: err}
}

// Server reports a non-2xx status.
func Server(url string, status int) *Error {
	return &Error{Kind: ServerError, URL: url, StatusCode: status}
}

// Decode wraps err as a DecodeError.
func Decode(url string, err error) *Error {
	return &Error{Kind: DecodeError, URL: url, Err: err}
}

// Normalize maps any error into the closed set. *Error values pass through;
// everything else becomes a TransportError.
func Normalize(url string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Transport(url, err)
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
