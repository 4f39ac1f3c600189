// Package apperr defines the failure kinds shared by the relay components and
// their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kinds. Compare with errors.Is.
var (
	NotFound   = errors.New("not found")
	Upstream   = errors.New("upstream failure")
	Delivery   = errors.New("delivery failure")
	Validation = errors.New("validation failure")
	Timeout    = errors.New("timeout")
)

// Error attaches a kind and the failing operation to an underlying error.
type Error struct {
	Op   string // e.g. "store.ThreadByPhone", "assistant.poll"
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap returns err tagged with kind. A nil err yields a bare kind error.
func Wrap(kind error, op string, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Errorf is Wrap with a formatted cause.
func Errorf(kind error, op, format string, args ...interface{}) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the first kind found in err's chain, or nil.
func KindOf(err error) error {
	for _, k := range []error{NotFound, Validation, Timeout, Delivery, Upstream} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// HTTPStatus maps err to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case NotFound:
		return http.StatusNotFound
	case Validation:
		return http.StatusBadRequest
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
