// Package shiperr holds the error taxonomy shared by the quotation and shipment flows.
// Callers branch on Kind instead of string matching.
package shiperr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindAuth        Kind = "auth_error"
	KindProvider    Kind = "provider_error"
	KindNotFound    Kind = "not_found"
	KindPersistence Kind = "persistence_error"
	KindConflict    Kind = "conflict"
	KindRateLimited Kind = "rate_limited"
)

type Error struct {
	Kind    Kind
	Message string
	// StatusCode and Body are set for provider errors only. Body is the raw
	// aggregator response, kept verbatim for support triage.
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Kind == KindProvider && e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Auth(msg string, err error) error {
	return &Error{Kind: KindAuth, Message: msg, Err: err}
}

func Provider(msg string, status int, body []byte) error {
	return &Error{Kind: KindProvider, Message: fmt.Sprintf("%s (http %d)", msg, status), StatusCode: status, Body: string(body)}
}

// Unreachable is a provider error without an HTTP response: transport
// failures or a 2xx body missing required fields.
func Unreachable(msg string, err error) error {
	return &Error{Kind: KindProvider, Message: msg, Err: err}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Persistence(msg string, err error) error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// RateLimited means the request was withheld from the aggregator because the
// shared per-minute budget is spent.
func RateLimited(format string, args ...any) error {
	return &Error{Kind: KindRateLimited, Message: fmt.Sprintf(format, args...)}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}
