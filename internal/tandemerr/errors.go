// Package tandemerr defines the domain error envelope the server surfaces
// over the wire (spec §7) and the sentinel errors the client store shims
// translate it into.
package tandemerr

import "fmt"

// Code is a domain error class. Concurrency outcomes (a CAS miss) are
// never represented as a Code; see the storeshim package for the
// dedicated ErrCasMiss sentinel.
type Code string

const (
	NotFound         Code = "not_found"
	InvalidIDLength  Code = "invalid_id_length"
	InvalidData      Code = "invalid_data"
	Unsupported      Code = "unsupported"
	PermissionDenied Code = "permission_denied"
	Internal         Code = "internal"
)

// Error is the structured envelope sent on the wire for domain errors.
// Messages are operator-facing; callers branch on Code, not on Message.
type Error struct {
	Code      Code
	Message   string
	Retriable bool
	Details   map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a non-retriable domain error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewRetriable builds a domain error flagged safe to retry (used for
// internal/I-O class failures where retry is safe because of
// content-addressed idempotence).
func NewRetriable(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retriable: true}
}

// WithDetail attaches a detail field and returns the same error for
// chaining at the construction site.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// NotFoundf is a convenience constructor for the common not_found case.
func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, format, args...)
}

// InvalidIDLengthf is a convenience constructor for id-length mismatches.
func InvalidIDLengthf(expected, actual int) *Error {
	return New(InvalidIDLength, "expected id length %d, got %d", expected, actual).
		WithDetail("expected_len", fmt.Sprint(expected)).
		WithDetail("actual_len", fmt.Sprint(actual))
}

// InvalidDataf is a convenience constructor for malformed-bytes failures.
func InvalidDataf(format string, args ...any) *Error {
	return New(InvalidData, format, args...)
}

// Unsupportedf is a convenience constructor for capability-gated methods
// invoked against a server that didn't advertise the capability.
func Unsupportedf(format string, args ...any) *Error {
	return New(Unsupported, format, args...)
}
