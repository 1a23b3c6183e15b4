package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// FieldErrors maps a dotted field path to a user facing message.
type FieldErrors map[string]string

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Status      int                    `json:"status"`
	Fields      FieldErrors            `json:"fields,omitempty"`
	SubForms    map[string]FieldErrors `json:"subForms,omitempty"`
	Recoverable bool                   `json:"recoverable,omitempty"`
	Err         error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if len(e.Fields) > 0 {
		msg = fmt.Sprintf("%s (%s)", msg, e.Fields.String())
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so callers can use errors.Is against the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound          = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden         = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized      = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict          = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation        = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal          = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss         = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrUpstream          = New("UPSTREAM_ERROR", http.StatusBadGateway, "upstream request failed")
	ErrDuplicateName     = New("DUPLICATE_NAME", http.StatusConflict, "a resource with this name already exists")
	ErrSessionNotFound   = New("SESSION_NOT_FOUND", http.StatusNotFound, "edit session not found or expired")
	ErrSectionState      = New("SECTION_STATE", http.StatusConflict, "invalid section transition")
	ErrSubmitInProgress  = New("SUBMIT_IN_PROGRESS", http.StatusConflict, "a submission is already in progress")
	ErrUnknownSection    = New("UNKNOWN_SECTION", http.StatusBadRequest, "unknown form section")
	ErrUnsupportedSchema = New("UNSUPPORTED_RESOURCE", http.StatusBadRequest, "unsupported resource type")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	clone.Fields = err.Fields.Copy()
	if err.SubForms != nil {
		clone.SubForms = make(map[string]FieldErrors, len(err.SubForms))
		for k, v := range err.SubForms {
			clone.SubForms[k] = v.Copy()
		}
	}
	return &clone
}

// WithFields returns a copy of err carrying the provided field errors.
func WithFields(err *Error, fields FieldErrors) *Error {
	clone := Clone(err, "")
	if clone == nil {
		return nil
	}
	if clone.Fields == nil {
		clone.Fields = FieldErrors{}
	}
	for k, v := range fields {
		clone.Fields[k] = v
	}
	return clone
}

// PrefixFields re-keys field errors under prefix for the outer form and keeps the
// unprefixed set under SubForms[prefix] for the nested form.
func PrefixFields(err error, prefix string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) || len(e.Fields) == 0 {
		return err
	}
	clone := Clone(e, "")
	clone.Fields = e.Fields.Prefixed(prefix)
	if clone.SubForms == nil {
		clone.SubForms = map[string]FieldErrors{}
	}
	clone.SubForms[prefix] = e.Fields.Copy()
	return clone
}

// Copy returns a shallow copy of the field errors.
func (f FieldErrors) Copy() FieldErrors {
	if f == nil {
		return nil
	}
	out := make(FieldErrors, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Prefixed returns the field errors with every key prefixed by "prefix.".
func (f FieldErrors) Prefixed(prefix string) FieldErrors {
	out := make(FieldErrors, len(f))
	for k, v := range f {
		out[prefix+"."+k] = v
	}
	return out
}

// String renders the field errors in a stable order.
func (f FieldErrors) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return strings.Join(parts, "; ")
}
