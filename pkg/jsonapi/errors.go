package jsonapi

import (
	"strings"
)

// OperationError is the failure detail of one operation within a batch.
type OperationError struct {
	Index        int               `json:"index"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	FieldErrors  map[string]string `json:"fieldErrors,omitempty"`
}

// ErrorSummary aggregates every failed operation of a response.
type ErrorSummary struct {
	Message    string
	Fields     map[string]string
	Individual []OperationError
}

// Empty reports whether the responses carried no errors at all.
func (s ErrorSummary) Empty() bool {
	return s.Message == "" && len(s.Fields) == 0
}

// Summarize collects form-level messages and field-level errors from non-2xx operations.
// Errors with a source pointer are field errors; the rest are joined as "title: detail".
func Summarize(responses []OperationResponse) ErrorSummary {
	summary := ErrorSummary{Fields: map[string]string{}}
	var messages []string
	for i, res := range responses {
		if res.Succeeded() {
			continue
		}
		opErr := OperationError{Index: i, FieldErrors: map[string]string{}}
		var opMessages []string
		for _, e := range res.Errors {
			if e.Source != nil && e.Source.Pointer != "" {
				if e.Detail != "" {
					field := FieldPath(e.Source.Pointer)
					opErr.FieldErrors[field] = e.Detail
					summary.Fields[field] = e.Detail
				}
				continue
			}
			if msg := joinNonBlank(e.Title, e.Detail); msg != "" {
				opMessages = append(opMessages, msg)
			}
		}
		opErr.ErrorMessage = strings.Join(opMessages, "\n")
		if opErr.ErrorMessage != "" {
			messages = append(messages, opErr.ErrorMessage)
		}
		summary.Individual = append(summary.Individual, opErr)
	}
	summary.Message = strings.Join(messages, "\n")
	return summary
}

// FieldPath converts a JSON pointer such as /data/attributes/geoReferenceAssertions/0/dwcDecimalLatitude
// into the dotted form path geoReferenceAssertions.0.dwcDecimalLatitude.
func FieldPath(pointer string) string {
	p := strings.TrimPrefix(pointer, "/")
	for _, prefix := range []string{"data/attributes/", "data/relationships/", "data/"} {
		if strings.HasPrefix(p, prefix) {
			p = strings.TrimPrefix(p, prefix)
			break
		}
	}
	return strings.ReplaceAll(p, "/", ".")
}

func joinNonBlank(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ": ")
}
