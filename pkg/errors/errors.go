package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code is the stable, client-visible identifier of an error kind.
type Code string

const (
	CodeValidation      Code = "validation_error"
	CodeBackpressure    Code = "backpressure"
	CodeDataUnavailable Code = "data_unavailable"
	CodeProvider        Code = "provider_error"
	CodeTool            Code = "tool_error"
	CodeInternal        Code = "internal_error"
	CodeCancelled       Code = "cancelled"
	CodeNotFound        Code = "not_found"
)

// Sentinel errors, one per code, so callers can use errors.Is.
var (
	ErrValidation      = &DomainError{Code: CodeValidation, Message: "request failed validation"}
	ErrBackpressure    = &DomainError{Code: CodeBackpressure, Message: "too many concurrent analyses"}
	ErrDataUnavailable = &DomainError{Code: CodeDataUnavailable, Message: "market data unavailable"}
	ErrProvider        = &DomainError{Code: CodeProvider, Message: "llm provider failed"}
	ErrTool            = &DomainError{Code: CodeTool, Message: "tool invocation failed"}
	ErrInternal        = &DomainError{Code: CodeInternal, Message: "internal error"}
	ErrCancelled       = &DomainError{Code: CodeCancelled, Message: "analysis cancelled"}
	ErrNotFound        = &DomainError{Code: CodeNotFound, Message: "not found"}
)

// FieldError names one offending request field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// DomainError carries a stable code, a human message and an optional suggestion.
type DomainError struct {
	Code       Code         `json:"code"`
	Message    string       `json:"message"`
	Suggestion string       `json:"suggestion,omitempty"`
	Fields     []FieldError `json:"fields,omitempty"`
	RunID      string       `json:"run_id,omitempty"`
	Err        error        `json:"-"`
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+" "+f.Reason)
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HasField reports whether the error names the given field.
func (e *DomainError) HasField(name string) bool {
	for _, f := range e.Fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

// New creates a DomainError of the given code.
func New(code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithSuggestion returns a copy with the suggestion set.
func (e *DomainError) WithSuggestion(s string) *DomainError {
	cp := *e
	cp.Suggestion = s
	return &cp
}

// WithRunID returns a copy tagged with a run id.
func (e *DomainError) WithRunID(runID string) *DomainError {
	cp := *e
	cp.RunID = runID
	return &cp
}

func Validation(fields ...FieldError) *DomainError {
	return &DomainError{Code: CodeValidation, Message: "request failed validation", Fields: fields}
}

func Backpressure(limit int) *DomainError {
	return &DomainError{
		Code:       CodeBackpressure,
		Message:    fmt.Sprintf("%d analyses already running", limit),
		Suggestion: "retry after a running analysis finishes",
	}
}

func DataUnavailable(err error, format string, args ...any) *DomainError {
	return &DomainError{
		Code:       CodeDataUnavailable,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: "check network connectivity and data provider API keys",
		Err:        err,
	}
}

func Provider(err error, format string, args ...any) *DomainError {
	return &DomainError{
		Code:       CodeProvider,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: "check the provider API key, quota and model name",
		Err:        err,
	}
}

func Tool(err error, format string, args ...any) *DomainError {
	return &DomainError{Code: CodeTool, Message: fmt.Sprintf(format, args...), Err: err}
}

func Internal(err error, format string, args ...any) *DomainError {
	return &DomainError{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *DomainError {
	return &DomainError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of err, defaulting to internal_error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// As is errors.As for DomainError.
func As(err error) (*DomainError, bool) {
	var de *DomainError
	ok := errors.As(err, &de)
	return de, ok
}

// Sanitize converts err into the client-safe form. Internal errors lose their
// detail and keep only a generic message tagged with the run id.
func Sanitize(err error, runID string) *DomainError {
	if err == nil {
		return nil
	}
	de, ok := As(err)
	if !ok || de.Code == CodeInternal {
		return &DomainError{
			Code:    CodeInternal,
			Message: fmt.Sprintf("analysis %s failed unexpectedly, see server logs", runID),
			RunID:   runID,
		}
	}
	return &DomainError{
		Code:       de.Code,
		Message:    de.Message,
		Suggestion: de.Suggestion,
		Fields:     de.Fields,
		RunID:      runID,
	}
}

// Is and As passthroughs keep call sites on a single errors import.
func Is(err, target error) bool { return errors.Is(err, target) }
