// Package errors provides the coded error used across PluginSystem. Every
// Code has registered attributes; components add their own codes from init.
package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code identifies a class of failure.
type Code string

// Severity ranks a code for logging and alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeRetriesExhausted      Code = "RETRIES_EXHAUSTED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodePublishFailure        Code = "PUBLISH_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Attributes describe every error carrying a code. Alert marks codes the
// alerting pipeline reports.
type Attributes struct {
	Message  string
	Severity Severity
	Alert    bool
}

var codes = struct {
	sync.RWMutex
	m map[Code]Attributes
}{m: map[Code]Attributes{
	CodeUnknown:               {"unknown error", SeverityCritical, true},
	CodeInvalidArgument:       {"invalid argument", SeverityInfo, false},
	CodeNotFound:              {"resource not found", SeverityInfo, false},
	CodeRetriesExhausted:      {"retries exhausted", SeverityWarning, true},
	CodeInitializationFailure: {"component not initialized", SeverityWarning, true},
	CodeStorageFailure:        {"storage failure", SeverityCritical, true},
	CodePublishFailure:        {"publish failure", SeverityWarning, false},
	CodeTimeout:               {"operation timed out", SeverityWarning, true},
}}

// Register sets the attributes of code, replacing earlier ones.
func Register(code Code, attr Attributes) {
	codes.Lock()
	codes.m[code] = attr
	codes.Unlock()
}

// AttributesOf returns the attributes of code. Unregistered codes get those
// of CodeUnknown.
func AttributesOf(code Code) Attributes {
	codes.RLock()
	defer codes.RUnlock()
	if attr, ok := codes.m[code]; ok {
		return attr
	}
	return codes.m[CodeUnknown]
}

// Error pairs a code with a message and an optional cause.
type Error struct {
	code    Code
	message string
	cause   error
}

// New returns an error with code. An empty message takes the registered
// default.
func New(code Code, message string) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	return &Error{code: code, message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap returns an error with code whose cause is err.
func Wrap(code Code, err error, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

// Wrapf is Wrap with a formatted message.
func Wrapf(code Code, err error, format string, args ...any) *Error {
	return Wrap(code, err, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return "[" + string(e.code) + "] " + e.message
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches any *Error with the same code, which lets sentinel values
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code returns the error code, CodeUnknown for a nil receiver.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the message without the code and cause.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// From finds the first *Error in err's chain.
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.code
	}
	return CodeUnknown
}
