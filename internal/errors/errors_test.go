package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := Newf(CodeNotFound, "plugin %s is missing", "x")
	assert.Equal(t, "[NOT_FOUND] plugin x is missing", err.Error())

	wrapped := Wrapf(CodeStorageFailure, fmt.Errorf("disk full"), "save %s", "registry")
	assert.Equal(t, "[STORAGE_FAILURE] save registry: disk full", wrapped.Error())
	assert.EqualError(t, stdErrors.Unwrap(wrapped), "disk full")
}

func TestEmptyMessageUsesDefault(t *testing.T) {
	assert.Equal(t, "operation timed out", New(CodeTimeout, "").Message())
}

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeNotFound, "")
	err := fmt.Errorf("outer: %w", New(CodeNotFound, "plugin a is missing"))

	assert.True(t, stdErrors.Is(err, sentinel))
	assert.False(t, stdErrors.Is(err, New(CodeTimeout, "")))
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, CodeUnknown, CodeOf(stdErrors.New("plain")))
	assert.Equal(t, CodeUnknown, CodeOf(nil))
}

func TestFromFindsWrappedError(t *testing.T) {
	inner := Wrap(CodeTimeout, stdErrors.New("slow"), "check")
	e, ok := From(fmt.Errorf("poll: %w", inner))
	assert.True(t, ok)
	assert.Equal(t, "check", e.Message())

	_, ok = From(stdErrors.New("plain"))
	assert.False(t, ok)
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Alert: true})

	assert.Equal(t, "custom", New(code, "").Message())
	attr := AttributesOf(code)
	assert.Equal(t, SeverityWarning, attr.Severity)
	assert.True(t, attr.Alert)
}

func TestUnknownCodeFallsBack(t *testing.T) {
	assert.Equal(t, AttributesOf(CodeUnknown), AttributesOf("NEVER_REGISTERED"))
	assert.False(t, AttributesOf(CodeInvalidArgument).Alert)
}
