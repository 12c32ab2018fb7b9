package rpcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsRecognizesTypedError(t *testing.T) {
	err := InvalidParams("bad input")
	typed, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidParams, typed.Code)
}

func TestAsRejectsPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Internal("wrapping", cause)
	assert.Contains(t, err.Error(), "wrapping")
	assert.Contains(t, err.Error(), "underlying failure")
}

func TestErrorMessageOmitsCauseWhenAbsent(t *testing.T) {
	err := InvalidRequest("missing field")
	assert.Equal(t, "missing field", err.Error())
}

func TestClassifyLeavesAlreadyTypedErrorsUntouched(t *testing.T) {
	original := NotFound("job not found")
	classified := Classify(original)
	typed, ok := As(classified)
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, typed.Code)
}

func TestClassifyDetectsAuthFailure(t *testing.T) {
	err := Classify(errors.New("googleapi: Error 401: invalid credentials"))
	typed, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidRequest, typed.Code)
}

func TestClassifyDetectsTransientFailure(t *testing.T) {
	err := Classify(errors.New("googleapi: Error 429: rateLimitExceeded"))
	typed, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CodeTransientExternalFailure, typed.Code)
}

func TestClassifyFallsBackToInternal(t *testing.T) {
	err := Classify(errors.New("something unexpected"))
	typed, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CodeInternalError, typed.Code)
}

func TestClassifyNilReturnsNil(t *testing.T) {
	assert.NoError(t, Classify(nil))
}

func TestIsAuthErrorDetectsScopeMarker(t *testing.T) {
	assert.True(t, IsAuthError(errors.New("ACCESS_TOKEN_SCOPE_INSUFFICIENT")))
	assert.False(t, IsAuthError(errors.New("some other error")))
	assert.False(t, IsAuthError(nil))
}
