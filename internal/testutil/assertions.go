// Package testutil provides common test utilities, assertions and port fakes
// for the engine's tests.
package testutil

import (
	"errors"
	"testing"

	"github.com/reglet-dev/procguard/domain/entities"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertTransitionDenied asserts that err is a TransitionDeniedError with the given reason.
func AssertTransitionDenied(t *testing.T, err error, reason domainerrors.TransitionDenyReason, msgAndArgs ...interface{}) {
	t.Helper()

	var denied *domainerrors.TransitionDeniedError
	require.True(t, errors.As(err, &denied), "expected TransitionDeniedError, got %v", err)
	assert.Equal(t, reason, denied.Reason, msgAndArgs...)
}

// AssertCredentialRejected asserts that err refuses a loopback connection.
func AssertCredentialRejected(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	assert.ErrorIs(t, err, domainerrors.ErrCredentialRejected, msgAndArgs...)
}

// AssertAuditKinds asserts the exact sequence of audit kinds recorded.
func AssertAuditKinds(t *testing.T, a *RecordingAuditor, kinds ...entities.AuditKind) {
	t.Helper()

	got := make([]entities.AuditKind, 0, len(kinds))
	for _, rec := range a.Records() {
		got = append(got, rec.Kind)
	}
	if len(kinds) == 0 {
		kinds = []entities.AuditKind{}
	}
	assert.Equal(t, kinds, got)
}

// RequireNoError is a convenience wrapper for require.NoError
func RequireNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	require.NoError(t, err, msgAndArgs...)
}

// AssertPanics asserts that the function panics
func AssertPanics(t *testing.T, f func(), msgAndArgs ...interface{}) {
	t.Helper()
	assert.Panics(t, f, msgAndArgs...)
}
