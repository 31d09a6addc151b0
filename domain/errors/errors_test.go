package errors

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyNotFoundError(t *testing.T) {
	err := &PolicyNotFoundError{Tag: 0x10}
	assert.Equal(t, "no policy for tag 0x00000010", err.Error())
	assert.True(t, errors.Is(err, ErrPolicyNotFound))
	assert.False(t, errors.Is(err, ErrPolicyParse))

	withPath := &PolicyNotFoundError{Path: "/usr/bin/tool.procguard.yaml"}
	assert.Equal(t, "no policy for /usr/bin/tool.procguard.yaml", withPath.Error())

	detail := withPath.ToErrorDetail()
	assert.True(t, detail.IsNotFound)
	assert.Equal(t, "not_found", detail.Code)
}

func TestPolicyParseError(t *testing.T) {
	cause := fmt.Errorf("unknown syscall %q", "frobnicate")
	err := &PolicyParseError{Path: "USER.policy", Line: 3, Err: cause}

	assert.Equal(t, `USER.policy:3: unknown syscall "frobnicate"`, err.Error())
	assert.True(t, errors.Is(err, ErrPolicyParse))
	assert.True(t, errors.Is(err, cause))

	var parseErr *PolicyParseError
	require.True(t, errors.As(fmt.Errorf("loading: %w", err), &parseErr))
	assert.Equal(t, 3, parseErr.Line)

	noLine := &PolicyParseError{Path: "USER.yaml", Err: cause}
	assert.Equal(t, `USER.yaml: unknown syscall "frobnicate"`, noLine.Error())
}

func TestTransitionDeniedError(t *testing.T) {
	err := &TransitionDeniedError{
		Reason:  DenyUntrustedLocation,
		Image:   "/tmp/payload",
		Process: entities.ProcessIdentity{PID: 7, Epoch: 100},
		From:    1,
		To:      2,
	}

	assert.Equal(t, "exec of /tmp/payload by 7@100 denied (untrusted_location): 0x00000001 -> 0x00000002", err.Error())
	assert.True(t, errors.Is(err, ErrTransitionDenied))
	assert.True(t, errors.Is(err, syscall.EPERM))

	detail := err.ToErrorDetail()
	assert.Equal(t, "untrusted_location", detail.Code)
	assert.Equal(t, "/tmp/payload", detail.Details["image"])
}

func TestFilterDenyError(t *testing.T) {
	err := &FilterDenyError{Process: entities.ProcessIdentity{PID: 9, Epoch: 1}, Syscall: 59, Tag: 3}
	assert.Equal(t, "syscall 59 (native) denied for 9@1 under 0x00000003", err.Error())
	assert.True(t, errors.Is(err, ErrFilterDeny))
	assert.Equal(t, "syscall_59", err.ToErrorDetail().Code)
}

func TestInspectFailureError(t *testing.T) {
	err := &InspectFailureError{Syscall: 16, Err: syscall.EINVAL}
	assert.True(t, errors.Is(err, syscall.EINVAL), "caller must see the syscall's own error")
	assert.True(t, errors.Is(err, ErrInspectFailure))
}

func TestCredentialRejectedError(t *testing.T) {
	err := &CredentialRejectedError{
		Source:      entities.GroupCredential(entities.GroupBit(2), 0),
		Destination: entities.GroupCredential(0, entities.GroupBit(3)),
		Port:        8080,
	}

	assert.True(t, errors.Is(err, syscall.ECONNREFUSED))
	assert.True(t, errors.Is(err, ErrCredentialRejected))
	assert.Contains(t, err.Error(), "port 8080")
	assert.Equal(t, "connection_refused", err.ToErrorDetail().Code)
}

func TestToErrorDetail(t *testing.T) {
	assert.Nil(t, ToErrorDetail(nil))

	detail := ToErrorDetail(fmt.Errorf("exec: %w", &TransitionDeniedError{Reason: DenyGloballyForbidden}))
	assert.Equal(t, "globally_forbidden", detail.Code)

	generic := ToErrorDetail(errors.New("boom"))
	assert.Equal(t, "internal", generic.Type)
	assert.Equal(t, "boom", generic.Message)

	entity := entities.NewErrorDetail("config", "bad")
	assert.Same(t, entity, ToErrorDetail(entity))
}

func TestConfigError(t *testing.T) {
	cause := errors.New("must be one of debug info warn error")
	err := &ConfigError{Field: "log_level", Err: cause}

	assert.Equal(t, "config validation failed for field 'log_level': must be one of debug info warn error", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "config", err.ToErrorDetail().Type)
	assert.Equal(t, "log_level", ToErrorDetail(err).Code)

	assert.Equal(t, "config validation failed: bad", (&ConfigError{Err: errors.New("bad")}).Error())
}
