// Package errors provides domain-specific error types for the engine.
// All error types support error unwrapping via errors.As() and errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"
	"syscall"

	"github.com/reglet-dev/procguard/domain/entities"
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

// Sentinel kinds. Every concrete error below reports errors.Is true for its kind.
var (
	ErrPolicyNotFound     = stdErrors.New("policy not found")
	ErrPolicyParse        = stdErrors.New("policy parse error")
	ErrTransitionDenied   = stdErrors.New("transition denied")
	ErrFilterDeny         = stdErrors.New("syscall denied")
	ErrInspectFailure     = stdErrors.New("syscall inspection failed")
	ErrCredentialRejected = stdErrors.New("loopback credential rejected")
)

// DetailedError is an interface for error types that can convert themselves
// to a structured ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to a structured ErrorDetail.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}
}

// PolicyNotFoundError reports a tag or override file with no policy behind it.
type PolicyNotFoundError struct {
	Path string
	Tag  entities.Tag
}

func (e *PolicyNotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("no policy for %s", e.Path)
	}
	return fmt.Sprintf("no policy for tag %s", e.Tag)
}

func (e *PolicyNotFoundError) Is(target error) bool {
	return target == ErrPolicyNotFound
}

// ToErrorDetail implements DetailedError.
func (e *PolicyNotFoundError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "policy", Code: "not_found", IsNotFound: true}
}

// PolicyParseError reports a malformed policy source. Line is 1-based and
// zero when the error is not tied to a line.
type PolicyParseError struct {
	Err  error
	Path string
	Line int
}

func (e *PolicyParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *PolicyParseError) Unwrap() error {
	return e.Err
}

func (e *PolicyParseError) Is(target error) bool {
	return target == ErrPolicyParse
}

// ToErrorDetail implements DetailedError.
func (e *PolicyParseError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "policy", Code: "parse"}
}

// TransitionDenyReason is the sub-kind of a TransitionDeniedError.
type TransitionDenyReason string

const (
	DenyUntrustedLocation TransitionDenyReason = "untrusted_location"
	DenyDisallowedTarget  TransitionDenyReason = "disallowed_target"
	DenyGloballyForbidden TransitionDenyReason = "globally_forbidden"
)

// TransitionDeniedError aborts an exec. The process keeps its pre-exec profile.
type TransitionDeniedError struct {
	Reason  TransitionDenyReason
	Image   string
	Process entities.ProcessIdentity
	From    entities.Tag
	To      entities.Tag
}

func (e *TransitionDeniedError) Error() string {
	return fmt.Sprintf("exec of %s by %s denied (%s): %s -> %s",
		e.Image, e.Process, e.Reason, e.From, e.To)
}

func (e *TransitionDeniedError) Is(target error) bool {
	return target == ErrTransitionDenied || target == syscall.EPERM
}

// ToErrorDetail implements DetailedError.
func (e *TransitionDeniedError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message: e.Error(),
		Type:    "capability",
		Code:    string(e.Reason),
		Details: map[string]any{"image": e.Image, "from": uint32(e.From), "to": uint32(e.To)},
	}
}

// FilterDenyError is fatal: the process that raised it has been terminated.
type FilterDenyError struct {
	Process    entities.ProcessIdentity
	Syscall    int
	Convention entities.Convention
	Tag        entities.Tag
}

func (e *FilterDenyError) Error() string {
	return fmt.Sprintf("syscall %d (%s) denied for %s under %s", e.Syscall, e.Convention, e.Process, e.Tag)
}

func (e *FilterDenyError) Is(target error) bool {
	return target == ErrFilterDeny
}

// ToErrorDetail implements DetailedError.
func (e *FilterDenyError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "capability", Code: fmt.Sprintf("syscall_%d", e.Syscall)}
}

// InspectFailureError is returned to the caller as the syscall's own error.
type InspectFailureError struct {
	Err     error
	Syscall int
}

func (e *InspectFailureError) Error() string {
	return fmt.Sprintf("syscall %d rejected by inspection: %v", e.Syscall, e.Err)
}

func (e *InspectFailureError) Unwrap() error {
	return e.Err
}

func (e *InspectFailureError) Is(target error) bool {
	return target == ErrInspectFailure
}

// ToErrorDetail implements DetailedError.
func (e *InspectFailureError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "validation", Code: fmt.Sprintf("syscall_%d", e.Syscall)}
}

// CredentialRejectedError refuses a loopback connection or delivery.
// It unwraps to ECONNREFUSED.
type CredentialRejectedError struct {
	Source      entities.SocketCredential
	Destination entities.SocketCredential
	Port        uint16
}

func (e *CredentialRejectedError) Error() string {
	return fmt.Sprintf("loopback connection to port %d refused: %s -> %s", e.Port, e.Source, e.Destination)
}

func (e *CredentialRejectedError) Unwrap() error {
	return syscall.ECONNREFUSED
}

func (e *CredentialRejectedError) Is(target error) bool {
	return target == ErrCredentialRejected
}

// ToErrorDetail implements DetailedError.
func (e *CredentialRejectedError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "network", Code: "connection_refused"}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Err   error
	Field string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config validation failed for field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *ConfigError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "config", Code: e.Field}
}
