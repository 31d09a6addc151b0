package entities

import (
	"fmt"
	"time"
)

// AuditKind classifies a security-relevant outcome.
type AuditKind string

const (
	AuditTransitionDenied   AuditKind = "transition_denied"
	AuditFilterDeny         AuditKind = "filter_deny"
	AuditInspectFailure     AuditKind = "inspect_failure"
	AuditCredentialRejected AuditKind = "credential_rejected"
	AuditOverrideParseError AuditKind = "override_parse_error"
	AuditPolicyFallback     AuditKind = "policy_fallback"
)

// AuditRecord carries the identity, syscall/port and tag context of an audit event.
type AuditRecord struct {
	Time        time.Time       `json:"time"`
	Kind        AuditKind       `json:"kind"`
	Reason      string          `json:"reason,omitempty"`
	Image       string          `json:"image,omitempty"`
	Process     ProcessIdentity `json:"process"`
	Syscall     int             `json:"syscall,omitempty"`
	Port        uint16          `json:"port,omitempty"`
	Tag         Tag             `json:"tag"`
	PreviousTag Tag             `json:"previous_tag,omitempty"`
	Convention  Convention      `json:"convention,omitempty"`

	// Permissive is set when the outcome was converted into an allow.
	Permissive bool `json:"permissive,omitempty"`
}

// String renders the record on one line.
func (r AuditRecord) String() string {
	s := fmt.Sprintf("%s pid=%s tag=%s", r.Kind, r.Process, r.Tag)
	if r.Syscall != 0 || r.Kind == AuditFilterDeny || r.Kind == AuditInspectFailure {
		s += fmt.Sprintf(" syscall=%d/%s", r.Syscall, r.Convention)
	}
	if r.Port != 0 {
		s += fmt.Sprintf(" port=%d", r.Port)
	}
	if r.Image != "" {
		s += " image=" + r.Image
	}
	if r.Permissive {
		s += " permissive"
	}
	if r.Reason != "" {
		s += ": " + r.Reason
	}
	return s
}
