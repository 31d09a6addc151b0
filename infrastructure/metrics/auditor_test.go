package metrics_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/infrastructure/metrics"
	"github.com/reglet-dev/procguard/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditor_CountsAndForwards(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	next := &testutil.RecordingAuditor{}
	a, err := metrics.NewAuditor(metrics.WithNext(next), metrics.WithRegisterer(reg))
	require.NoError(t, err)

	ctx := context.Background()
	a.Audit(ctx, entities.AuditRecord{Kind: entities.AuditFilterDeny, Syscall: 101})
	a.Audit(ctx, entities.AuditRecord{Kind: entities.AuditFilterDeny, Syscall: 101})
	a.Audit(ctx, entities.AuditRecord{Kind: entities.AuditFilterDeny, Syscall: 26, Convention: entities.ConventionSecondary, Permissive: true})
	a.Audit(ctx, entities.AuditRecord{Kind: entities.AuditCredentialRejected, Port: 8080})

	assert.Len(t, next.Records(), 4)

	expected := `
# HELP procguard_audit_records_total Audit records by kind and whether the outcome was converted into an allow.
# TYPE procguard_audit_records_total counter
procguard_audit_records_total{kind="credential_rejected",permissive="false"} 1
procguard_audit_records_total{kind="filter_deny",permissive="false"} 2
procguard_audit_records_total{kind="filter_deny",permissive="true"} 1
# HELP procguard_syscall_denials_total Denied or failed syscalls by number and convention.
# TYPE procguard_syscall_denials_total counter
procguard_syscall_denials_total{convention="native",syscall="101"} 2
procguard_syscall_denials_total{convention="secondary",syscall="26"} 1
`
	assert.NoError(t, promtestutil.GatherAndCompare(reg, strings.NewReader(expected),
		"procguard_audit_records_total", "procguard_syscall_denials_total"))
}

func TestAuditor_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewAuditor(metrics.WithRegisterer(reg))
	require.NoError(t, err)

	_, err = metrics.NewAuditor(metrics.WithRegisterer(reg))
	assert.Error(t, err)

	other := prometheus.NewRegistry()
	_, err = metrics.NewAuditor(
		metrics.WithRegisterer(other),
		metrics.WithConstLabels(prometheus.Labels{"instance": "b"}),
	)
	assert.NoError(t, err)
}

func TestAuditor_WithoutNext(t *testing.T) {
	a, err := metrics.NewAuditor()
	require.NoError(t, err)
	a.Audit(context.Background(), entities.AuditRecord{Kind: entities.AuditPolicyFallback})
	assert.Equal(t, 1, promtestutil.CollectAndCount(a, "procguard_audit_records_total"))
}
