// Package metrics exports enforcement outcomes as Prometheus metrics.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/ports"
)

const namespace = "procguard"

// Auditor counts audit records and forwards them to the next auditor.
type Auditor struct {
	next    ports.Auditor
	records *prometheus.CounterVec
	syscall *prometheus.CounterVec
}

var (
	_ ports.Auditor         = (*Auditor)(nil)
	_ prometheus.Collector = (*Auditor)(nil)
)

type auditorConfig struct {
	next        ports.Auditor
	constLabels prometheus.Labels
	registerer  prometheus.Registerer
}

// Option configures the metrics auditor.
type Option func(*auditorConfig)

// WithNext sets the auditor records are forwarded to after counting.
func WithNext(next ports.Auditor) Option {
	return func(c *auditorConfig) {
		c.next = next
	}
}

// WithConstLabels attaches constant labels to every series.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *auditorConfig) {
		c.constLabels = labels
	}
}

// WithRegisterer registers the collectors on r. Without it the caller
// registers the Auditor itself.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *auditorConfig) {
		c.registerer = r
	}
}

// NewAuditor builds the counting auditor.
func NewAuditor(opts ...Option) (*Auditor, error) {
	var cfg auditorConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &Auditor{
		next: cfg.next,
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "audit_records_total",
			Help:        "Audit records by kind and whether the outcome was converted into an allow.",
			ConstLabels: cfg.constLabels,
		}, []string{"kind", "permissive"}),
		syscall: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "syscall_denials_total",
			Help:        "Denied or failed syscalls by number and convention.",
			ConstLabels: cfg.constLabels,
		}, []string{"syscall", "convention"}),
	}

	if cfg.registerer != nil {
		if err := cfg.registerer.Register(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Audit counts rec and forwards it.
func (a *Auditor) Audit(ctx context.Context, rec entities.AuditRecord) {
	a.records.WithLabelValues(string(rec.Kind), strconv.FormatBool(rec.Permissive)).Inc()
	if rec.Kind == entities.AuditFilterDeny || rec.Kind == entities.AuditInspectFailure {
		a.syscall.WithLabelValues(strconv.Itoa(rec.Syscall), rec.Convention.String()).Inc()
	}
	if a.next != nil {
		a.next.Audit(ctx, rec)
	}
}

// Describe implements prometheus.Collector.
func (a *Auditor) Describe(ch chan<- *prometheus.Desc) {
	a.records.Describe(ch)
	a.syscall.Describe(ch)
}

// Collect implements prometheus.Collector.
func (a *Auditor) Collect(ch chan<- prometheus.Metric) {
	a.records.Collect(ch)
	a.syscall.Collect(ch)
}
