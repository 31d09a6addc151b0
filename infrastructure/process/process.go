// Package process delivers enforcement outcomes to real processes with signals.
package process

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/ports"
)

// ErrInvalidPID is returned for PIDs that would address a process group.
var ErrInvalidPID = errors.New("refusing to signal pid <= 0")

// KillFunc sends sig to pid.
type KillFunc func(pid int, sig syscall.Signal) error

type signalConfig struct {
	logger *slog.Logger
	kill   KillFunc
	signal syscall.Signal
}

func defaultSignalConfig(sig syscall.Signal) signalConfig {
	return signalConfig{
		logger: slog.Default(),
		kill:   kill,
		signal: sig,
	}
}

// Option configures a Terminator or Notifier.
type Option func(*signalConfig)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *signalConfig) {
		c.logger = l
	}
}

// WithKillFunc replaces the signal delivery function.
func WithKillFunc(fn KillFunc) Option {
	return func(c *signalConfig) {
		c.kill = fn
	}
}

// WithSignal overrides the signal sent.
func WithSignal(sig syscall.Signal) Option {
	return func(c *signalConfig) {
		c.signal = sig
	}
}

func newSignalConfig(sig syscall.Signal, opts []Option) signalConfig {
	cfg := defaultSignalConfig(sig)
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

func (c *signalConfig) send(id entities.ProcessIdentity) error {
	if id.PID == 0 || id.PID > 1<<31-1 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, id.PID)
	}
	return c.kill(int(id.PID), c.signal)
}

var (
	_ ports.Terminator        = (*Terminator)(nil)
	_ ports.ViolationNotifier = (*Notifier)(nil)
)

// Terminator kills processes with SIGKILL.
type Terminator struct {
	cfg signalConfig
}

// NewTerminator creates a Terminator.
func NewTerminator(opts ...Option) *Terminator {
	return &Terminator{cfg: newSignalConfig(syscall.SIGKILL, opts)}
}

// Terminate signals the process. Delivery failures are logged; the process
// may already have exited.
func (t *Terminator) Terminate(id entities.ProcessIdentity, reason string) {
	t.cfg.logger.Error("terminating process", "pid", id.PID, "epoch", id.Epoch, "reason", reason)
	if err := t.cfg.send(id); err != nil {
		t.cfg.logger.Error("terminate failed", "pid", id.PID, "error", err)
	}
}

// Notifier raises a violation notification by sending SIGSYS without
// waiting for delivery.
type Notifier struct {
	cfg signalConfig
}

// NewNotifier creates a Notifier.
func NewNotifier(opts ...Option) *Notifier {
	return &Notifier{cfg: newSignalConfig(syscall.SIGSYS, opts)}
}

// NotifyViolation signals the process asynchronously.
func (n *Notifier) NotifyViolation(id entities.ProcessIdentity) {
	go func() {
		if err := n.cfg.send(id); err != nil {
			n.cfg.logger.Warn("violation notification failed", "pid", id.PID, "error", err)
		}
	}()
}
