package procguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/reglet-dev/procguard/application/config"
	"github.com/reglet-dev/procguard/domain/entities"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/reglet-dev/procguard/domain/policy"
	"github.com/reglet-dev/procguard/infrastructure/classifier"
	"github.com/reglet-dev/procguard/infrastructure/metrics"
	"github.com/reglet-dev/procguard/infrastructure/parser"
	"github.com/reglet-dev/procguard/infrastructure/policystore"
	"github.com/reglet-dev/procguard/infrastructure/process"
	"github.com/reglet-dev/procguard/infrastructure/wazero"
	"github.com/reglet-dev/procguard/log"
	"github.com/reglet-dev/procguard/loopback"
)

var (
	// ErrUnknownProcess is returned for PIDs with no live binding.
	ErrUnknownProcess = errors.New("unknown process")

	// ErrProcessExists is returned when a live binding already uses the PID.
	ErrProcessExists = errors.New("process already bound")
)

// Engine tracks process bindings and routes lifecycle events, syscalls and
// local connection traffic to the policy components.
type Engine struct {
	registry    *policy.Registry
	transitions *policy.TransitionValidator
	filter      *policy.Filter
	tagger      *loopback.Tagger
	logger      *slog.Logger
	closers     []func(context.Context) error

	mu        sync.RWMutex
	processes map[uint32]*policy.Binding
}

// New builds an engine from cfg (config.Default() when nil). Profiles come
// from WithCompiledProfiles/WithProfiles, or else from the bundle store.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ec := defaultEngineConfig()
	for _, opt := range opts {
		opt(&ec)
	}

	logger := ec.logger
	if logger == nil {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, &domainerrors.ConfigError{Field: "log_level", Err: err}
		}
		logger = log.New(log.WithLevel(level))
	}

	auditor := ec.auditor
	if auditor == nil {
		auditor = &policy.SlogAuditor{Logger: logger}
	}
	if ec.registerer != nil {
		counted, err := metrics.NewAuditor(metrics.WithNext(auditor), metrics.WithRegisterer(ec.registerer))
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		auditor = counted
	}

	compiled := ec.compiled
	if len(compiled) == 0 && len(ec.profiles) == 0 {
		store := ec.store
		if store == nil {
			store = policystore.NewFileStore(policystore.WithPath(cfg.BundlePath))
		}
		loaded, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading policy bundle %s: %w", store.Path(), err)
		}
		compiled = loaded
	}

	regOpts := []policy.RegistryOption{
		policy.WithCompiled(compiled...),
		policy.WithProfile(ec.profiles...),
		policy.WithBaseline(entities.Tag(cfg.BaselineTag)),
		policy.WithRegistryAuditor(auditor),
		policy.WithRegistryLogger(logger),
	}
	if ec.overrides {
		loader := policystore.NewOverrideLoader(
			parser.NewYamlFlagsParser(),
			parser.NewDSLParser(),
			policystore.WithSuffix(cfg.OverrideSuffix),
			policystore.WithOverrideDir(cfg.OverrideDir),
			policystore.WithOverrideLogger(logger),
		)
		regOpts = append(regOpts, policy.WithOverrideParsers(loader, loader))
	}
	registry, err := policy.NewRegistry(regOpts...)
	if err != nil {
		return nil, fmt.Errorf("building registry: %w", err)
	}

	e := &Engine{
		registry:  registry,
		logger:    logger,
		processes: make(map[uint32]*policy.Binding),
	}

	if ec.classifier == nil {
		ec.classifier = newClassifier(cfg, logger)
	}
	if ec.inspector == nil && cfg.InspectorModule != "" {
		wasm, err := os.ReadFile(cfg.InspectorModule)
		if err != nil {
			return nil, fmt.Errorf("reading inspector module: %w", err)
		}
		inspector, err := wazero.NewInspector(ctx, wasm, wazero.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("loading inspector module %s: %w", cfg.InspectorModule, err)
		}
		e.closers = append(e.closers, inspector.Close)
		ec.inspector = inspector
	}
	if ec.terminator == nil {
		ec.terminator = process.NewTerminator(process.WithLogger(logger))
	}
	if ec.notifier == nil {
		ec.notifier = process.NewNotifier(process.WithLogger(logger))
	}

	policyOpts := []policy.Option{
		policy.WithAuditor(auditor),
		policy.WithNotifier(ec.notifier),
		policy.WithTerminator(ec.terminator),
		policy.WithClassifier(ec.classifier),
		policy.WithLogger(logger),
		policy.WithGlobalPermissive(cfg.GlobalPermissive),
		policy.WithForbidElevatedExec(cfg.ForbidElevatedExec),
		policy.WithHandoffTag(entities.Tag(cfg.HandoffTag)),
		policy.WithDefaultTag(entities.Tag(cfg.DefaultTag)),
		policy.WithTransitionDenialNotify(cfg.NotifyOnDenial()),
		policy.WithUntrustedOverrides(cfg.OverrideDir != ""),
	}
	if ec.inspector != nil {
		policyOpts = append(policyOpts, policy.WithInspector(ec.inspector))
	}

	e.transitions = policy.NewTransitionValidator(registry, policyOpts...)
	e.filter = policy.NewFilter(policyOpts...)
	e.tagger = loopback.NewTagger(
		loopback.WithAuditor(auditor),
		loopback.WithLogger(logger),
		loopback.WithGlobalPermissive(cfg.GlobalPermissive),
	)

	logger.Info("procguard engine ready",
		"profiles", registry.Len(),
		"baseline", entities.Tag(cfg.BaselineTag).String(),
		"permissive", cfg.GlobalPermissive,
		"overrides", ec.overrides,
	)
	return e, nil
}

func newClassifier(cfg *config.Config, logger *slog.Logger) *classifier.Classifier {
	opts := []classifier.Option{
		classifier.WithTrustedPatterns(cfg.VerifiedStorage...),
		classifier.WithLogger(logger),
	}
	patterns := make([]string, 0, len(cfg.StaticTags))
	for pattern := range cfg.StaticTags {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		opts = append(opts, classifier.WithStaticTag(pattern, entities.Tag(cfg.StaticTags[pattern])))
	}
	return classifier.New(opts...)
}

// Close exits every live binding and releases the inspector runtime.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	for pid, b := range e.processes {
		b.Exit()
		delete(e.processes, pid)
	}
	e.mu.Unlock()

	var errs []error
	for _, closer := range e.closers {
		errs = append(errs, closer(ctx))
	}
	return errors.Join(errs...)
}

// Registry returns the profile registry.
func (e *Engine) Registry() *policy.Registry {
	return e.registry
}

// Tagger returns the loopback credential tagger.
func (e *Engine) Tagger() *loopback.Tagger {
	return e.tagger
}

// Binding returns the live binding for pid.
func (e *Engine) Binding(pid uint32) (*policy.Binding, error) {
	e.mu.RLock()
	b, ok := e.processes[pid]
	e.mu.RUnlock()
	if !ok || b.Exited() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProcess, pid)
	}
	return b, nil
}

func (e *Engine) bind(b *policy.Binding) error {
	pid := b.Identity().PID
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.processes[pid]; ok && !old.Exited() {
		return fmt.Errorf("%w: %d", ErrProcessExists, pid)
	}
	e.processes[pid] = b
	return nil
}

// Spawn binds a root process (one with no tracked parent) to tag.
func (e *Engine) Spawn(id entities.ProcessIdentity, tag entities.Tag) (*policy.Binding, error) {
	p, err := e.registry.Acquire(tag)
	if err != nil {
		return nil, err
	}
	b := policy.NewBinding(id, p, e.registry.Release)
	if err := e.bind(b); err != nil {
		b.Exit()
		return nil, err
	}
	return b, nil
}

// Fork binds child to the parent's active profile.
func (e *Engine) Fork(parent uint32, child entities.ProcessIdentity) (*policy.Binding, error) {
	pb, err := e.Binding(parent)
	if err != nil {
		return nil, err
	}
	cb, err := pb.Fork(child)
	if err != nil {
		return nil, err
	}
	if err := e.bind(cb); err != nil {
		cb.Exit()
		return nil, err
	}
	return cb, nil
}

// Exec runs the transition for pid executing image. On rejection the
// process keeps its profile and a TransitionDeniedError is returned.
func (e *Engine) Exec(ctx context.Context, pid uint32, image string) error {
	b, err := e.Binding(pid)
	if err != nil {
		return err
	}
	return e.transitions.Exec(ctx, b, image)
}

// Exit releases pid's profile reference. Unknown PIDs are ignored.
func (e *Engine) Exit(pid uint32) {
	e.mu.Lock()
	b, ok := e.processes[pid]
	delete(e.processes, pid)
	e.mu.Unlock()
	if ok {
		b.Exit()
	}
}

// Syscall enforces the filter decision for syscall nr made by pid. A Deny
// outside permissive mode terminates the process and drops its binding.
func (e *Engine) Syscall(ctx context.Context, pid uint32, conv entities.Convention, nr int) error {
	b, err := e.Binding(pid)
	if err != nil {
		return err
	}
	err = e.filter.Enforce(wazero.WithProcess(ctx, b.Identity()), b, conv, nr)
	if errors.Is(err, domainerrors.ErrFilterDeny) {
		e.Exit(pid)
	}
	return err
}

// Decide returns the filter code for syscall nr made by pid without acting on it.
func (e *Engine) Decide(pid uint32, conv entities.Convention, nr int) (entities.FilterCode, error) {
	b, err := e.Binding(pid)
	if err != nil {
		return entities.FilterDeny, err
	}
	return e.filter.Decide(b, conv, nr), nil
}

// IsPermissive reports whether enforcement failures for pid become audited allows.
func (e *Engine) IsPermissive(pid uint32) (bool, error) {
	b, err := e.Binding(pid)
	if err != nil {
		return false, err
	}
	return e.filter.IsPermissive(b), nil
}

// IsTransitionTargetAllowed reports whether pid may exec image.
func (e *Engine) IsTransitionTargetAllowed(ctx context.Context, pid uint32, image string) bool {
	b, err := e.Binding(pid)
	if err != nil {
		return false
	}
	return e.transitions.IsTransitionTargetAllowed(ctx, b, image)
}

// Acquire takes a reference to the profile registered under tag.
func (e *Engine) Acquire(tag entities.Tag) (*entities.Profile, error) {
	return e.registry.Acquire(tag)
}

// Release drops a reference taken by Acquire.
func (e *Engine) Release(p *entities.Profile) {
	e.registry.Release(p)
}

// OpenEndpoint allocates an untagged local endpoint.
func (e *Engine) OpenEndpoint() loopback.Handle {
	return e.tagger.Open()
}

// CloseEndpoint frees a local endpoint.
func (e *Engine) CloseEndpoint(h loopback.Handle) error {
	return e.tagger.Close(h)
}

// TagEndpoint tags h with the credential of pid's active profile.
func (e *Engine) TagEndpoint(pid uint32, h loopback.Handle, force bool) (entities.SocketCredential, error) {
	b, err := e.Binding(pid)
	if err != nil {
		return entities.SocketCredential{}, err
	}
	return e.tagger.Tag(b, h, force)
}

// Send builds an outbound local packet from h on behalf of pid. An
// untagged endpoint is tagged with pid's credential first.
func (e *Engine) Send(pid uint32, h loopback.Handle, port uint16, payload []byte) (loopback.Packet, error) {
	b, err := e.Binding(pid)
	if err != nil {
		return loopback.Packet{}, err
	}
	return e.tagger.Send(b, h, port, payload)
}

// Connect validates a connection request arriving at listener and returns
// the child endpoint carrying the listener's credential.
func (e *Engine) Connect(ctx context.Context, pkt loopback.Packet, listener loopback.Handle) (loopback.Handle, error) {
	return e.tagger.Connect(ctx, pkt, listener)
}

// Deliver validates a data packet arriving at dst.
func (e *Engine) Deliver(ctx context.Context, pkt loopback.Packet, dst loopback.Handle) error {
	return e.tagger.Deliver(ctx, pkt, dst)
}

// Accept hands a connected child endpoint to user space.
func (e *Engine) Accept(child loopback.Handle) (entities.SocketCredential, error) {
	return e.tagger.Accept(child)
}

// IsLocal reports whether address is a loopback destination.
func (e *Engine) IsLocal(address string) bool {
	return loopback.IsLocal(address)
}
