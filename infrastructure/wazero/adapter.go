package wazero

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	"github.com/reglet-dev/procguard/domain/ports"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// InspectorConfig holds configuration for the WebAssembly inspector.
type InspectorConfig struct {
	// Logger receives trap and load diagnostics (default: slog.Default()).
	Logger *slog.Logger

	// ExportName is the exported inspection function (default: "inspect").
	ExportName string

	// HostModuleName is the host module name (default: "procguard_host").
	HostModuleName string

	// CustomHandlers are additional host functions exported to the module.
	CustomHandlers []CustomHandler

	// MemoryLimitPages caps guest memory in 64KiB pages (default: 16).
	MemoryLimitPages uint32
}

// CustomHandler represents a host function exported to the inspector module.
type CustomHandler struct {
	// Name is the exported function name.
	Name string

	// Handler is the wazero GoModuleFunc implementation.
	Handler api.GoModuleFunc

	// ParamTypes are the WASM parameter types.
	ParamTypes []api.ValueType

	// ResultTypes are the WASM result types.
	ResultTypes []api.ValueType
}

// InspectorOption configures the inspector.
type InspectorOption func(*InspectorConfig)

// WithExportName sets the exported inspection function name.
func WithExportName(name string) InspectorOption {
	return func(c *InspectorConfig) {
		c.ExportName = name
	}
}

// WithHostModuleName sets the host module name.
func WithHostModuleName(name string) InspectorOption {
	return func(c *InspectorConfig) {
		c.HostModuleName = name
	}
}

// WithCustomHandler adds a host function.
func WithCustomHandler(h CustomHandler) InspectorOption {
	return func(c *InspectorConfig) {
		c.CustomHandlers = append(c.CustomHandlers, h)
	}
}

// WithMemoryLimitPages caps guest memory.
func WithMemoryLimitPages(pages uint32) InspectorOption {
	return func(c *InspectorConfig) {
		c.MemoryLimitPages = pages
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) InspectorOption {
	return func(c *InspectorConfig) {
		c.Logger = l
	}
}

// defaultInspectorConfig returns the default inspector configuration.
func defaultInspectorConfig() InspectorConfig {
	return InspectorConfig{
		Logger:           slog.Default(),
		ExportName:       "inspect",
		HostModuleName:   "procguard_host",
		MemoryLimitPages: 16,
	}
}

// Inspector implements ports.Inspector by calling into a WebAssembly module.
// Calls are serialized because a module instance is single-threaded.
type Inspector struct {
	runtime wazero.Runtime
	module  api.Module
	inspect api.Function
	logger  *slog.Logger
	mu      sync.Mutex
}

var _ ports.Inspector = (*Inspector)(nil)

// NewInspector compiles and instantiates wasm. The module must export the
// configured function with signature (i32) -> i32.
func NewInspector(ctx context.Context, wasm []byte, opts ...InspectorOption) (*Inspector, error) {
	cfg := defaultInspectorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// The module is shared by every inspected process, so one caller's
	// cancellation must not close it.
	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages))

	// Inspectors built with a wasip1 toolchain import WASI.
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating wasi: %w", err)
	}

	if err := registerHostModule(ctx, runtime, cfg); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating host module: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("compiling inspector: %w", err)
	}
	mod, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("inspector"))
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating inspector: %w", err)
	}

	// Reactor modules initialize themselves in _initialize.
	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = runtime.Close(ctx)
			return nil, fmt.Errorf("initializing inspector: %w", err)
		}
	}

	fn := mod.ExportedFunction(cfg.ExportName)
	if fn == nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("inspector does not export %q", cfg.ExportName)
	}
	def := fn.Definition()
	if !sameTypes(def.ParamTypes(), api.ValueTypeI32) || !sameTypes(def.ResultTypes(), api.ValueTypeI32) {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("inspector export %q must have signature (i32) -> i32", cfg.ExportName)
	}

	return &Inspector{runtime: runtime, module: mod, inspect: fn, logger: cfg.Logger}, nil
}

func sameTypes(got []api.ValueType, want ...api.ValueType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// registerHostModule exports current_pid and the custom handlers.
func registerHostModule(ctx context.Context, runtime wazero.Runtime, cfg InspectorConfig) error {
	builder := runtime.NewHostModuleBuilder(cfg.HostModuleName)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(currentPID), nil, []api.ValueType{api.ValueTypeI32}).
		Export("current_pid")

	for _, ch := range cfg.CustomHandlers {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(ch.Handler, ch.ParamTypes, ch.ResultTypes).
			Export(ch.Name)
	}

	_, err := builder.Instantiate(ctx)
	return err
}

// currentPID returns the inspected process PID, or 0 when unknown.
func currentPID(ctx context.Context, _ api.Module, stack []uint64) {
	id, _ := ProcessFromContext(ctx)
	stack[0] = api.EncodeU32(id.PID)
}

// maxErrno is the largest errno value a kernel reports.
const maxErrno = 4095

// Inspect runs the module's inspection function for syscall nr. A non-zero
// status is returned as the corresponding errno; a trap fails closed.
// Cancellation of ctx does not interrupt the call.
func (i *Inspector) Inspect(ctx context.Context, nr int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	results, err := i.inspect.Call(context.WithoutCancel(ctx), api.EncodeI32(int32(nr))) //nolint:gosec // G115: syscall numbers fit in i32
	if err != nil {
		i.logger.ErrorContext(ctx, "wazero: inspector trapped", "syscall", nr, "error", err)
		return fmt.Errorf("inspector trapped: %w", err)
	}

	if status := api.DecodeI32(results[0]); status != 0 {
		return statusErrno(status)
	}
	return nil
}

// statusErrno maps a non-zero status to an errno. Negative statuses follow
// the -errno convention; anything outside the errno range becomes EPERM.
func statusErrno(status int32) syscall.Errno {
	n := int64(status)
	if n < 0 {
		n = -n
	}
	if n > maxErrno {
		return syscall.EPERM
	}
	return syscall.Errno(n)
}

// Close releases the runtime and the module.
func (i *Inspector) Close(ctx context.Context) error {
	return i.runtime.Close(ctx)
}
