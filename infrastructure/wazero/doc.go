// Package wazero runs syscall inspectors compiled to WebAssembly.
//
// An inspector module exports a function taking the syscall number as i32
// and returning an i32 status: zero lets the syscall proceed, any other
// value is returned to the caller as that errno.
//
// # Basic Usage
//
//	wasm, _ := os.ReadFile("inspector.wasm")
//	inspector, err := wazero.NewInspector(ctx, wasm,
//	    wazero.WithExportName("inspect"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer inspector.Close(ctx)
//
//	filter := policy.NewFilter(policy.WithInspector(inspector))
//
// # Host Functions
//
// The host module "procguard_host" is always instantiated and exports
// current_pid, which returns the PID of the inspected process as set by
// WithProcess. Additional functions are registered with WithCustomHandler.
package wazero
