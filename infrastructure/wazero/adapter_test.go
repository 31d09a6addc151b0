package wazero_test

import (
	"context"
	"syscall"
	"testing"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/infrastructure/wazero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
)

// inspectModule exports inspect(i32) -> i32 returning 1 (EPERM) for
// syscall 42 and 0 otherwise.
var inspectModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f, // type: (i32) -> i32
	0x03, 0x02, 0x01, 0x00, // func 0 has type 0
	0x07, 0x0b, 0x01, 0x07, 'i', 'n', 's', 'p', 'e', 'c', 't', 0x00, 0x00, // export "inspect"
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x41, 0x2a, 0x46, 0x0b, // local.get 0; i32.const 42; i32.eq
}

// trapModule exports inspect(i32) -> i32 whose body is unreachable.
var trapModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0b, 0x01, 0x07, 'i', 'n', 's', 'p', 'e', 'c', 't', 0x00, 0x00,
	0x0a, 0x05, 0x01, 0x03, 0x00, 0x00, 0x0b, // unreachable
}

// constModule exports inspect(i32) -> i32 returning the constant encoded
// as a signed LEB128 i32.const immediate.
func constModule(leb ...byte) []byte {
	body := append([]byte{0x00, 0x41}, leb...)
	body = append(body, 0x0b)
	mod := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,
		0x03, 0x02, 0x01, 0x00,
		0x07, 0x0b, 0x01, 0x07, 'i', 'n', 's', 'p', 'e', 'c', 't', 0x00, 0x00,
		0x0a, byte(len(body) + 2), 0x01, byte(len(body)),
	}
	return append(mod, body...)
}

func TestInspector_Inspect(t *testing.T) {
	ctx := context.Background()
	inspector, err := wazero.NewInspector(ctx, inspectModule)
	require.NoError(t, err)
	defer func() { _ = inspector.Close(ctx) }()

	assert.NoError(t, inspector.Inspect(ctx, 16))
	err = inspector.Inspect(ctx, 42)
	assert.ErrorIs(t, err, syscall.EPERM)
}

func TestInspector_TrapFailsClosed(t *testing.T) {
	ctx := context.Background()
	inspector, err := wazero.NewInspector(ctx, trapModule)
	require.NoError(t, err)
	defer func() { _ = inspector.Close(ctx) }()

	assert.Error(t, inspector.Inspect(ctx, 1))
}

func TestInspector_CancelledContext(t *testing.T) {
	inspector, err := wazero.NewInspector(context.Background(), inspectModule)
	require.NoError(t, err)
	defer func() { _ = inspector.Close(context.Background()) }()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, inspector.Inspect(cancelled, 16))
	assert.ErrorIs(t, inspector.Inspect(cancelled, 42), syscall.EPERM)

	// Other callers keep a working inspector.
	assert.NoError(t, inspector.Inspect(context.Background(), 16))
	assert.ErrorIs(t, inspector.Inspect(context.Background(), 42), syscall.EPERM)
}

func TestInspector_StatusErrno(t *testing.T) {
	tests := []struct {
		name string
		leb  []byte
		want syscall.Errno
	}{
		{"positive", []byte{0x0d}, syscall.EACCES},
		{"negative errno", []byte{0x73}, syscall.EACCES},
		{"min int32", []byte{0x80, 0x80, 0x80, 0x80, 0x78}, syscall.EPERM},
		{"beyond errno range", []byte{0x80, 0x80, 0x04}, syscall.EPERM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			inspector, err := wazero.NewInspector(ctx, constModule(tt.leb...))
			require.NoError(t, err)
			defer func() { _ = inspector.Close(ctx) }()

			err = inspector.Inspect(ctx, 0)
			var errno syscall.Errno
			require.ErrorAs(t, err, &errno)
			assert.Equal(t, tt.want, errno)
		})
	}
}

func TestInspector_LoadErrors(t *testing.T) {
	ctx := context.Background()

	_, err := wazero.NewInspector(ctx, []byte("not wasm"))
	assert.Error(t, err)

	_, err = wazero.NewInspector(ctx, inspectModule, wazero.WithExportName("validate"))
	assert.ErrorContains(t, err, "validate")
}

func TestInspector_CustomHandlers(t *testing.T) {
	ctx := context.Background()
	inspector, err := wazero.NewInspector(ctx, inspectModule,
		wazero.WithHostModuleName("host"),
		wazero.WithCustomHandler(wazero.CustomHandler{
			Name:        "log_status",
			Handler:     func(context.Context, api.Module, []uint64) {},
			ParamTypes:  []api.ValueType{api.ValueTypeI32},
			ResultTypes: []api.ValueType{},
		}),
	)
	require.NoError(t, err)
	assert.NoError(t, inspector.Close(ctx))
}

func TestProcessContext(t *testing.T) {
	_, ok := wazero.ProcessFromContext(context.Background())
	assert.False(t, ok)

	id := entities.ProcessIdentity{PID: 7, Epoch: 100}
	got, ok := wazero.ProcessFromContext(wazero.WithProcess(context.Background(), id))
	require.True(t, ok)
	assert.Equal(t, id, got)
}
