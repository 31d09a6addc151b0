package policystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/reglet-dev/procguard/domain/ports"
)

// fileStoreConfig holds configuration for the FileStore.
type fileStoreConfig struct {
	path     string      // Path to the bundle file
	dirPerm  os.FileMode // Permission for created directories
	filePerm os.FileMode // Permission for the bundle file
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		path:     filepath.Join("/etc", "procguard", "policy.cbor"),
		dirPerm:  0o755,
		filePerm: 0o644, // world-readable, written by the compiler only
	}
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*fileStoreConfig)

// WithPath sets the path to the bundle file.
func WithPath(path string) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.path = path
	}
}

// WithFilePermissions sets the file permissions for the bundle file.
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.filePerm = perm
	}
}

// WithDirPermissions sets the permissions for created directories.
func WithDirPermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.dirPerm = perm
	}
}

// FileStore provides file-based persistence for compiled bundles.
type FileStore struct {
	config fileStoreConfig
}

var _ ports.BundleStore = (*FileStore)(nil)

// NewFileStore creates a new FileStore with the given options.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

// Load reads and decodes the bundle. A missing file returns an error
// matching ErrPolicyNotFound.
func (s *FileStore) Load() ([]ports.CompiledProfile, error) {
	data, err := os.ReadFile(s.config.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &domainerrors.PolicyNotFoundError{Path: s.config.path}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	profiles, err := DecodeBundle(data)
	if err != nil {
		return nil, &domainerrors.PolicyParseError{Path: s.config.path, Err: err}
	}
	return profiles, nil
}

// Save encodes the profiles and replaces the bundle file atomically.
func (s *FileStore) Save(profiles []ports.CompiledProfile) error {
	data, err := EncodeBundle(profiles)
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}

	dir := filepath.Dir(s.config.path)
	if err := os.MkdirAll(dir, s.config.dirPerm); err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bundle-*")
	if err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	if err := tmp.Chmod(s.config.filePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.config.path); err != nil {
		return fmt.Errorf("failed to replace bundle: %w", err)
	}
	return nil
}

// Path returns the path to the backing store.
func (s *FileStore) Path() string {
	return s.config.path
}
