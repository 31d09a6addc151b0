package ports

import "github.com/reglet-dev/procguard/domain/entities"

// CompiledProfile is one entry of a compiled policy bundle.
type CompiledProfile struct {
	Filters *entities.FilterSet
	Name    string
	Flags   entities.Flags
	Tag     entities.Tag
}

// BundleStore provides persistence for compiled policy bundles.
type BundleStore interface {
	// Load retrieves every compiled profile.
	Load() ([]CompiledProfile, error)

	// Save persists the compiled profiles.
	Save(profiles []CompiledProfile) error

	// Path returns the path to the backing store (for user messaging).
	Path() string
}
