package ports

import (
	"context"

	"github.com/reglet-dev/procguard/domain/entities"
)

// ImageClassifier answers provenance questions about an executable image.
type ImageClassifier interface {
	// IsFromTrustedSource reports whether the image resides on verified,
	// read-only storage.
	IsFromTrustedSource(ctx context.Context, image string) bool

	// ReadEmbeddedClassification returns the profile tag recorded in the
	// image, and false when the image carries none. For images outside
	// verified storage it must only report tags the image owner cannot set.
	ReadEmbeddedClassification(ctx context.Context, image string) (entities.Tag, bool, error)
}
