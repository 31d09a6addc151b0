package procguard

import (
	"encoding/json"
	"fmt"

	"github.com/reglet-dev/procguard/application/config"
)

// Config is a configuration document in map form, as embedded in a larger
// host configuration.
type Config map[string]interface{}

// ValidateConfig validates a Config map against a struct with validation tags.
// It first marshals the map to JSON, then unmarshals it into the target struct,
// and finally runs the validator on the struct. Fields already set on the
// target and absent from the map are kept.
func ValidateConfig(cfg Config, targetStruct interface{}) error {
	// 1. Convert map[string]interface{} to JSON bytes
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config map: %w", err)
	}

	// 2. Unmarshal JSON bytes into the target struct
	if err := json.Unmarshal(jsonBytes, targetStruct); err != nil {
		return fmt.Errorf("failed to unmarshal config into struct: %w", err)
	}

	// 3. Validate the struct using go-playground/validator
	if err := config.Validator().Struct(targetStruct); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// ConfigFromMap overlays m on the default engine configuration.
func ConfigFromMap(m Config) (*config.Config, error) {
	cfg := config.Default()
	if err := ValidateConfig(m, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
