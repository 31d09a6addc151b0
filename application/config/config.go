// Package config loads the engine configuration document.
//
// A document is YAML:
//
//	global_permissive: false
//	forbid_elevated_exec: false
//	handoff_tag: 0x20
//	default_tag: 0x30
//	baseline_tag: 0x01
//	verified_storage: ["/system/**", "/vendor/**"]
//	static_tags:
//	  "/system/bin/daemon": 0x10
//	notify_on_transition_denied: true
//	bundle_path: /etc/procguard/policy.cbor
//	override_suffix: .procguard
//	inspector_module: /etc/procguard/inspect.wasm
//	log_level: info
//
// Loading checks the document against a JSON schema generated from Config,
// then decodes it strictly and validates struct tags.
package config

import (
	"bytes"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"github.com/reglet-dev/procguard/application/schema"
	"github.com/reglet-dev/procguard/domain/errors"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Default values applied to fields absent from the document.
const (
	DefaultBundlePath     = "/etc/procguard/policy.cbor"
	DefaultOverrideSuffix = ".procguard"
	DefaultLogLevel       = "info"
)

// Config is the engine configuration document.
type Config struct {
	GlobalPermissive   bool `yaml:"global_permissive" json:"global_permissive,omitempty"`
	ForbidElevatedExec bool `yaml:"forbid_elevated_exec" json:"forbid_elevated_exec,omitempty"`

	HandoffTag  uint32 `yaml:"handoff_tag" json:"handoff_tag,omitempty"`
	DefaultTag  uint32 `yaml:"default_tag" json:"default_tag,omitempty"`
	BaselineTag uint32 `yaml:"baseline_tag" json:"baseline_tag,omitempty"`

	VerifiedStorage []string          `yaml:"verified_storage" json:"verified_storage,omitempty" validate:"dive,required,glob"`
	StaticTags      map[string]uint32 `yaml:"static_tags" json:"static_tags,omitempty" validate:"dive,keys,required,glob,endkeys"`

	// NotifyOnTransitionDenied defaults to true when absent.
	NotifyOnTransitionDenied *bool `yaml:"notify_on_transition_denied" json:"notify_on_transition_denied,omitempty"`

	BundlePath      string `yaml:"bundle_path" json:"bundle_path,omitempty" validate:"required"`
	OverrideSuffix  string `yaml:"override_suffix" json:"override_suffix,omitempty" validate:"required,excludes=/"`
	// OverrideDir holds per-executable overrides instead of the image's own
	// directory. When set, overrides also apply to images off verified storage.
	OverrideDir     string `yaml:"override_dir" json:"override_dir,omitempty"`
	InspectorModule string `yaml:"inspector_module" json:"inspector_module,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn warning error" jsonschema:"enum=debug,enum=info,enum=warn,enum=warning,enum=error"`
}

// Default returns the configuration used when no document is given.
func Default() *Config {
	notify := true
	return &Config{
		NotifyOnTransitionDenied: &notify,
		BundlePath:               DefaultBundlePath,
		OverrideSuffix:           DefaultOverrideSuffix,
		LogLevel:                 DefaultLogLevel,
	}
}

// NotifyOnDenial reports whether transition denials raise a violation
// notification.
func (c *Config) NotifyOnDenial() bool {
	return c.NotifyOnTransitionDenied == nil || *c.NotifyOnTransitionDenied
}

var (
	validateOnce sync.Once
	validate     *validator.Validate

	schemaOnce sync.Once
	docSchema  *jsonschema.Schema
	schemaErr  error
)

// Validator returns the shared struct validator. Besides the built-in tags
// it knows "glob", which accepts valid doublestar patterns.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("glob", func(fl validator.FieldLevel) bool {
			return doublestar.ValidatePattern(fl.Field().String())
		})
	})
	return validate
}

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		docSchema, schemaErr = schema.Compile("procguard-config.json", &Config{})
	})
	return docSchema, schemaErr
}

// Load reads and validates the document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the document schema, decodes it over the
// defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &errors.ConfigError{Err: err}
	}
	if raw != nil {
		if err := checkSchema(raw); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stdErrors.Is(err, io.EOF) {
		return nil, &errors.ConfigError{Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkSchema(raw interface{}) error {
	sch, err := documentSchema()
	if err != nil {
		return &errors.ConfigError{Err: err}
	}

	// Round trip through JSON so the validator sees JSON-typed values.
	b, err := json.Marshal(raw)
	if err != nil {
		return &errors.ConfigError{Err: fmt.Errorf("document is not JSON compatible: %w", err)}
	}
	var obj interface{}
	if err := json.Unmarshal(b, &obj); err != nil {
		return &errors.ConfigError{Err: err}
	}

	if err := sch.Validate(obj); err != nil {
		var ve *jsonschema.ValidationError
		if stdErrors.As(err, &ve) {
			return &errors.ConfigError{Field: ve.InstanceLocation, Err: ve}
		}
		return &errors.ConfigError{Err: err}
	}
	return nil
}

// Validate checks struct constraints, reporting the first failing field.
func (c *Config) Validate() error {
	err := Validator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if stdErrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &errors.ConfigError{Field: fe.Namespace(), Err: fmt.Errorf("failed %q constraint", fe.Tag())}
	}
	return &errors.ConfigError{Err: err}
}
