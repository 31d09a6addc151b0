package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/reglet-dev/procguard/domain/entities"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/reglet-dev/procguard/domain/ports"
	"gopkg.in/yaml.v3"
)

// ProfileDocument is the YAML attribute file of a profile. Group lists
// name group numbers in [0, MaxGroups).
type ProfileDocument struct {
	Tag                 *uint32 `yaml:"tag,omitempty"`
	Permissive          bool    `yaml:"permissive,omitempty"`
	IsolationBoundary   bool    `yaml:"isolation_boundary,omitempty"`
	NoNewPrivileges     bool    `yaml:"no_new_privileges,omitempty"`
	JITAllowed          bool    `yaml:"jit_allowed,omitempty"`
	UnrestrictedLocal   bool    `yaml:"unrestricted_local,omitempty"`
	SameProcessLoopback bool    `yaml:"same_process_loopback,omitempty"`
	TransmitGroups      []int   `yaml:"transmit_groups,omitempty" validate:"max=5,unique,dive,min=0,max=4"`
	ReceiveGroups       []int   `yaml:"receive_groups,omitempty" validate:"max=5,unique,dive,min=0,max=4"`
}

// Flags converts the document into profile flags.
func (d *ProfileDocument) Flags() entities.Flags {
	mask := func(groups []int) entities.GroupMask {
		var m entities.GroupMask
		for _, g := range groups {
			m |= entities.GroupBit(g)
		}
		return m
	}
	return entities.Flags{
		Permissive:          d.Permissive,
		IsolationBoundary:   d.IsolationBoundary,
		NoNewPrivileges:     d.NoNewPrivileges,
		JITAllowed:          d.JITAllowed,
		UnrestrictedLocal:   d.UnrestrictedLocal,
		SameProcessLoopback: d.SameProcessLoopback,
		TransmitGroups:      mask(d.TransmitGroups),
		ReceiveGroups:       mask(d.ReceiveGroups),
	}
}

// YamlFlagsParser implements FlagsParser for YAML attribute files.
type YamlFlagsParser struct {
	validate *validator.Validate
}

var (
	_ ports.FlagsParser     = (*YamlFlagsParser)(nil)
	_ ports.AttributeParser = (*YamlFlagsParser)(nil)
)

// NewYamlFlagsParser creates a new YamlFlagsParser.
func NewYamlFlagsParser() *YamlFlagsParser {
	return &YamlFlagsParser{validate: validator.New()}
}

// Parse decodes and validates a profile document. Unknown keys are rejected.
func (p *YamlFlagsParser) Parse(data []byte) (*ProfileDocument, error) {
	var doc ProfileDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := p.validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("invalid profile attributes: %w", err)
	}
	return &doc, nil
}

// ParseFile reads the document at path. A missing file returns an error
// matching ErrPolicyNotFound; anything else malformed is a PolicyParseError.
func (p *YamlFlagsParser) ParseFile(path string) (*ProfileDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domainerrors.PolicyNotFoundError{Path: path}
		}
		return nil, &domainerrors.PolicyParseError{Path: path, Err: err}
	}
	doc, err := p.Parse(data)
	if err != nil {
		return nil, &domainerrors.PolicyParseError{Path: path, Err: err}
	}
	return doc, nil
}

// ParseCapabilityFlags implements ports.FlagsParser.
func (p *YamlFlagsParser) ParseCapabilityFlags(_ context.Context, path string) (entities.Flags, error) {
	doc, err := p.ParseFile(path)
	if err != nil {
		return entities.Flags{}, err
	}
	return doc.Flags(), nil
}

// ParseProfileAttributes implements ports.AttributeParser.
func (p *YamlFlagsParser) ParseProfileAttributes(_ context.Context, path string) (ports.ProfileAttributes, error) {
	doc, err := p.ParseFile(path)
	if err != nil {
		return ports.ProfileAttributes{}, err
	}
	attrs := ports.ProfileAttributes{Flags: doc.Flags()}
	if doc.Tag != nil {
		attrs.Tag = entities.Tag(*doc.Tag)
		attrs.HasTag = true
	}
	return attrs, nil
}
