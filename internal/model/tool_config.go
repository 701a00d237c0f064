package model

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ConfigVersion is the single accepted ToolConfig schema version (spec.md
// §3).
const ConfigVersion = "v1beta1"

var componentNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]{0,51}[a-z0-9])?$`)

// ValidationError is one recognized-schema or cross-field validation
// failure. All of a ToolConfig's validation errors are reported together
// (spec.md §4.1 point 4: "reject with the specific list of offending
// component names").
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ToolConfig is the per-tool authoritative descriptor (spec.md §3).
// componentOrder preserves declaration order since Go maps do not (§3 of
// SPEC_FULL's supplemented-features section, recovering the §8 round-trip
// property for Builds/Runs iteration).
type ToolConfig struct {
	ConfigVersion  string                   `json:"config_version" yaml:"config_version"`
	Components     map[string]ComponentInfo `json:"components" yaml:"components"`
	ComponentOrder []string                 `json:"-" yaml:"-"`
	SourceURL      string                   `json:"source_url,omitempty" yaml:"source_url,omitempty"`
}

// toolConfigEnvelope is the JSON wire shape: components is an ordered list
// of named, discriminated entries so declaration order survives encoding.
type toolConfigEnvelope struct {
	ConfigVersion string                     `json:"config_version"`
	Components    []namedComponentEnvelope   `json:"components"`
	SourceURL     string                     `json:"source_url,omitempty"`
}

type namedComponentEnvelope struct {
	Name string          `json:"name"`
	Info json.RawMessage `json:"info"`
}

// MarshalJSON implements json.Marshaler, preserving component declaration
// order.
func (t ToolConfig) MarshalJSON() ([]byte, error) {
	env := toolConfigEnvelope{
		ConfigVersion: t.ConfigVersion,
		SourceURL:     t.SourceURL,
	}
	for _, name := range t.ComponentOrder {
		info, ok := t.Components[name]
		if !ok {
			continue
		}
		raw, err := MarshalComponentInfo(info)
		if err != nil {
			return nil, err
		}
		env.Components = append(env.Components, namedComponentEnvelope{Name: name, Info: raw})
	}
	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler, populating ComponentOrder from
// the encoded sequence.
func (t *ToolConfig) UnmarshalJSON(data []byte) error {
	var env toolConfigEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	t.ConfigVersion = env.ConfigVersion
	t.SourceURL = env.SourceURL
	t.Components = make(map[string]ComponentInfo, len(env.Components))
	t.ComponentOrder = make([]string, 0, len(env.Components))
	for _, nc := range env.Components {
		info, err := UnmarshalComponentInfo(nc.Info)
		if err != nil {
			return fmt.Errorf("components.%s: %w", nc.Name, err)
		}
		t.Components[nc.Name] = info
		t.ComponentOrder = append(t.ComponentOrder, nc.Name)
	}
	return nil
}

// Validate enforces spec.md §4.1 points 1, 2, 4: non-empty components,
// known discriminators (handled during decode), component-name shape, and
// the reuse_from reference graph (no chains, target must exist and be a
// SourceBuildInfo).
func (t ToolConfig) Validate() []ValidationError {
	var errs []ValidationError

	if t.ConfigVersion != ConfigVersion {
		errs = append(errs, ValidationError{
			Field:   "config_version",
			Message: fmt.Sprintf("unsupported config_version %q, only %q is accepted", t.ConfigVersion, ConfigVersion),
		})
	}

	if len(t.Components) == 0 {
		errs = append(errs, ValidationError{Field: "components", Message: "components must not be empty"})
		return errs
	}

	for name, info := range t.Components {
		if !componentNamePattern.MatchString(name) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("components.%s", name),
				Message: "component name must be a DNS-label subset (lowercase alphanumeric and hyphens, <=53 chars)",
			})
		}
		errs = append(errs, info.Validate(name)...)
	}

	errs = append(errs, t.validateReuseFromGraph()...)
	return errs
}

// validateReuseFromGraph enforces that every reuse_from names a sibling
// component whose own build is a SourceBuildInfo, never another reference
// (spec.md §3 invariant, §4.1 point 4).
func (t ToolConfig) validateReuseFromGraph() []ValidationError {
	var errs []ValidationError
	for name, info := range t.Components {
		ref, ok := info.GetBuild().(SourceBuildReference)
		if !ok {
			continue
		}
		target, exists := t.Components[ref.ReuseFrom]
		if !exists {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("components.%s.build.reuse_from", name),
				Message: fmt.Sprintf("reuse_from target %q does not exist", ref.ReuseFrom),
			})
			continue
		}
		if _, isSource := target.GetBuild().(SourceBuildInfo); !isSource {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("components.%s.build.reuse_from", name),
				Message: fmt.Sprintf("reuse_from target %q must itself have a source build, not a reference", ref.ReuseFrom),
			})
		}
	}
	return errs
}
