package model

import (
	"encoding/json"
	"fmt"
)

// BuildType discriminates the BuildInfo sealed union.
type BuildType string

const (
	BuildTypeSource    BuildType = "source"
	BuildTypeReference BuildType = "reference"
)

// BuildInfo is the sealed union over a component's build strategy: either a
// concrete source repository, or a reference that reuses another
// component's build artifact.
type BuildInfo interface {
	BuildType() BuildType
}

// SourceBuildInfo builds an image from a source repository at a ref.
type SourceBuildInfo struct {
	Repository        string `json:"repository" yaml:"repository" mapstructure:"repository" validate:"required,url"`
	Ref               string `json:"ref" yaml:"ref" mapstructure:"ref" validate:"required"`
	UseLatestVersions bool   `json:"use_latest_versions" yaml:"use_latest_versions" mapstructure:"use_latest_versions"`
}

func (SourceBuildInfo) BuildType() BuildType { return BuildTypeSource }

// SourceBuildReference reuses the build artifact produced by another
// component in the same ToolConfig.
type SourceBuildReference struct {
	ReuseFrom string `json:"reuse_from" yaml:"reuse_from" mapstructure:"reuse_from" validate:"required"`
}

func (SourceBuildReference) BuildType() BuildType { return BuildTypeReference }

// buildInfoEnvelope is the wire shape of BuildInfo: a build_type
// discriminator plus the fields of whichever variant is present.
type buildInfoEnvelope struct {
	BuildType         BuildType `json:"build_type" yaml:"build_type"`
	Repository        string    `json:"repository,omitempty" yaml:"repository,omitempty"`
	Ref               string    `json:"ref,omitempty" yaml:"ref,omitempty"`
	UseLatestVersions bool      `json:"use_latest_versions,omitempty" yaml:"use_latest_versions,omitempty"`
	ReuseFrom         string    `json:"reuse_from,omitempty" yaml:"reuse_from,omitempty"`
}

// MarshalBuildInfo renders a BuildInfo into its discriminated wire shape.
func MarshalBuildInfo(b BuildInfo) ([]byte, error) {
	env, err := buildInfoToEnvelope(b)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func buildInfoToEnvelope(b BuildInfo) (buildInfoEnvelope, error) {
	switch v := b.(type) {
	case SourceBuildInfo:
		return buildInfoEnvelope{
			BuildType:         BuildTypeSource,
			Repository:        v.Repository,
			Ref:               v.Ref,
			UseLatestVersions: v.UseLatestVersions,
		}, nil
	case SourceBuildReference:
		return buildInfoEnvelope{
			BuildType: BuildTypeReference,
			ReuseFrom: v.ReuseFrom,
		}, nil
	default:
		return buildInfoEnvelope{}, fmt.Errorf("model: unsupported BuildInfo type %T", b)
	}
}

// UnmarshalBuildInfo parses a discriminated wire payload into the concrete
// BuildInfo variant named by build_type. Unknown discriminators are
// rejected (spec.md §4.1 point 2 generalized to build variants).
func UnmarshalBuildInfo(data []byte) (BuildInfo, error) {
	var env buildInfoEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.BuildType {
	case BuildTypeSource, "":
		return SourceBuildInfo{
			Repository:        env.Repository,
			Ref:               env.Ref,
			UseLatestVersions: env.UseLatestVersions,
		}, nil
	case BuildTypeReference:
		return SourceBuildReference{ReuseFrom: env.ReuseFrom}, nil
	default:
		return nil, fmt.Errorf("model: unknown build_type %q", env.BuildType)
	}
}
