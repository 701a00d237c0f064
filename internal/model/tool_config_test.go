package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validToolConfig() ToolConfig {
	return ToolConfig{
		ConfigVersion: ConfigVersion,
		Components: map[string]ComponentInfo{
			"parent": ContinuousComponentInfo{
				Build: SourceBuildInfo{Repository: "https://gitlab.example/x.git", Ref: "main"},
				Run:   ContinuousRunSpec{Command: "run-parent"},
			},
			"child": ContinuousComponentInfo{
				Build: SourceBuildReference{ReuseFrom: "parent"},
				Run:   ContinuousRunSpec{Command: "run-child"},
			},
		},
		ComponentOrder: []string{"parent", "child"},
	}
}

func TestToolConfig_RoundTrip(t *testing.T) {
	cfg := validToolConfig()

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var decoded ToolConfig
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, cfg.ConfigVersion, decoded.ConfigVersion)
	assert.Equal(t, cfg.ComponentOrder, decoded.ComponentOrder)
	assert.Equal(t, cfg.Components["parent"], decoded.Components["parent"])
	assert.Equal(t, cfg.Components["child"], decoded.Components["child"])
}

func TestToolConfig_Validate_EmptyComponents(t *testing.T) {
	cfg := ToolConfig{ConfigVersion: ConfigVersion}
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "components", errs[0].Field)
}

func TestToolConfig_Validate_ReuseFromMissingTarget(t *testing.T) {
	cfg := ToolConfig{
		ConfigVersion: ConfigVersion,
		Components: map[string]ComponentInfo{
			"child": ContinuousComponentInfo{
				Build: SourceBuildReference{ReuseFrom: "ghost"},
				Run:   ContinuousRunSpec{Command: "x"},
			},
		},
	}
	errs := cfg.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "does not exist")
}

func TestToolConfig_Validate_ReuseFromChainRejected(t *testing.T) {
	cfg := ToolConfig{
		ConfigVersion: ConfigVersion,
		Components: map[string]ComponentInfo{
			"child": ContinuousComponentInfo{
				Build: SourceBuildReference{ReuseFrom: "grandparent"},
				Run:   ContinuousRunSpec{Command: "x"},
			},
			"grandparent": ContinuousComponentInfo{
				Build: SourceBuildReference{ReuseFrom: "parent"},
				Run:   ContinuousRunSpec{Command: "x"},
			},
			"parent": ContinuousComponentInfo{
				Build: SourceBuildInfo{Repository: "https://gitlab.example/x.git", Ref: "main"},
				Run:   ContinuousRunSpec{Command: "x"},
			},
		},
	}
	errs := cfg.Validate()
	require.NotEmpty(t, errs)
}

func TestToolConfig_Validate_UnsupportedConfigVersion(t *testing.T) {
	cfg := validToolConfig()
	cfg.ConfigVersion = "v2"
	errs := cfg.Validate()
	require.NotEmpty(t, errs)
	assert.Equal(t, "config_version", errs[0].Field)
}

func TestDecodeToolConfigYAML_UnknownFieldsAreWarnings(t *testing.T) {
	yamlDoc := []byte(`
config_version: v1beta1
extra_top_level: nope
components:
  c1:
    component_type: continuous
    extra_field: surprise
    build:
      build_type: source
      repository: https://gitlab.example/x.git
      ref: main
    run:
      command: some command
`)
	cfg, warnings, err := DecodeToolConfigYAML(yamlDoc)
	require.NoError(t, err)
	assert.Equal(t, ConfigVersion, cfg.ConfigVersion)
	assert.Contains(t, warnings, "extra_top_level")
	assert.Contains(t, warnings, "components.c1.extra_field")

	errs := ValidateToolConfig(cfg)
	assert.Empty(t, errs)
}

func TestComponentInfo_HealthCheckMutuallyExclusive(t *testing.T) {
	c := ContinuousComponentInfo{
		Build: SourceBuildInfo{Repository: "https://gitlab.example/x.git", Ref: "main"},
		Run: ContinuousRunSpec{
			Command:           "run",
			HealthCheckHTTP:   &HealthCheckHTTP{Path: "/healthz", Port: 8080},
			HealthCheckScript: &HealthCheckScript{Command: "check.sh"},
		},
	}
	errs := c.Validate("c1")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "exactly one of")
}
