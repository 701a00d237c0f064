package model

import (
	"encoding/json"
	"fmt"
)

// ComponentType discriminates the ComponentInfo sealed union. Future kinds
// are reserved; unknown values reject at validation (spec.md §4.1 point 2).
type ComponentType string

const (
	ComponentTypeContinuous ComponentType = "continuous"
	ComponentTypeScheduled  ComponentType = "scheduled"
)

// ComponentInfo is the sealed union over a tool's declared workload kinds.
// Each variant owns its build strategy and a kind-specific run spec, and
// validates itself (§9 "re-express as sealed tagged unions with exhaustive
// matching").
type ComponentInfo interface {
	ComponentType() ComponentType
	GetBuild() BuildInfo
	Validate(componentName string) []ValidationError
}

// HealthCheckHTTP probes a continuous component over HTTP.
type HealthCheckHTTP struct {
	Path string `json:"path" yaml:"path" validate:"required"`
	Port int    `json:"port" yaml:"port" validate:"required,gt=0"`
}

// HealthCheckScript probes a continuous component by running a script
// inside the workload.
type HealthCheckScript struct {
	Command string `json:"command" yaml:"command" validate:"required"`
}

// ResourceRequests mirrors the jobs API's resource request shape.
type ResourceRequests struct {
	CPU    string `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory string `json:"memory,omitempty" yaml:"memory,omitempty"`
}

// ContinuousRunSpec is the run-phase parameters for a continuously-running
// workload (spec.md §6, downstream jobs API upsert fields).
type ContinuousRunSpec struct {
	Command           string             `json:"command" yaml:"command" validate:"required"`
	Ports             []int              `json:"ports,omitempty" yaml:"ports,omitempty"`
	Replicas          int                `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	ResourceRequests  ResourceRequests   `json:"resource_requests,omitempty" yaml:"resource_requests,omitempty"`
	LogPaths          []string           `json:"log_paths,omitempty" yaml:"log_paths,omitempty"`
	HealthCheckHTTP   *HealthCheckHTTP   `json:"health_check_http,omitempty" yaml:"health_check_http,omitempty"`
	HealthCheckScript *HealthCheckScript `json:"health_check_script,omitempty" yaml:"health_check_script,omitempty"`
}

// ContinuousComponentInfo is a component that runs as a long-lived workload.
type ContinuousComponentInfo struct {
	Build BuildInfo          `json:"-" yaml:"-"`
	Run   ContinuousRunSpec  `json:"run" yaml:"run" validate:"required"`
}

func (ContinuousComponentInfo) ComponentType() ComponentType { return ComponentTypeContinuous }
func (c ContinuousComponentInfo) GetBuild() BuildInfo         { return c.Build }

// Validate enforces spec.md §4.1 point 3: exactly one of health_check_http,
// health_check_script may be set.
func (c ContinuousComponentInfo) Validate(name string) []ValidationError {
	var errs []ValidationError
	if c.Run.HealthCheckHTTP != nil && c.Run.HealthCheckScript != nil {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("components.%s.run", name),
			Message: "exactly one of health_check_http, health_check_script may be set",
		})
	}
	if c.Run.Command == "" {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("components.%s.run.command", name),
			Message: "command is required",
		})
	}
	return errs
}

// ScheduledRunSpec is the run-phase parameters for a cron-triggered
// workload.
type ScheduledRunSpec struct {
	Command          string           `json:"command" yaml:"command" validate:"required"`
	Schedule         string           `json:"schedule" yaml:"schedule" validate:"required"`
	TimeoutSeconds   int              `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Retry            int              `json:"retry,omitempty" yaml:"retry,omitempty"`
	ResourceRequests ResourceRequests `json:"resource_requests,omitempty" yaml:"resource_requests,omitempty"`
}

// ScheduledComponentInfo is a component that runs on a cron-like schedule.
type ScheduledComponentInfo struct {
	Build BuildInfo        `json:"-" yaml:"-"`
	Run   ScheduledRunSpec `json:"run" yaml:"run" validate:"required"`
}

func (ScheduledComponentInfo) ComponentType() ComponentType { return ComponentTypeScheduled }
func (c ScheduledComponentInfo) GetBuild() BuildInfo         { return c.Build }

func (c ScheduledComponentInfo) Validate(name string) []ValidationError {
	var errs []ValidationError
	if c.Run.Schedule == "" {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("components.%s.run.schedule", name),
			Message: "schedule is required for a scheduled component",
		})
	}
	if c.Run.Command == "" {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("components.%s.run.command", name),
			Message: "command is required",
		})
	}
	return errs
}

// componentInfoEnvelope is the wire shape shared by both ComponentInfo
// variants: a component_type discriminator, the build union (re-marshalled
// through its own envelope), and the variant's run spec as a raw message.
type componentInfoEnvelope struct {
	ComponentType ComponentType   `json:"component_type" yaml:"component_type"`
	Build         json.RawMessage `json:"build" yaml:"build"`
	Run           json.RawMessage `json:"run" yaml:"run"`
}

// MarshalComponentInfo renders a ComponentInfo into its discriminated wire
// shape.
func MarshalComponentInfo(c ComponentInfo) ([]byte, error) {
	buildBytes, err := MarshalBuildInfo(c.GetBuild())
	if err != nil {
		return nil, err
	}
	var runBytes []byte
	switch v := c.(type) {
	case ContinuousComponentInfo:
		runBytes, err = json.Marshal(v.Run)
	case ScheduledComponentInfo:
		runBytes, err = json.Marshal(v.Run)
	default:
		return nil, fmt.Errorf("model: unsupported ComponentInfo type %T", c)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(componentInfoEnvelope{
		ComponentType: c.ComponentType(),
		Build:         buildBytes,
		Run:           runBytes,
	})
}

// UnmarshalComponentInfo parses a discriminated wire payload into the
// concrete ComponentInfo variant named by component_type. Unknown
// discriminators are rejected (future kinds are reserved per spec.md §3).
func UnmarshalComponentInfo(data []byte) (ComponentInfo, error) {
	var env componentInfoEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	build, err := UnmarshalBuildInfo(env.Build)
	if err != nil {
		return nil, err
	}
	switch env.ComponentType {
	case ComponentTypeContinuous:
		var run ContinuousRunSpec
		if err := json.Unmarshal(env.Run, &run); err != nil {
			return nil, err
		}
		return ContinuousComponentInfo{Build: build, Run: run}, nil
	case ComponentTypeScheduled:
		var run ScheduledRunSpec
		if err := json.Unmarshal(env.Run, &run); err != nil {
			return nil, err
		}
		return ScheduledComponentInfo{Build: build, Run: run}, nil
	default:
		return nil, fmt.Errorf("model: unknown component_type %q", env.ComponentType)
	}
}
