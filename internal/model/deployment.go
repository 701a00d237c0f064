package model

// DeploymentStatus is the top-level state of a Deployment (spec.md §3).
type DeploymentStatus string

const (
	StatusPending    DeploymentStatus = "pending"
	StatusRunning    DeploymentStatus = "running"
	StatusSuccessful DeploymentStatus = "successful"
	StatusFailed     DeploymentStatus = "failed"
	StatusCancelling DeploymentStatus = "cancelling"
	StatusCancelled  DeploymentStatus = "cancelled"
	StatusTimedOut   DeploymentStatus = "timed_out"
)

// Terminal reports whether a DeploymentStatus admits no further engine
// writes (spec.md §8: "no engine task will subsequently persist a
// different status for that id").
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// BuildState is the per-component build outcome (spec.md §3).
type BuildState string

const (
	BuildPending    BuildState = "pending"
	BuildRunning    BuildState = "running"
	BuildSuccessful BuildState = "successful"
	BuildFailed     BuildState = "failed"
	BuildCancelled  BuildState = "cancelled"
	BuildSkipped    BuildState = "skipped"
	BuildUnknown    BuildState = "unknown"
)

// RunState is the per-component run outcome (spec.md §3).
type RunState string

const (
	RunPending    RunState = "pending"
	RunSuccessful RunState = "successful"
	RunFailed     RunState = "failed"
	RunSkipped    RunState = "skipped"
	RunUnknown    RunState = "unknown"
)

// BuildProgress tracks one component's build-phase outcome.
type BuildProgress struct {
	BuildID    string     `json:"build_id,omitempty"`
	State      BuildState `json:"state"`
	LongStatus string     `json:"long_status,omitempty"`
	Image      string     `json:"image,omitempty"`
}

// RunProgress tracks one component's run-phase outcome.
type RunProgress struct {
	State      RunState `json:"state"`
	LongStatus string   `json:"long_status,omitempty"`
}

// Deployment is one orchestration attempt against a ToolConfig snapshot
// (spec.md §3). DeployID, CreationTime and ToolConfig are immutable once
// created (spec.md §8).
type Deployment struct {
	DeployID     string                   `json:"deploy_id"`
	CreationTime string                   `json:"creation_time"`
	ToolConfig   ToolConfig               `json:"tool_config"`
	Builds       map[string]BuildProgress `json:"builds"`
	Runs         map[string]RunProgress   `json:"runs"`
	Status       DeploymentStatus         `json:"status"`
	LongStatus   string                   `json:"long_status,omitempty"`
	ForceBuild   bool                     `json:"force_build,omitempty"`
	ForceRun     bool                     `json:"force_run,omitempty"`
}

// Clone returns a deep-enough copy for storage backends that must hand out
// independent copies on read (spec.md §4.2, teacher's deep-copy-on-read
// idiom).
func (d Deployment) Clone() Deployment {
	out := d
	out.Builds = make(map[string]BuildProgress, len(d.Builds))
	for k, v := range d.Builds {
		out.Builds[k] = v
	}
	out.Runs = make(map[string]RunProgress, len(d.Runs))
	for k, v := range d.Runs {
		out.Runs[k] = v
	}
	out.ToolConfig.Components = make(map[string]ComponentInfo, len(d.ToolConfig.Components))
	for k, v := range d.ToolConfig.Components {
		out.ToolConfig.Components[k] = v
	}
	out.ToolConfig.ComponentOrder = append([]string(nil), d.ToolConfig.ComponentOrder...)
	return out
}
