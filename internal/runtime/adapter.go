// Package runtime abstracts the two downstream cluster APIs (a builds API
// producing container images, and a jobs API creating/updating workloads)
// behind the operations the deployment engine needs (spec.md §4.3).
package runtime

import (
	"context"
	"time"

	"github.com/toolforge/deployctl/internal/model"
)

// Adapter is the façade the engine and config generator depend on. A
// single concrete implementation, toolforge.Client, talks to the real
// downstream APIs; tests use an in-memory fake.
type Adapter interface {
	StartBuild(ctx context.Context, tool, component string, build model.SourceBuildInfo, force bool) (model.BuildProgress, error)
	GetBuildInfo(ctx context.Context, tool, buildID string) (model.BuildProgress, error)
	CancelBuild(ctx context.Context, tool, buildID string) error

	RunContinuousJob(ctx context.Context, tool, component string, spec model.ContinuousRunSpec, image string, forceRestart bool) (string, error)
	RunScheduledJob(ctx context.Context, tool, component string, spec model.ScheduledRunSpec, image string) (string, error)
	DeleteJobIfExists(ctx context.Context, tool, component string) (string, error)

	ListJobs(ctx context.Context, tool string) ([]JobRecord, error)
	ListBuilds(ctx context.Context, tool string) ([]BuildRecord, error)

	ResolveRef(ctx context.Context, repository, ref string) (string, error)
}

// BuildRecord is the runtime's view of one build, as read back from the
// builds API (used for StartBuild's reuse-detection and by the config
// generator, C7).
type BuildRecord struct {
	BuildID           string
	DestinationImage  string
	Repository        string
	ResolvedRef       string
	Ref               string
	UseLatestVersions bool
	StartTime         time.Time
	State             model.BuildState
}

// JobRecord is the runtime's view of one job, as read back from the jobs
// API (used by the config generator, C7, and by toolforge.Client's
// DeleteJobIfExists lookup).
type JobRecord struct {
	Name             string
	Image            string
	Command          string
	Schedule         string
	Replicas         int
	Ports            []int
	HealthCheckHTTP  *model.HealthCheckHTTP
	ResourceRequests model.ResourceRequests
}

// ImageName is the authoritative string construction for a freshly built
// component's image (spec.md §4.3, SPEC_FULL §4 Open Question 2: never
// parsed back out of a downstream response).
func ImageName(tool, component string) string {
	return "tool-" + tool + "/" + component + ":latest"
}
