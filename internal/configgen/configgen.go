// Package configgen implements C7: synthesizing a ToolConfig from the
// runtime's current jobs/builds state when a tool has none on file
// (spec.md §4.7).
package configgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/runtime"
)

// Generate reads ListJobs/ListBuilds from the runtime adapter and derives a
// best-effort ToolConfig. Jobs with no matching build produce a warning
// instead of a component; if nothing could be derived, a fixed example
// config is returned alongside a warning (spec.md §4.7).
func Generate(ctx context.Context, adapter runtime.Adapter, tool string) (*model.ToolConfig, []string, error) {
	jobs, err := adapter.ListJobs(ctx, tool)
	if err != nil {
		return nil, nil, fmt.Errorf("configgen: listing jobs: %w", err)
	}
	builds, err := adapter.ListBuilds(ctx, tool)
	if err != nil {
		return nil, nil, fmt.Errorf("configgen: listing builds: %w", err)
	}

	var warnings []string
	components := make(map[string]model.ComponentInfo)
	var order []string

	for _, job := range jobs {
		build, ok := matchingBuild(builds, job.Image)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: not a build-service based job, skipping", job.Name))
			continue
		}

		ref := build.Ref
		if ref == "" {
			ref = "HEAD"
		}
		buildInfo := model.SourceBuildInfo{
			Repository:        build.Repository,
			Ref:               ref,
			UseLatestVersions: build.UseLatestVersions,
		}

		comp := deriveComponent(job, buildInfo)
		components[job.Name] = comp
		order = append(order, job.Name)
	}

	if len(components) == 0 {
		warnings = append(warnings, "no components could be derived from runtime state; returning an example config")
		return exampleConfig(), warnings, nil
	}

	return &model.ToolConfig{
		ConfigVersion:  model.ConfigVersion,
		Components:     components,
		ComponentOrder: order,
	}, warnings, nil
}

func matchingBuild(builds []runtime.BuildRecord, image string) (runtime.BuildRecord, bool) {
	for _, b := range builds {
		if strings.HasSuffix(b.DestinationImage, image) {
			return b, true
		}
	}
	return runtime.BuildRecord{}, false
}

func deriveComponent(job runtime.JobRecord, build model.SourceBuildInfo) model.ComponentInfo {
	if job.Schedule != "" {
		return model.ScheduledComponentInfo{
			Build: build,
			Run: model.ScheduledRunSpec{
				Command:          job.Command,
				Schedule:         job.Schedule,
				ResourceRequests: job.ResourceRequests,
			},
		}
	}

	run := model.ContinuousRunSpec{
		Command:          job.Command,
		Ports:            job.Ports,
		Replicas:         job.Replicas,
		ResourceRequests: job.ResourceRequests,
	}
	if job.HealthCheckHTTP != nil {
		run.HealthCheckHTTP = job.HealthCheckHTTP
	}
	return model.ContinuousComponentInfo{Build: build, Run: run}
}

// exampleConfig is the fixed fallback config (spec.md §4.7).
func exampleConfig() *model.ToolConfig {
	return &model.ToolConfig{
		ConfigVersion: model.ConfigVersion,
		Components: map[string]model.ComponentInfo{
			"web": model.ContinuousComponentInfo{
				Build: model.SourceBuildInfo{
					Repository: "https://gitlab.wikimedia.org/toolforge-repos/example/example.git",
					Ref:        "HEAD",
				},
				Run: model.ContinuousRunSpec{
					Command:  "./app.sh",
					Ports:    []int{8000},
					Replicas: 1,
				},
			},
		},
		ComponentOrder: []string{"web"},
	}
}
