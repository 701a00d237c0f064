package configgen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/runtime"
)

type fakeAdapter struct {
	jobs   []runtime.JobRecord
	builds []runtime.BuildRecord
}

func (f fakeAdapter) StartBuild(context.Context, string, string, model.SourceBuildInfo, bool) (model.BuildProgress, error) {
	return model.BuildProgress{}, nil
}
func (f fakeAdapter) GetBuildInfo(context.Context, string, string) (model.BuildProgress, error) {
	return model.BuildProgress{}, nil
}
func (f fakeAdapter) CancelBuild(context.Context, string, string) error { return nil }
func (f fakeAdapter) RunContinuousJob(context.Context, string, string, model.ContinuousRunSpec, string, bool) (string, error) {
	return "", nil
}
func (f fakeAdapter) RunScheduledJob(context.Context, string, string, model.ScheduledRunSpec, string) (string, error) {
	return "", nil
}
func (f fakeAdapter) DeleteJobIfExists(context.Context, string, string) (string, error) { return "", nil }
func (f fakeAdapter) ListJobs(context.Context, string) ([]runtime.JobRecord, error)     { return f.jobs, nil }
func (f fakeAdapter) ListBuilds(context.Context, string) ([]runtime.BuildRecord, error) { return f.builds, nil }
func (f fakeAdapter) ResolveRef(context.Context, string, string) (string, error)        { return "", nil }

func TestGenerate_MatchesJobsToBuilds(t *testing.T) {
	adapter := fakeAdapter{
		jobs: []runtime.JobRecord{
			{Name: "web", Image: "tool-mytool/web:latest", Command: "./app.sh", Replicas: 2},
			{Name: "orphan", Image: "tool-mytool/orphan:latest", Command: "./x.sh"},
		},
		builds: []runtime.BuildRecord{
			{DestinationImage: "tool-mytool/web:latest", Repository: "https://example.org/web.git", Ref: "main"},
		},
	}

	cfg, warnings, err := Generate(context.Background(), adapter, "mytool")
	require.NoError(t, err)
	require.Contains(t, cfg.Components, "web")
	assert.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "orphan")

	web := cfg.Components["web"].(model.ContinuousComponentInfo)
	assert.Equal(t, "https://example.org/web.git", web.Build.(model.SourceBuildInfo).Repository)
	assert.Equal(t, "main", web.Build.(model.SourceBuildInfo).Ref)
}

func TestGenerate_FallsBackToExample(t *testing.T) {
	adapter := fakeAdapter{}
	cfg, warnings, err := Generate(context.Background(), adapter, "mytool")
	require.NoError(t, err)
	assert.Contains(t, cfg.Components, "web")
	assert.Len(t, warnings, 1)
}
