package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge/deployctl/internal/apperrors"
	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/storage"
)

func testConfig() model.ToolConfig {
	return model.ToolConfig{
		ConfigVersion: model.ConfigVersion,
		Components: map[string]model.ComponentInfo{
			"c1": model.ContinuousComponentInfo{
				Build: model.SourceBuildInfo{Repository: "https://gitlab.example/x.git", Ref: "main"},
				Run:   model.ContinuousRunSpec{Command: "run"},
			},
		},
		ComponentOrder: []string{"c1"},
	}
}

func TestStore_ToolConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(storage.DefaultSettings(), nil, nil)

	_, err := s.GetToolConfig(ctx, "mytool")
	var notFound *apperrors.NotFound
	require.ErrorAs(t, err, &notFound)

	cfg := testConfig()
	require.NoError(t, s.SetToolConfig(ctx, "mytool", cfg))

	got, err := s.GetToolConfig(ctx, "mytool")
	require.NoError(t, err)
	assert.Equal(t, cfg.ConfigVersion, got.ConfigVersion)
	assert.Len(t, got.Components, 1)

	deleted, err := s.DeleteToolConfig(ctx, "mytool")
	require.NoError(t, err)
	assert.Equal(t, cfg.ConfigVersion, deleted.ConfigVersion)

	_, err = s.GetToolConfig(ctx, "mytool")
	require.ErrorAs(t, err, &notFound)
}

func TestStore_CreateDeployment_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := New(storage.DefaultSettings(), nil, nil)

	d := model.Deployment{DeployID: "20260101-000000-abcdefghij", CreationTime: "20260101-000000", Status: model.StatusPending}
	require.NoError(t, s.CreateDeployment(ctx, "t1", d))

	err := s.CreateDeployment(ctx, "t1", d)
	var exists *apperrors.AlreadyExists
	require.ErrorAs(t, err, &exists)
}

func TestStore_UpdateDeployment_PreservesImmutableFields(t *testing.T) {
	ctx := context.Background()
	s := New(storage.DefaultSettings(), nil, nil)

	cfg := testConfig()
	d := model.Deployment{
		DeployID:     "20260101-000000-abcdefghij",
		CreationTime: "20260101-000000",
		ToolConfig:   cfg,
		Status:       model.StatusPending,
	}
	require.NoError(t, s.CreateDeployment(ctx, "t1", d))

	update := d
	update.Status = model.StatusRunning
	update.CreationTime = "19990101-000000"
	update.ToolConfig = model.ToolConfig{}
	require.NoError(t, s.UpdateDeployment(ctx, "t1", update))

	got, err := s.GetDeployment(ctx, "t1", d.DeployID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	assert.Equal(t, "20260101-000000", got.CreationTime)
	assert.Len(t, got.ToolConfig.Components, 1)
}

func TestStore_TimeoutSweep(t *testing.T) {
	ctx := context.Background()
	settings := storage.Settings{DeploymentTimeout: time.Hour, MaxDeploymentsRetained: 25}
	s := New(settings, nil, nil)
	s.now = func() time.Time {
		return time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	}

	d := model.Deployment{
		DeployID:     "20260101-000000-abcdefghij",
		CreationTime: "20260101-000000",
		Status:       model.StatusRunning,
	}
	require.NoError(t, s.CreateDeployment(ctx, "t1", d))

	got, err := s.GetDeployment(ctx, "t1", d.DeployID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimedOut, got.Status)

	update := got
	update.Status = model.StatusSuccessful
	err = s.UpdateDeployment(ctx, "t1", update)
	assert.ErrorIs(t, err, apperrors.ErrLostLeader)
}

func TestStore_DeployTokenLifecycleMirrorsEnv(t *testing.T) {
	ctx := context.Background()
	mirror := storage.NewMemoryTokenEnvMirror()
	s := New(storage.DefaultSettings(), mirror, nil)

	tok := model.DeployToken{Tool: "t1", Token: "abc-123", CreationDate: time.Now()}
	require.NoError(t, s.SetDeployToken(ctx, "t1", tok))

	v, ok := mirror.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, "abc-123", v)

	_, err := s.DeleteDeployToken(ctx, "t1")
	require.NoError(t, err)
	_, ok = mirror.Lookup("t1")
	assert.False(t, ok)
}
