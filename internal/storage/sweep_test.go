package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge/deployctl/internal/model"
)

func TestSweepTimeouts(t *testing.T) {
	now := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	settings := Settings{DeploymentTimeout: time.Hour}

	deployments := []model.Deployment{
		{DeployID: "stale", CreationTime: "20260101-000000", Status: model.StatusRunning},
		{DeployID: "fresh", CreationTime: "20260101-025900", Status: model.StatusRunning},
		{DeployID: "done", CreationTime: "20260101-000000", Status: model.StatusSuccessful},
	}

	swept := SweepTimeouts(now, deployments, settings)
	require.Len(t, swept, 3)
	assert.Equal(t, model.StatusTimedOut, swept[0].Status)
	assert.Equal(t, model.StatusRunning, swept[1].Status)
	assert.Equal(t, model.StatusSuccessful, swept[2].Status)
}

func TestSelectRetentionDeletions_NeverEvictsActive(t *testing.T) {
	settings := Settings{MaxDeploymentsRetained: 1}
	deployments := []model.Deployment{
		{DeployID: "old-done", CreationTime: "20260101-000000", Status: model.StatusSuccessful},
		{DeployID: "newer-done", CreationTime: "20260101-010000", Status: model.StatusFailed},
		{DeployID: "active", CreationTime: "20250101-000000", Status: model.StatusRunning},
	}

	ids := SelectRetentionDeletions(deployments, settings)
	assert.Contains(t, ids, "old-done")
	assert.NotContains(t, ids, "active")
}
