package admission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/storage"
	"github.com/toolforge/deployctl/internal/storage/memory"
)

func TestQuotaChecker_CheckActive(t *testing.T) {
	ctx := context.Background()
	st := memory.New(storage.DefaultSettings(), nil, storage.NewMetrics(nil))
	tool := "mytool"

	checker := NewQuotaChecker(st, 1)
	require.NoError(t, checker.CheckActive(ctx, tool))

	require.NoError(t, st.CreateDeployment(ctx, tool, model.Deployment{
		DeployID:     "dep-1",
		CreationTime: "20260101-000000",
		Status:       model.StatusPending,
	}))

	err := checker.CheckActive(ctx, tool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at or above the limit of 1")
}

func TestQuotaChecker_IgnoresTerminalDeployments(t *testing.T) {
	ctx := context.Background()
	st := memory.New(storage.DefaultSettings(), nil, storage.NewMetrics(nil))
	tool := "mytool"

	require.NoError(t, st.CreateDeployment(ctx, tool, model.Deployment{
		DeployID:     "dep-1",
		CreationTime: "20260101-000000",
		Status:       model.StatusSuccessful,
	}))

	checker := NewQuotaChecker(st, 1)
	assert.NoError(t, checker.CheckActive(ctx, tool))
}
