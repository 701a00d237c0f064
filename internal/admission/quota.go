package admission

import (
	"context"
	"fmt"

	"github.com/toolforge/deployctl/internal/apperrors"
	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/storage"
)

// QuotaChecker enforces spec.md §4.5 "Active-deployment admission":
// before creating a deployment, the tool's count of pending or running
// deployments must be below max_active_deployments.
type QuotaChecker struct {
	store               storage.Store
	maxActiveDeployments int
}

// NewQuotaChecker builds a QuotaChecker bound to a single
// max_active_deployments limit (SPEC_FULL §4 Open Question 1: one setting
// name, not the source's two synonyms).
func NewQuotaChecker(store storage.Store, maxActiveDeployments int) *QuotaChecker {
	return &QuotaChecker{store: store, maxActiveDeployments: maxActiveDeployments}
}

// CheckActive counts the tool's pending|running deployments and rejects
// with an AdmissionError (409) if at or over the limit. Invoked only from
// the deployment-create handler.
func (q *QuotaChecker) CheckActive(ctx context.Context, tool string) error {
	deployments, err := q.store.ListDeployments(ctx, tool)
	if err != nil {
		return err
	}

	active := 0
	for _, d := range deployments {
		if d.Status == model.StatusPending || d.Status == model.StatusRunning {
			active++
		}
	}

	if active >= q.maxActiveDeployments {
		return &apperrors.AdmissionError{
			Reason: fmt.Sprintf("tool %q has %d active deployment(s), at or above the limit of %d", tool, active, q.maxActiveDeployments),
		}
	}
	return nil
}
