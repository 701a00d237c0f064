package storage

import (
	"sort"
	"time"

	"github.com/toolforge/deployctl/internal/model"
)

// deployTimeLayout mirrors the deploy_id/creation_time prefix format
// (spec.md §3: "YYYYMMDD-HHMMSS").
const deployTimeLayout = "20060102-150405"

// ParseCreationTime parses the YYYYMMDD-HHMMSS creation_time prefix shared
// by deploy_id and Deployment.CreationTime.
func ParseCreationTime(creationTime string) (time.Time, error) {
	if len(creationTime) < len(deployTimeLayout) {
		return time.Time{}, errInvalidCreationTime(creationTime)
	}
	return time.ParseInLocation(deployTimeLayout, creationTime[:len(deployTimeLayout)], time.UTC)
}

type invalidCreationTimeError struct{ value string }

func (e invalidCreationTimeError) Error() string {
	return "storage: invalid creation_time " + e.value
}

func errInvalidCreationTime(v string) error { return invalidCreationTimeError{value: v} }

// SweepTimeouts is the sole mechanism by which abandoned engines are reaped
// (spec.md §4.2 "Timeout sweep"). It rewrites, in place in the returned
// slice, any deployment whose status is non-terminal-but-active
// (pending/running/cancelling) and whose creation_time is older than
// settings.DeploymentTimeout, to timed_out with an explanatory long_status.
// It is shared by both backends so the sweep runs identically regardless of
// storage choice (SPEC_FULL §2 C2).
func SweepTimeouts(now time.Time, deployments []model.Deployment, settings Settings) []model.Deployment {
	out := make([]model.Deployment, len(deployments))
	for i, d := range deployments {
		out[i] = d
		if !isSweepable(d.Status) {
			continue
		}
		created, err := ParseCreationTime(d.CreationTime)
		if err != nil {
			continue
		}
		if now.Sub(created) < settings.DeploymentTimeout {
			continue
		}
		d.Status = model.StatusTimedOut
		d.LongStatus = "Deployment timed out after " + settings.DeploymentTimeout.String()
		out[i] = d
	}
	return out
}

func isSweepable(status model.DeploymentStatus) bool {
	switch status {
	case model.StatusPending, model.StatusRunning, model.StatusCancelling:
		return true
	default:
		return false
	}
}

// SelectRetentionDeletions returns the deploy_ids that must be deleted to
// keep a tool's deployment count at or below MaxDeploymentsRetained after a
// new deployment is created. Terminal deployments are evicted oldest-first;
// active (non-terminal) deployments are never evicted (spec.md §4.2
// "Retention").
func SelectRetentionDeletions(deployments []model.Deployment, settings Settings) []string {
	if settings.MaxDeploymentsRetained <= 0 || len(deployments) <= settings.MaxDeploymentsRetained {
		return nil
	}

	terminal := make([]model.Deployment, 0, len(deployments))
	for _, d := range deployments {
		if d.Status.Terminal() {
			terminal = append(terminal, d)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].CreationTime < terminal[j].CreationTime
	})

	overflow := len(deployments) - settings.MaxDeploymentsRetained
	if overflow > len(terminal) {
		overflow = len(terminal)
	}

	ids := make([]string, 0, overflow)
	for i := 0; i < overflow; i++ {
		ids = append(ids, terminal[i].DeployID)
	}
	return ids
}
