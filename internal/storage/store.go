// Package storage defines the persistence contract for ToolConfigs,
// Deployments and DeployTokens (spec.md §4.2), and the two backends that
// implement it.
package storage

import (
	"context"
	"time"

	"github.com/toolforge/deployctl/internal/model"
)

// Store is the contract shared by the in-memory and kubernetes backends
// (spec.md §4.2 table). Every operation is scoped to a tool namespace.
type Store interface {
	GetToolConfig(ctx context.Context, tool string) (model.ToolConfig, error)
	SetToolConfig(ctx context.Context, tool string, cfg model.ToolConfig) error
	DeleteToolConfig(ctx context.Context, tool string) (model.ToolConfig, error)

	CreateDeployment(ctx context.Context, tool string, d model.Deployment) error
	GetDeployment(ctx context.Context, tool, id string) (model.Deployment, error)
	ListDeployments(ctx context.Context, tool string) ([]model.Deployment, error)
	UpdateDeployment(ctx context.Context, tool string, d model.Deployment) error
	DeleteDeployment(ctx context.Context, tool, id string) (model.Deployment, error)

	GetDeployToken(ctx context.Context, tool string) (model.DeployToken, error)
	SetDeployToken(ctx context.Context, tool string, token model.DeployToken) error
	DeleteDeployToken(ctx context.Context, tool string) (model.DeployToken, error)
}

// Settings configures the timeout sweep and retention behavior shared by
// both backends (spec.md §4.2 "Timeout sweep"/"Retention").
type Settings struct {
	DeploymentTimeout      time.Duration
	MaxDeploymentsRetained int
}

// DefaultSettings matches spec.md §6's defaults.
func DefaultSettings() Settings {
	return Settings{
		DeploymentTimeout:      time.Hour,
		MaxDeploymentsRetained: 25,
	}
}
