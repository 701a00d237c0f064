// Package memory implements storage.Store entirely in process memory,
// ported from the teacher's internal/storage/memory/memory_storage.go
// deep-copy-on-read/write idiom, generalized from alert-fingerprint keying
// to the three document kinds this module persists (SPEC_FULL §2 C2).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/toolforge/deployctl/internal/apperrors"
	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/storage"
)

// Store is an in-memory storage.Store, suitable for the "mock" storage_type
// (spec.md §6) and for tests.
type Store struct {
	mu          sync.RWMutex
	settings    storage.Settings
	configs     map[string]model.ToolConfig
	deployments map[string]map[string]model.Deployment
	tokens      map[string]model.DeployToken
	tokenMirror storage.TokenEnvMirror
	metrics     *storage.Metrics
	now         func() time.Time
}

// New constructs an empty memory store.
func New(settings storage.Settings, mirror storage.TokenEnvMirror, metrics *storage.Metrics) *Store {
	if mirror == nil {
		mirror = storage.NewMemoryTokenEnvMirror()
	}
	return &Store{
		settings:    settings,
		configs:     make(map[string]model.ToolConfig),
		deployments: make(map[string]map[string]model.Deployment),
		tokens:      make(map[string]model.DeployToken),
		tokenMirror: mirror,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (s *Store) observe(operation string, start time.Time, err error) {
	s.metrics.Observe("memory", operation, start, err)
}

func (s *Store) GetToolConfig(_ context.Context, tool string) (model.ToolConfig, error) {
	start := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[tool]
	if !ok {
		err := &apperrors.NotFound{Kind: "ToolConfig", ID: tool}
		s.observe("GetToolConfig", start, err)
		return model.ToolConfig{}, err
	}
	s.observe("GetToolConfig", start, nil)
	return cloneToolConfig(cfg), nil
}

func (s *Store) SetToolConfig(_ context.Context, tool string, cfg model.ToolConfig) error {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[tool] = cloneToolConfig(cfg)
	s.observe("SetToolConfig", start, nil)
	return nil
}

func (s *Store) DeleteToolConfig(_ context.Context, tool string) (model.ToolConfig, error) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[tool]
	if !ok {
		err := &apperrors.NotFound{Kind: "ToolConfig", ID: tool}
		s.observe("DeleteToolConfig", start, err)
		return model.ToolConfig{}, err
	}
	delete(s.configs, tool)
	s.observe("DeleteToolConfig", start, nil)
	return cloneToolConfig(cfg), nil
}

func (s *Store) CreateDeployment(_ context.Context, tool string, d model.Deployment) error {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.deployments[tool]
	if byID == nil {
		byID = make(map[string]model.Deployment)
		s.deployments[tool] = byID
	}
	if _, exists := byID[d.DeployID]; exists {
		err := &apperrors.AlreadyExists{Kind: "Deployment", ID: d.DeployID}
		s.observe("CreateDeployment", start, err)
		return err
	}
	byID[d.DeployID] = d.Clone()
	s.applyRetentionLocked(tool)
	s.observe("CreateDeployment", start, nil)
	return nil
}

func (s *Store) GetDeployment(_ context.Context, tool, id string) (model.Deployment, error) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(tool)
	d, ok := s.deployments[tool][id]
	if !ok {
		err := &apperrors.NotFound{Kind: "Deployment", ID: id}
		s.observe("GetDeployment", start, err)
		return model.Deployment{}, err
	}
	s.observe("GetDeployment", start, nil)
	return d.Clone(), nil
}

func (s *Store) ListDeployments(_ context.Context, tool string) ([]model.Deployment, error) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(tool)
	out := make([]model.Deployment, 0, len(s.deployments[tool]))
	for _, d := range s.deployments[tool] {
		out = append(out, d.Clone())
	}
	s.observe("ListDeployments", start, nil)
	return out, nil
}

// UpdateDeployment upserts by deploy_id. If the sweep has already reaped
// this deployment to timed_out and the caller is not itself writing
// timed_out, the write is refused with ErrLostLeader rather than
// resurrecting the status (SPEC_FULL §4 Open Question 3: "sweep wins").
func (s *Store) UpdateDeployment(_ context.Context, tool string, d model.Deployment) error {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(tool)

	byID := s.deployments[tool]
	if byID == nil {
		byID = make(map[string]model.Deployment)
		s.deployments[tool] = byID
	}

	if existing, ok := byID[d.DeployID]; ok {
		if existing.Status == model.StatusTimedOut && d.Status != model.StatusTimedOut {
			s.observe("UpdateDeployment", start, apperrors.ErrLostLeader)
			return apperrors.ErrLostLeader
		}
		d.DeployID = existing.DeployID
		d.CreationTime = existing.CreationTime
		d.ToolConfig = existing.ToolConfig
	}

	byID[d.DeployID] = d.Clone()
	s.observe("UpdateDeployment", start, nil)
	return nil
}

func (s *Store) DeleteDeployment(_ context.Context, tool, id string) (model.Deployment, error) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[tool][id]
	if !ok {
		err := &apperrors.NotFound{Kind: "Deployment", ID: id}
		s.observe("DeleteDeployment", start, err)
		return model.Deployment{}, err
	}
	delete(s.deployments[tool], id)
	s.observe("DeleteDeployment", start, nil)
	return d.Clone(), nil
}

func (s *Store) GetDeployToken(_ context.Context, tool string) (model.DeployToken, error) {
	start := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[tool]
	if !ok {
		err := &apperrors.NotFound{Kind: "DeployToken", ID: tool}
		s.observe("GetDeployToken", start, err)
		return model.DeployToken{}, err
	}
	s.observe("GetDeployToken", start, nil)
	return tok, nil
}

func (s *Store) SetDeployToken(ctx context.Context, tool string, token model.DeployToken) error {
	start := s.now()
	s.mu.Lock()
	s.tokens[tool] = token
	s.mu.Unlock()
	err := s.tokenMirror.Mirror(ctx, tool, token)
	s.observe("SetDeployToken", start, err)
	return err
}

func (s *Store) DeleteDeployToken(ctx context.Context, tool string) (model.DeployToken, error) {
	start := s.now()
	s.mu.Lock()
	tok, ok := s.tokens[tool]
	if ok {
		delete(s.tokens, tool)
	}
	s.mu.Unlock()
	if !ok {
		err := &apperrors.NotFound{Kind: "DeployToken", ID: tool}
		s.observe("DeleteDeployToken", start, err)
		return model.DeployToken{}, err
	}
	err := s.tokenMirror.Unmirror(ctx, tool)
	s.observe("DeleteDeployToken", start, err)
	return tok, err
}

// sweepLocked must be called with s.mu held for writing.
func (s *Store) sweepLocked(tool string) {
	byID := s.deployments[tool]
	if len(byID) == 0 {
		return
	}
	list := make([]model.Deployment, 0, len(byID))
	for _, d := range byID {
		list = append(list, d)
	}
	swept := storage.SweepTimeouts(s.now(), list, s.settings)
	for _, d := range swept {
		byID[d.DeployID] = d
	}
}

// applyRetentionLocked must be called with s.mu held for writing.
func (s *Store) applyRetentionLocked(tool string) {
	byID := s.deployments[tool]
	list := make([]model.Deployment, 0, len(byID))
	for _, d := range byID {
		list = append(list, d)
	}
	for _, id := range storage.SelectRetentionDeletions(list, s.settings) {
		delete(byID, id)
	}
}

func cloneToolConfig(cfg model.ToolConfig) model.ToolConfig {
	out := cfg
	out.Components = make(map[string]model.ComponentInfo, len(cfg.Components))
	for k, v := range cfg.Components {
		out.Components[k] = v
	}
	out.ComponentOrder = append([]string(nil), cfg.ComponentOrder...)
	return out
}
