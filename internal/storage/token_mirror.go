package storage

import (
	"context"
	"sync"

	"github.com/toolforge/deployctl/internal/model"
)

// TokenEnvMirror mirrors a tool's DeployToken into an environment-variable
// store reachable by the tool's own workloads, so jobs can authenticate
// back to their own deploy endpoint (spec.md §4.2 "Token lifecycle"). Both
// backends call whichever TokenEnvMirror they are given. The only
// implementation is the plain-map MemoryTokenEnvMirror below, which
// cmd/deployctl wires for both backends; no mirror writes the token to an
// envvars API or to the cluster.
type TokenEnvMirror interface {
	Mirror(ctx context.Context, tool string, token model.DeployToken) error
	Unmirror(ctx context.Context, tool string) error
}

// MemoryTokenEnvMirror is an in-process TokenEnvMirror for the memory
// backend and for tests.
type MemoryTokenEnvMirror struct {
	mu   sync.RWMutex
	vars map[string]string
}

// NewMemoryTokenEnvMirror constructs an empty mirror.
func NewMemoryTokenEnvMirror() *MemoryTokenEnvMirror {
	return &MemoryTokenEnvMirror{vars: make(map[string]string)}
}

func (m *MemoryTokenEnvMirror) Mirror(_ context.Context, tool string, token model.DeployToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[envKey(tool)] = token.Token
	return nil
}

func (m *MemoryTokenEnvMirror) Unmirror(_ context.Context, tool string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vars, envKey(tool))
	return nil
}

// Lookup returns the mirrored token value for a tool, for test assertions.
func (m *MemoryTokenEnvMirror) Lookup(tool string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vars[envKey(tool)]
	return v, ok
}

func envKey(tool string) string {
	return "TOOLFORGE_DEPLOY_TOKEN_" + tool
}
