package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempYAML(t, "toolforge_api_url: https://toolforge.example.org\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, StorageMock, cfg.StorageType)
	assert.Equal(t, RuntimeToolforge, cfg.RuntimeType)
	assert.Equal(t, 365*24*time.Hour, cfg.TokenLifetime)
	assert.Equal(t, 25, cfg.MaxDeploymentsRetained)
	assert.Equal(t, 1800, cfg.BuildTimeoutSeconds)
	assert.Equal(t, 1, cfg.MaxActiveDeployments)
	assert.Equal(t, time.Hour, cfg.DeploymentTimeout)
	assert.Equal(t, 1800*time.Second, cfg.BuildTimeout())
}

func TestLoad_OverridesFromFile(t *testing.T) {
	path := writeTempYAML(t, `
toolforge_api_url: https://toolforge.example.org
storage_type: kubernetes
namespace: tool-mytool
max_active_deployments: 3
build_timeout_seconds: 600
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StorageKubernetes, cfg.StorageType)
	assert.Equal(t, "tool-mytool", cfg.Namespace)
	assert.Equal(t, 3, cfg.MaxActiveDeployments)
	assert.Equal(t, 600, cfg.BuildTimeoutSeconds)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	path := writeTempYAML(t, "toolforge_api_url: https://toolforge.example.org\n")
	t.Setenv("TOOLFORGE_DEPLOYCTL_MAX_ACTIVE_DEPLOYMENTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxActiveDeployments)
}

func TestLoad_MissingAPIURL(t *testing.T) {
	path := writeTempYAML(t, "log_level: debug\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_KubernetesStorageRequiresNamespace(t *testing.T) {
	path := writeTempYAML(t, `
toolforge_api_url: https://toolforge.example.org
storage_type: kubernetes
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidStorageType(t *testing.T) {
	path := writeTempYAML(t, `
toolforge_api_url: https://toolforge.example.org
storage_type: bogus
`)
	_, err := Load(path)
	require.Error(t, err)
}
