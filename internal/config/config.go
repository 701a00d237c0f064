// Package config loads the settings spec.md §6 "Configuration
// (environment-driven)" names, the same viper-based way the teacher's
// internal/config/config.go does: defaults first, then config file,
// then environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageType selects the C2 storage backend.
type StorageType string

const (
	StorageMock       StorageType = "mock"
	StorageKubernetes StorageType = "kubernetes"
)

// RuntimeType selects the C3 runtime adapter.
type RuntimeType string

const (
	RuntimeToolforge RuntimeType = "toolforge"
)

// Config is the full set of settings recognized by spec.md §6, plus the
// CLI/server wiring fields (listen address, kubeconfig path, worker pool
// size) the source left to deployment tooling rather than the settings
// module.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	StorageType StorageType `mapstructure:"storage_type"`
	RuntimeType RuntimeType `mapstructure:"runtime_type"`

	ToolforgeAPIURL        string `mapstructure:"toolforge_api_url"`
	VerifyToolforgeAPICert bool   `mapstructure:"verify_toolforge_api_cert"`
	Namespace              string `mapstructure:"namespace"`
	UserAgent              string `mapstructure:"user_agent"`

	TokenLifetime          time.Duration `mapstructure:"token_lifetime"`
	MaxDeploymentsRetained int           `mapstructure:"max_deployments_retained"`
	BuildTimeoutSeconds    int           `mapstructure:"build_timeout_seconds"`
	MaxActiveDeployments   int           `mapstructure:"max_active_deployments"`
	DeploymentTimeout      time.Duration `mapstructure:"deployment_timeout"`

	ListenAddr     string `mapstructure:"listen_addr"`
	KubeconfigPath string `mapstructure:"kubeconfig_path"`
	WorkerPoolSize int    `mapstructure:"worker_pool_size"`
}

// BuildTimeout is BuildTimeoutSeconds as a time.Duration, the shape
// internal/engine.Settings wants it in.
func (c Config) BuildTimeout() time.Duration {
	return time.Duration(c.BuildTimeoutSeconds) * time.Second
}

// Load reads configuration from defaults, an optional config file, and
// environment variables (TOOLFORGE_DEPLOYCTL_ prefix, dots and dashes
// folded to underscores), in that order of increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("toolforge_deployctl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("storage_type", string(StorageMock))
	v.SetDefault("runtime_type", string(RuntimeToolforge))
	v.SetDefault("toolforge_api_url", "")
	v.SetDefault("verify_toolforge_api_cert", true)
	v.SetDefault("namespace", "")
	v.SetDefault("user_agent", "deployctl/1.0")

	v.SetDefault("token_lifetime", 365*24*time.Hour)
	v.SetDefault("max_deployments_retained", 25)
	v.SetDefault("build_timeout_seconds", 1800)
	v.SetDefault("max_active_deployments", 1)
	v.SetDefault("deployment_timeout", time.Hour)

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("kubeconfig_path", "")
	v.SetDefault("worker_pool_size", 8)
}

// Validate rejects settings combinations the rest of the module can't act on.
func (c *Config) Validate() error {
	switch c.StorageType {
	case StorageMock, StorageKubernetes:
	default:
		return fmt.Errorf("invalid storage_type: %q (must be %q or %q)", c.StorageType, StorageMock, StorageKubernetes)
	}

	if c.RuntimeType != RuntimeToolforge {
		return fmt.Errorf("invalid runtime_type: %q (must be %q)", c.RuntimeType, RuntimeToolforge)
	}

	if c.StorageType == StorageKubernetes && c.Namespace == "" {
		return fmt.Errorf("namespace is required when storage_type=kubernetes")
	}

	if c.ToolforgeAPIURL == "" {
		return fmt.Errorf("toolforge_api_url is required")
	}

	if c.MaxActiveDeployments <= 0 {
		return fmt.Errorf("max_active_deployments must be positive")
	}
	if c.MaxDeploymentsRetained <= 0 {
		return fmt.Errorf("max_deployments_retained must be positive")
	}
	if c.BuildTimeoutSeconds <= 0 {
		return fmt.Errorf("build_timeout_seconds must be positive")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker_pool_size must be positive")
	}

	return nil
}
