package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/toolforge/deployctl/internal/admission"
	"github.com/toolforge/deployctl/internal/config"
	"github.com/toolforge/deployctl/internal/engine"
	"github.com/toolforge/deployctl/internal/handlers"
	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/runtime/toolforge"
	"github.com/toolforge/deployctl/internal/storage"
	"github.com/toolforge/deployctl/internal/storage/kubernetes"
	"github.com/toolforge/deployctl/internal/storage/memory"

	applogger "github.com/toolforge/deployctl/pkg/logger"
	appmetrics "github.com/toolforge/deployctl/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deployctl HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runServe(configPath)
	},
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := applogger.NewLogger(applogger.Config{
		Level:  cfg.LogLevel,
		Format: "json",
		Output: "stdout",
	})
	slog.SetDefault(logger)

	logger.Info("starting deployctl",
		"storage_type", cfg.StorageType,
		"runtime_type", cfg.RuntimeType,
		"namespace", cfg.Namespace,
	)

	// One process-wide registry backs every component's metrics. Nothing
	// exposes it over HTTP (spec.md's Non-goals exclude a /metrics route),
	// but registering for real — rather than passing nil, as tests do —
	// catches duplicate-registration mistakes at startup instead of silently
	// discarding metrics.
	registry := prometheus.NewRegistry()

	store, err := buildStore(cfg, registry)
	if err != nil {
		return fmt.Errorf("building storage backend: %w", err)
	}

	adapter, err := toolforge.New(toolforge.Config{
		APIURL:     cfg.ToolforgeAPIURL,
		VerifyCert: cfg.VerifyToolforgeAPICert,
		UserAgent:  cfg.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("building runtime adapter: %w", err)
	}

	engineMetrics := engine.NewMetrics(registry)
	eng := engine.New(store, adapter, engine.Settings{
		BuildTimeout: cfg.BuildTimeout(),
		PollInterval: 2 * time.Second,
	}, engineMetrics, logger)

	pool := engine.NewPool(cfg.WorkerPoolSize)
	defer pool.Close()

	quota := admission.NewQuotaChecker(store, cfg.MaxActiveDeployments)

	sourceFetcher, err := model.NewHTTPSourceFetcher(nil, 128)
	if err != nil {
		return fmt.Errorf("building source fetcher: %w", err)
	}

	router := handlers.NewRouter(handlers.Deps{
		Store:         store,
		Adapter:       adapter,
		Engine:        eng,
		Pool:          pool,
		Quota:         quota,
		SourceFetcher: sourceFetcher,
		TokenLifetime: cfg.TokenLifetime,
		Logger:        logger,
		HTTPMetrics:   appmetrics.NewHTTPMetrics(registry, "deployctl", "http"),
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("HTTP server starting", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// buildStore wires C2 per storage_type. Kubernetes wiring lives here
// rather than in internal/storage itself: the memory and kubernetes
// packages are sibling leaves, and a factory inside internal/storage would
// import both, forcing every caller of either to pull in client-go.
func buildStore(cfg *config.Config, registry *prometheus.Registry) (storage.Store, error) {
	settings := storage.Settings{
		DeploymentTimeout:      cfg.DeploymentTimeout,
		MaxDeploymentsRetained: cfg.MaxDeploymentsRetained,
	}
	metrics := storage.NewMetrics(registry)

	switch cfg.StorageType {
	case config.StorageKubernetes:
		restCfg, err := buildRESTConfig(cfg.KubeconfigPath)
		if err != nil {
			return nil, err
		}
		client, err := dynamic.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("building dynamic client: %w", err)
		}
		return kubernetes.New(client, settings, storage.NewMemoryTokenEnvMirror(), metrics), nil
	default:
		return memory.New(settings, storage.NewMemoryTokenEnvMirror(), metrics), nil
	}
}

func buildRESTConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	return rest.InClusterConfig()
}
