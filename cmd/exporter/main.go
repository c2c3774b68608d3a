package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/mirrorops/gitlab-exporter/internal/api"
	"github.com/mirrorops/gitlab-exporter/internal/config"
	"github.com/mirrorops/gitlab-exporter/internal/db"
	"github.com/mirrorops/gitlab-exporter/internal/export"
	"github.com/mirrorops/gitlab-exporter/internal/gitlab"
	"github.com/mirrorops/gitlab-exporter/internal/models"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatalf("Invalid log level %q: %v", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	instances, err := config.LoadInstances(cfg)
	if err != nil {
		logger.Fatalf("Failed to resolve instances: %v", err)
	}

	// Optional run-history store
	var store db.Store
	if cfg.DBConnectionString != "" {
		pgStore, err := db.NewPostgresStore(cfg.DBConnectionString)
		if err != nil {
			logger.Fatalf("Failed to initialize run-history store: %v", err)
		}
		if err := retry(3, 5*time.Second, pgStore.Migrate); err != nil {
			logger.Fatalf("Failed to run migrations after retries: %v", err)
		}
		store = pgStore
		defer store.Close()
	}

	// Optional live-status server
	registry := api.NewRegistry()
	var statusServer *http.Server
	if cfg.StatusAddr != "" {
		handler := api.NewHandler(registry, store, logger)
		statusServer = &http.Server{
			Addr:         cfg.StatusAddr,
			Handler:      api.SetupRouter(handler),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			logger.Infof("Status server listening on %s", cfg.StatusAddr)
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Status server failed: %v", err)
			}
		}()
	}

	// An interrupt stops issuing new requests; partial downloads stay on
	// disk for the next run to resume.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, instance := range instances {
		if ctx.Err() != nil {
			logger.Warn("Interrupted, skipping remaining instances")
			break
		}
		runInstance(ctx, cfg, instance, registry, store, logger)
	}

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Status server shutdown failed: %v", err)
		}
	}
	logger.Info("All exports finished")
}

// runInstance exports one instance. Failures, including panics, are
// contained here so the remaining instances still get processed and
// already-written output is never disturbed.
func runInstance(ctx context.Context, cfg *config.Config, instance *models.Instance, registry *api.Registry, store db.Store, logger *logrus.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("instance", instance.Name).Errorf("Export run panicked: %v", r)
			registry.SetState(instance.Name, api.RunStateFailed)
		}
	}()

	client := gitlab.NewClient(instance.URL, instance.Token, logger,
		gitlab.WithRetryPolicy(gitlab.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BackoffBase,
		}),
	)

	exporter, err := export.New(instance, client, export.Options{
		ExportDir:              cfg.ExportDir,
		MaxConcurrentDownloads: cfg.MaxConcurrentDownloads,
		MaxConcurrentAPICalls:  cfg.MaxConcurrentAPICalls,
		PollInterval:           cfg.PollInterval,
		PollAttempts:           cfg.PollAttempts,
		IncludeArchived:        cfg.IncludeArchived,
		ExportWikis:            cfg.ExportWikis,
		ExportSnippets:         cfg.ExportSnippets,
		ExportMetadata:         cfg.ExportMetadata,
		LogLevel:               logger.GetLevel(),
	})
	if err != nil {
		logger.WithError(err).WithField("instance", instance.Name).Error("Failed to set up export run")
		return
	}

	registry.Register(instance.Name, exporter.RunID(), exporter.RunDir(), exporter.StatsSnapshot)

	report, err := exporter.Run(ctx)
	if err != nil {
		logger.WithError(err).WithField("instance", instance.Name).Error("Export run failed")
		registry.SetState(instance.Name, api.RunStateFailed)
		return
	}
	registry.SetState(instance.Name, api.RunStateCompleted)

	if store != nil {
		if err := store.SaveReport(context.Background(), report); err != nil {
			logger.WithError(err).WithField("instance", instance.Name).Error("Failed to persist export report")
		}
	}
}

// retry retries a function up to a certain number of attempts with a delay between attempts
func retry(attempts int, sleep time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		if attempts--; attempts > 0 {
			time.Sleep(sleep)
			return retry(attempts, sleep, fn)
		}
		return err
	}
	return nil
}
