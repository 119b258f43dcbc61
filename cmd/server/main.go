package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/api"
	"github.com/yourusername/media-fetch-go/api/handlers"
	"github.com/yourusername/media-fetch-go/internal/app"
	"github.com/yourusername/media-fetch-go/internal/domain"
	"github.com/yourusername/media-fetch-go/internal/infrastructure"
	"github.com/yourusername/media-fetch-go/pkg/logger"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	daemonize  = flag.Bool("daemon", false, "Detach and run the server in the background")
)

func main() {
	flag.Parse()

	if *daemonize {
		if err := startAsDaemon(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runServer() error {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := createDirectories(config); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Category files: jobs, error
	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Download.LogsDir(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize category logs: %w", err)
	}
	defer multiLog.Close()

	log.Info("Starting media-fetch server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("base_dir", config.Download.BaseDir),
		zap.Int("concurrency", config.Worker.EffectiveConcurrency()),
		zap.Int("max_concurrent_jobs", config.Worker.MaxConcurrentJobs))

	repo, err := infrastructure.NewSQLiteJobRepository(config.Persistence.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	supervisor := infrastructure.NewProcessSupervisor(config.Worker.TerminateGrace, log)
	app.RegisterLiveProcesses(registry, supervisor.TotalLive)

	jobMgr := app.NewJobManager(app.Deps{
		Repo:       repo,
		Metadata:   infrastructure.NewYTDLPMetadataProvider(&config.Download, &config.Metadata, log),
		Commands:   infrastructure.NewYTDLPCommandBuilder(&config.Download),
		History:    infrastructure.NewArchiveHistory(config.Download.ArchiveFilePath(), log),
		Supervisor: supervisor,
		Packager:   infrastructure.NewPackager(config.Download.JobsDir(), config.Download.ResultExtensions),
		Notifier:   infrastructure.NewNotificationService(&config.Notification, log),
		Metrics:    app.NewMetrics(registry),
		Config:     config,
		Logger:     log,
		Events:     multiLog,
	})
	if err := jobMgr.Init(); err != nil {
		// undecodable snapshots are skipped
		log.Warn("Some jobs could not be restored", zap.Error(err))
	}

	retention := app.NewRetentionScheduler(jobMgr, config.Retention, log)
	if err := retention.Start(); err != nil {
		return fmt.Errorf("failed to start retention sweep: %w", err)
	}

	router := api.SetupRouter(jobMgr, log, multiLog, config.Download.LogsDir(), registry)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	retention.Stop()

	if err := jobMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Job manager did not stop cleanly", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}

func createDirectories(config *domain.Config) error {
	dirs := []string{
		config.Download.BaseDir,
		config.Download.JobsDir(),
		config.Download.OutputDir(),
		config.Download.LogsDir(),
		config.Download.ConfigDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
