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

	"go.uber.org/zap"

	"github.com/yourusername/yt-relay/api"
	"github.com/yourusername/yt-relay/api/handlers"
	"github.com/yourusername/yt-relay/internal/app"
	"github.com/yourusername/yt-relay/internal/domain"
	"github.com/yourusername/yt-relay/internal/infrastructure"
	"github.com/yourusername/yt-relay/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

var configPath = flag.String("config", "", "Path to config file (default: search ./configs, ~/.yt-relay, /etc/yt-relay)")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "yt-relay-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logsDir := config.Download.LogsDir()
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	general, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Per-category JSON files: job, connection, error
	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: logsDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize multi-logger: %w", err)
	}
	defer multiLog.Close()

	logs := logger.NewLoggerAdapter(general, multiLog)
	defer logs.Sync()
	log := logs.General()

	log.Info("Starting yt-relay server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("engine", config.Download.Engine),
		zap.Int("concurrent_limit", config.Download.ConcurrentLimit))

	engine, err := newEngine(config.Download, logs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := app.NewJobRegistry()
	broadcaster := app.NewBroadcaster(logs.Connection())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		broadcaster.Run(ctx)
	}()

	bridge := app.NewProgressBridge(registry, broadcaster, logs.Job())
	dispatcher := app.NewWorkerDispatcher(bridge, engine, config.Download, logs.Job())

	var archive domain.JobArchive
	if config.Archive.Enabled {
		sqliteArchive, err := infrastructure.NewSQLiteJobArchive(config.Archive.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open job archive: %w", err)
		}
		defer sqliteArchive.Close()
		archive = sqliteArchive
		app.ArchiveTerminalJobs(bridge, archive, logs.Error())
	}

	if config.Notification.Enabled {
		app.NotifyTerminalJobs(bridge, infrastructure.NewNotificationService(&config.Notification, log))
	}

	router := api.SetupRouter(api.Dependencies{
		Registry:    registry,
		Bridge:      bridge,
		Broadcaster: broadcaster,
		Dispatcher:  dispatcher,
		Archive:     archive,
		Broadcast:   config.Broadcast,
		Logs:        logs,
		LogsDir:     logsDir,
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serveErr:
		log.Error("HTTP server failed", zap.Error(err))
		return err
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Observer connections are hijacked, so Shutdown does not wait for them;
	// stopping the loop closes them.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// In-flight downloads are abandoned; their engine processes are cancelled
	dispatcher.Stop()
	cancel()
	<-loopDone

	log.Info("Server exited")
	return nil
}

// newEngine picks the download engine named in the config
func newEngine(config domain.DownloadConfig, logs *logger.LoggerAdapter) (domain.Engine, error) {
	switch config.Engine {
	case domain.EngineExec, "":
		return infrastructure.NewYTDLPExecEngine(config, config.LogsDir(), logs.Job()), nil
	case domain.EngineLibrary:
		return infrastructure.NewYTDLPLibraryEngine(config, logs.Job()), nil
	default:
		return nil, fmt.Errorf("unknown download engine: %s", config.Engine)
	}
}
