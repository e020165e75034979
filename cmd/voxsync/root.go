package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/voxsync/voxsync/internal/api"
	"github.com/voxsync/voxsync/internal/config"
	"github.com/voxsync/voxsync/internal/connectivity"
	"github.com/voxsync/voxsync/internal/engine"
	"github.com/voxsync/voxsync/internal/localstate"
	"github.com/voxsync/voxsync/internal/metrics"
	"github.com/voxsync/voxsync/internal/netmon"
	"github.com/voxsync/voxsync/internal/queue"
	"github.com/voxsync/voxsync/internal/remote"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "voxsync",
	Short: "VoxSync - offline-first sync daemon for the recording service",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(queueCmd)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(newLogHandler(cfg.Log))
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "level", cfg.Log.Level)

	store, err := queue.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("queue store initialized", "path", cfg.Database.Path)

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, time.Duration(cfg.Remote.Timeout))
	mirror := localstate.NewMirror()

	mgr := engine.NewManager(store, client, mirror,
		engine.WithMaxRetries(cfg.Sync.MaxRetries))

	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)

	prober := connectivity.NewProber(client, time.Duration(cfg.Connectivity.ProbeInterval))
	monitor := netmon.NewMonitor(mgr, prober, collector, netmon.Options{
		Interval:          time.Duration(cfg.Sync.Interval),
		Cooldown:          time.Duration(cfg.Sync.Cooldown),
		PostMutationDelay: time.Duration(cfg.Sync.PostMutationDelay),
	})

	handler := api.NewHandler(mgr, monitor, Version)
	router := api.NewRouter(handler, registry)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	startWorker(ctx, &wg, "connectivity-prober", prober.Run)
	startWorker(ctx, &wg, "network-monitor", monitor.Run)

	go func() {
		slog.Info("status server starting", "address", cfg.Server.Addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Any other error indicates an actual server failure
		// that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogHandler(cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
