// Chimerad is the task orchestration daemon.
//
// It accepts objectives over HTTP, plans them into dependency graphs, and
// drives executor skills over NATS under rate limits, budget accounting, and
// the safety gate.
//
// Usage:
//
//	# Start daemon with defaults
//	chimerad
//
//	# Start with a config file
//	chimerad -config /etc/chimerad/config.yaml
//
//	# Configure via environment
//	CHIMERAD_SERVER_PORT=9090 CHIMERAD_NATS_URL=nats://localhost:4222 chimerad
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/chimeralabs/chimerad/internal/cache"
	"github.com/chimeralabs/chimerad/internal/config"
	"github.com/chimeralabs/chimerad/internal/engine"
	"github.com/chimeralabs/chimerad/internal/executor"
	"github.com/chimeralabs/chimerad/internal/gate"
	httpserver "github.com/chimeralabs/chimerad/internal/http"
	"github.com/chimeralabs/chimerad/internal/logging"
	"github.com/chimeralabs/chimerad/internal/ratelimit"
	"github.com/chimeralabs/chimerad/internal/scheduler"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  chimerad           Start the orchestration daemon\n")
			fmt.Fprintf(os.Stderr, "  chimerad version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Daemon shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("chimerad by Chimera Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until context cancellation.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize logger
//  3. Connect to NATS (skill transport and review queue)
//  4. Build the executor registry from the configured kinds
//  5. Assemble cache, review store, gate publisher, and engine
//  6. Start the review expiry sweeper and HTTP server
//  7. Perform graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting chimerad",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Int("pool_size", cfg.Scheduler.PoolSize),
		zap.Strings("kinds", kindNames(cfg)))

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer nc.Close()

	logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))

	// Every configured kind gets a NATS-backed skill executor.
	registry := executor.NewRegistry()
	for _, kind := range cfg.RegisteredKinds() {
		registry.Register(kind, executor.NewNATSExecutor(nc, kind))
	}

	reviews := gate.NewReviews(cfg.Gate.ReviewExpiry.Duration())
	resultCache := cache.New(
		cache.NewMemoryStore(cfg.Cache.MaxEntries),
		logger.Underlying().Named("cache"),
		cache.NewMetrics(),
	)

	eng := engine.New(engine.Options{
		Config:           cfg,
		Registry:         registry,
		Cache:            resultCache,
		Reviews:          reviews,
		Publisher:        gate.NewNATSPublisher(nc, cfg.NATS.Subject),
		Logger:           logger,
		SchedulerMetrics: scheduler.NewMetrics(),
		GateMetrics:      gate.NewMetrics(),
		LimiterMetrics:   ratelimit.NewMetrics(),
	})

	sweeper := gate.NewSweeper(reviews, cfg.Gate.SweepInterval.Duration(),
		logger.Named("sweeper"), gate.NewMetrics())
	go sweeper.Run(ctx)

	srv, err := httpserver.NewServer(eng, logger.Underlying().Named("http"), &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "engine shutdown failed", zap.Error(err))
	}
	return nil
}

// initLogger initializes the structured logger from config.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if err := logCfg.Level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	logCfg.Format = cfg.Logging.Format
	return logging.NewLogger(logCfg)
}

// kindNames returns the configured kind names for startup logging.
func kindNames(cfg *config.Config) []string {
	kinds := cfg.RegisteredKinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return names
}
