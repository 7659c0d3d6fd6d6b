// retailstreams replays recorded retail sensor datasets over TCP and
// runs the real-time detection pipeline against them.
//
// Modes:
//
//	serve  - replay datasets to connected clients
//	detect - read a sensor stream and emit canonical events
//	all    - both in one process, wired back to back
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/c360/retailstreams/catalog"
	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/dedup"
	"github.com/c360/retailstreams/detect"
	"github.com/c360/retailstreams/errors"
	"github.com/c360/retailstreams/metric"
	"github.com/c360/retailstreams/pipeline"
	"github.com/c360/retailstreams/replay"
	"github.com/c360/retailstreams/sink"
	"github.com/c360/retailstreams/stream"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const appName = "retailstreams"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n", r)
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if err := validateFlags(cliCfg); err != nil {
		return err
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s %s (built %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg)

	cfg, err := loadConfig(cliCfg, logger)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := metric.NewRegistry()
	stopMetrics := startMetricsServer(cfg.Metrics.Listen, metrics, logger)
	defer stopMetrics()

	logger.Info("starting", "mode", cliCfg.Mode, "version", Version)

	switch cliCfg.Mode {
	case "serve":
		return runServe(ctx, cfg, metrics, cliCfg.ShutdownTimeout, logger)
	case "detect":
		return runDetect(ctx, cfg, metrics, logger)
	case "all":
		return runAll(ctx, cfg, metrics, cliCfg.ShutdownTimeout, logger)
	default:
		return fmt.Errorf("invalid mode: %s", cliCfg.Mode)
	}
}

// loadConfig layers explicit flags over the config file (or the
// built-in defaults when no file is given).
func loadConfig(cliCfg *CLIConfig, logger *slog.Logger) (config.Config, error) {
	var cfg config.Config
	var err error

	if cliCfg.ConfigPath != "" {
		cfg, err = config.Load(cliCfg.ConfigPath)
		if err != nil {
			return cfg, err
		}
		logger.Info("configuration loaded", "path", cliCfg.ConfigPath)
	} else {
		cfg = config.Default()
	}

	if cliCfg.set["listen"] {
		cfg.Replay.Listen = cliCfg.Listen
	}
	if cliCfg.set["speed"] {
		cfg.Replay.Speed = cliCfg.Speed
	}
	if cliCfg.set["loop"] {
		cfg.Replay.Loop = cliCfg.Loop
	}
	if cliCfg.set["limit"] {
		cfg.Reader.Limit = cliCfg.Limit
	}
	if cliCfg.set["metrics-listen"] {
		cfg.Metrics.Listen = cliCfg.MetricsListen
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func startMetricsServer(listen string, metrics *metric.Registry, logger *slog.Logger) func() {
	if listen == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: listen, Handler: mux}

	go func() {
		logger.Info("metrics endpoint listening", "addr", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

func runServe(ctx context.Context, cfg config.Config, metrics *metric.Registry, shutdownTimeout time.Duration, logger *slog.Logger) error {
	server, err := startReplayServer(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return server.Stop(shutdownTimeout)
}

func runDetect(ctx context.Context, cfg config.Config, metrics *metric.Registry, logger *slog.Logger) error {
	p, cleanup, err := buildPipeline(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	err = p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutdown signal received")
		return nil
	}
	return err
}

func runAll(ctx context.Context, cfg config.Config, metrics *metric.Registry, shutdownTimeout time.Duration, logger *slog.Logger) error {
	server, err := startReplayServer(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}

	// Point the reader at the address the server actually bound, so
	// port 0 configs work.
	host, portStr, err := net.SplitHostPort(server.Addr())
	if err != nil {
		_ = server.Stop(shutdownTimeout)
		return fmt.Errorf("parse replay address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		_ = server.Stop(shutdownTimeout)
		return fmt.Errorf("parse replay port: %w", err)
	}
	cfg.Reader.Host = host
	cfg.Reader.Port = port

	detectErr := runDetect(ctx, cfg, metrics, logger)

	if err := server.Stop(shutdownTimeout); err != nil {
		logger.Error("replay server shutdown failed", "error", err)
	}
	return detectErr
}

func startReplayServer(ctx context.Context, cfg config.Config, metrics *metric.Registry, logger *slog.Logger) (*replay.Server, error) {
	data, err := replay.LoadData(cfg.Replay.Datasets, cfg.Replay.Strict, logger)
	if err != nil {
		return nil, err
	}

	server := replay.NewServer(replay.ServerDeps{
		Config:  cfg.Replay,
		Data:    data,
		Metrics: metrics,
		Logger:  logger,
	})
	if err := server.Initialize(); err != nil {
		return nil, err
	}
	if err := server.Start(ctx); err != nil {
		return nil, err
	}

	logger.Info("replay server started",
		"addr", server.Addr(),
		"records", len(data.Entries),
		"speed", cfg.Replay.Speed,
		"loop", cfg.Replay.Loop)
	return server, nil
}

// buildPipeline wires the reader, detectors, deduplicator, and sinks.
// The returned cleanup closes the sinks.
func buildPipeline(ctx context.Context, cfg config.Config, metrics *metric.Registry, logger *slog.Logger) (*pipeline.Pipeline, func(), error) {
	var cat *catalog.Catalog
	if cfg.CatalogPath != "" {
		var err error
		cat, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("product catalog loaded", "path", cfg.CatalogPath, "products", cat.Len())
	} else {
		logger.Warn("no product catalog configured, weight and inventory checks are limited")
	}

	sinkMetrics := sink.NewMetrics(metrics)

	durable, err := sink.NewFileSink(cfg.Sink, sinkMetrics)
	if err != nil {
		return nil, nil, err
	}

	var mirrors []sink.Sink
	var hub *sink.Hub
	if cfg.Sink.PushListen != "" {
		hub = sink.NewHub(sink.HubDeps{
			Config:  cfg.Sink,
			Metrics: sinkMetrics,
			Logger:  logger,
		})
		if err := hub.Initialize(); err != nil {
			_ = durable.Close()
			return nil, nil, err
		}
		if err := hub.Start(ctx); err != nil {
			_ = durable.Close()
			return nil, nil, err
		}
		logger.Info("event push hub listening", "addr", hub.Addr())
		mirrors = append(mirrors, hub)
	}

	nats, err := sink.NewNATSPublisher(cfg.Sink, sinkMetrics, logger)
	if err != nil {
		_ = durable.Close()
		if hub != nil {
			_ = hub.Close()
		}
		return nil, nil, err
	}
	if nats != nil {
		logger.Info("nats publisher connected", "url", cfg.Sink.NATSURL, "subject", cfg.Sink.NATSSubject)
		mirrors = append(mirrors, nats)
	}

	out := sink.NewMulti(durable, mirrors...)
	cleanup := func() {
		if err := out.Close(); err != nil {
			logger.Error("sink close failed", "error", err)
		}
	}

	reader := stream.NewReader(cfg.Reader, logger)
	registry := detect.NewDefaultRegistry(cfg.Detectors, cat, logger)

	p, err := pipeline.New(pipeline.Deps{
		Source:        reader,
		Registry:      registry,
		Dedup:         dedup.New(cfg.Dedup),
		Sink:          out,
		FlushInterval: cfg.Pipeline.FlushInterval.Std(),
		Metrics:       pipeline.NewMetrics(metrics),
		Logger:        logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}
