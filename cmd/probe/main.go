// Package main is the entry point for the Vitalis runtime probe.
// It loads configuration, arms the runtime collectors, drives the event
// loop and the reporting scheduler, and ships batches to the ingest API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vitalis-app/probe"
	"github.com/vitalis-app/probe/internal/buffer"
	"github.com/vitalis-app/probe/internal/collector"
	"github.com/vitalis-app/probe/internal/config"
	"github.com/vitalis-app/probe/internal/eventloop"
	"github.com/vitalis-app/probe/internal/models"
	"github.com/vitalis-app/probe/internal/scheduler"
	"github.com/vitalis-app/probe/internal/sender"
	"github.com/vitalis-app/probe/internal/service"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to configuration file (auto-discovered when empty)")
	serverURL   = flag.String("url", "", "Ingest API URL")
	agentToken  = flag.String("token", "", "Agent token")
	serviceName = flag.String("service", "", "Service name reported with every batch")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("vitalis-probe %s\n", version)
		os.Exit(0)
	}

	cli := config.CLIOverrides{URL: *serverURL, Token: *agentToken, ServiceName: *serviceName}
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadLayered(cli, embeddedConfig, *configPath)
	} else {
		cfg, err = config.LoadLayered(cli, embeddedConfig)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting Vitalis Probe",
		zap.String("version", version),
		zap.String("service", cfg.ServiceName),
		zap.String("server", cfg.Server.URL))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if service.IsWindowsService() {
		logger.Info("Running as Windows service")
	}
	svc := service.New(logger, func(ctx context.Context) error {
		return run(ctx, cfg, logger)
	})
	if err := svc.Run(ctx); err != nil {
		logger.Fatal("Probe failed", zap.Error(err))
	}
	logger.Info("Probe stopped")
}

// run initializes all components and drives the event loop and scheduler.
// It blocks until the context is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	buf, err := buffer.New(cfg.Buffer.Dir, cfg.Buffer.MaxSizeMB, logger)
	if err != nil {
		return fmt.Errorf("initialize buffer: %w", err)
	}

	snd := sender.New(cfg, logger, buf)
	snd.FlushBuffer(ctx)

	loop := eventloop.Default()
	p := probe.New(probe.Options{Logger: logger, Loop: loop})
	defer p.Close()

	if cfg.Collection.Process {
		p.Registry().Register(collector.NewProcessCollector())
	}
	p.StartGCStats()
	p.StartEventLoopStats()

	sched := scheduler.New(p.Registry(), cfg, logger)
	if cfg.Profiling.Enabled {
		if alloc, ok := p.AllocationSampler(); ok {
			sched.WithProfilers(p, alloc)
		} else {
			sched.WithProfilers(p, nil)
		}
	}
	sched.OnBatchReady(func(batch models.MetricBatch) {
		snd.Send(context.Background(), batch)
	})

	logger.Info("Probe running",
		zap.Duration("collect_interval", cfg.Collection.Interval.Duration),
		zap.Duration("batch_interval", cfg.Collection.BatchInterval.Duration),
		zap.Bool("profiling", cfg.Profiling.Enabled),
		zap.Strings("operations", p.Operations()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Ref()
		defer loop.Unref()
		if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("event loop: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})
	return g.Wait()
}

// initLogger creates a zap logger based on the configuration.
// It outputs to both console (human-readable) and optionally a JSON log file.
func initLogger(cfg *config.Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// Console output (human-readable)
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	// File output (structured JSON, if configured)
	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...)).With(zap.String("service", cfg.ServiceName))
}
