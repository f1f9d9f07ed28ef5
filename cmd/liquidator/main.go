// Package main runs the liquidation scanner. Each cycle discovers borrowers
// from the indexer (or on-chain logs), validates them against live protocol
// state and hands liquidatable accounts to the configured sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	httpadapter "github.com/archon-research/stl-liquidator/internal/adapters/inbound/http"
	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl-liquidator/internal/config"
	"github.com/archon-research/stl-liquidator/internal/pkg/blockchain/multicall"
	"github.com/archon-research/stl-liquidator/internal/pkg/usd"
	"github.com/archon-research/stl-liquidator/internal/services/denylist"
	"github.com/archon-research/stl-liquidator/internal/services/liquidation_scanner"
	"github.com/archon-research/stl-liquidator/internal/services/pricing"
	"github.com/archon-research/stl-liquidator/internal/services/registry"
	"github.com/archon-research/stl-liquidator/internal/services/validator"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	flag.Parse()

	config.LoadDotEnv()

	logger, closeLog := newLogger(logOptionsFromEnv())
	slog.SetDefault(logger)

	if err := run(*configPath, *once, logger); err != nil {
		logger.Error("liquidator stopped", "error", err)
		closeLog()
		os.Exit(1)
	}
	closeLog()
}

func run(configPath string, once bool, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := initTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownWithTimeout(logger, "tracer", shutdownTracer)

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer shutdownWithTimeout(logger, "metrics", shutdownMetrics)

	ethClient, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("connecting to node: %w", err)
	}
	defer ethClient.Close()

	mc, err := multicall.NewClient(ethClient, common.HexToAddress(cfg.Chain.Multicall3))
	if err != nil {
		return fmt.Errorf("creating multicall client: %w", err)
	}

	resolver, err := registry.NewResolver(registry.Config{
		Registries:     cfg.RegistryAddresses(),
		OracleOverride: cfg.OracleOverrideAddress(),
		Logger:         logger,
	}, mc)
	if err != nil {
		return err
	}
	primaryRegistry, err := resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolving registry: %w", err)
	}
	markets, err := resolver.Markets(ctx)
	if err != nil {
		return fmt.Errorf("listing markets: %w", err)
	}
	closeFactor, incentive, err := resolver.Params()
	if err != nil {
		return err
	}
	logger.Info("registry resolved",
		"registry", primaryRegistry.Address.Hex(),
		"oracle", primaryRegistry.Oracle.Hex(),
		"markets", len(markets),
		"closeFactor", closeFactor.String(),
		"liquidationIncentive", incentive.String())

	prices, err := pricing.NewNormalizer(pricing.Config{
		UnpricedTTL: cfg.Pricing.UnpricedTTL,
		Logger:      logger,
	}, mc)
	if err != nil {
		return err
	}

	gate := denylist.NewGate(denylist.Config{
		Path:          cfg.Denylist.Path,
		WatchInterval: cfg.Denylist.WatchInterval,
		Logger:        logger,
	})
	go gate.Watch(ctx, cfg.Denylist.Path, cfg.Denylist.WatchInterval)

	v, err := validator.NewValidator(validator.Config{
		ExcludedMarkets: cfg.ExcludedMarketAddresses(),
		Logger:          logger,
	}, mc, resolver, prices, gate)
	if err != nil {
		return err
	}

	primary, fallback, err := buildSources(cfg, ethClient, resolver, logger)
	if err != nil {
		return err
	}

	sink, err := newSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("failed to close sink", "error", err)
		}
	}()

	scannerMetrics, err := telemetry.NewScannerMetrics("stl-liquidator")
	if err != nil {
		return fmt.Errorf("creating scanner metrics: %w", err)
	}

	svc, err := liquidation_scanner.NewService(liquidation_scanner.Config{
		PollInterval:          cfg.Scanner.PollInterval,
		MinDebtUSD18:          cfg.MinDebtUSD18(),
		GasCeilingWei:         cfg.GasCeilingWei(),
		DisableGasGuard:       cfg.Scanner.DisableGasGuard,
		FallbackEnabled:       fallback != nil,
		MaxCandidatesPerCycle: cfg.Scanner.MaxCandidates,
		MaxHandoffsPerCycle:   cfg.Scanner.MaxHandoffs,
		RepeatWindow:          cfg.Scanner.RepeatWindow,
		RetentionWindow:       cfg.Scanner.RetentionWindow,
		WatchThreshold:        cfg.Scanner.WatchThreshold,
		Simulate:              cfg.Scanner.Simulate,
		StaleAfter:            cfg.Scanner.StaleAfter,
		Metrics:               scannerMetrics,
		Logger:                logger,
	}, primary, fallback, gate, ethClient, v, sink)
	if err != nil {
		return err
	}

	if once {
		report, err := svc.RunCycle(ctx)
		if err != nil {
			return err
		}
		logger.Info("single cycle complete",
			"candidates", report.Candidates,
			"liquidatable", len(report.Liquidatable),
			"handedOff", report.HandedOff,
			"simulated", report.Simulated,
			"minHealthRatio", report.Summary.Min)
		return nil
	}

	var shuttingDown atomic.Bool
	health := httpadapter.NewHealthServer(httpadapter.HealthServerConfig{
		Addr:   cfg.Health.Addr,
		Logger: logger,
	}, svc, &shuttingDown)
	health.Start()

	logger.Info("starting liquidator",
		"version", version,
		"primary", primary.Name(),
		"fallback", fallback != nil,
		"sink", cfg.Sink.Type,
		"simulate", cfg.Scanner.Simulate,
		"minDebtUSD", usd.Format(cfg.MinDebtUSD18()))

	runErr := svc.Run(ctx)

	shuttingDown.Store(true)
	if err := health.Shutdown(5 * time.Second); err != nil {
		logger.Warn("health server shutdown failed", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}

func initTracing(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.Telemetry.Tracing {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}
	return shutdown, nil
}

func shutdownWithTimeout(logger *slog.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", "provider", name, "error", err)
	}
}
