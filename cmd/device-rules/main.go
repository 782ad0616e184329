package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"device-rules/config"
	"device-rules/internal/api"
	"device-rules/internal/console"
	"device-rules/internal/draft"
	"device-rules/internal/logger"
	"device-rules/internal/metrics"
	"device-rules/internal/rule"
	"device-rules/internal/rulelist"
	"device-rules/internal/schema"
	"device-rules/internal/stats"
	"device-rules/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file (empty = defaults and environment only)")
	applyPath := flag.String("apply", "", "submit the rule drafts found in this directory and exit")

	// Optional override flags
	listenOverride := flag.String("listen", "", "override console listen address (empty = use config)")
	logLevelOverride := flag.String("log-level", "", "override log level (empty = use config)")
	metricsOverride := flag.Bool("metrics", false, "enable the metrics endpoint")

	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(*listenOverride, *logLevelOverride, *metricsOverride)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Initialize logger
	logger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	var reg *prometheus.Registry
	var metricsService *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			logger.Fatal("failed to create metrics service", "error", err)
		}
	}

	statsCollector := stats.NewStatsCollector()
	client := api.NewClient(cfg.API.BaseURL, cfg.API.Token, cfg.APITimeout(), logger, metricsService)
	builder := rule.NewBuilder(rule.BuildOptions{
		RequireAlertTitle: cfg.Builder.RequireAlertTitle,
		DefaultAlertTitle: cfg.Builder.DefaultAlertTitle,
	}, logger)

	sampler, err := telemetry.New(&cfg.Telemetry, logger, metricsService)
	if err != nil {
		logger.Fatal("failed to create telemetry sampler", "error", err)
	}

	var resolverOpts []schema.Option
	if sampler != nil {
		resolverOpts = append(resolverOpts, schema.WithSampler(sampler, cfg.SampleTimeout()))
	}
	resolver := schema.NewResolver(client, client, logger, metricsService, resolverOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *applyPath != "" {
		code := apply(ctx, *applyPath, client, resolver, builder, logger, metricsService, statsCollector)
		if sampler != nil {
			sampler.Close()
		}
		logger.Sync()
		os.Exit(code)
	}

	consoleCfg := console.Config{RequestTimeout: 2 * cfg.APITimeout()}
	if reg != nil {
		consoleCfg.MetricsPath = cfg.Metrics.Path
		consoleCfg.Gatherer = reg
	}
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           console.NewServer(client, resolver, builder, logger, metricsService, statsCollector, consoleCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting console server",
			"address", cfg.Server.Address,
			"metricsEnabled", cfg.Metrics.Enabled,
			"telemetryBroker", cfg.Telemetry.Broker)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("console server error", "error", err)
		}
	}()

	// Setup signal handlers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			logger.Info("received SIGHUP, reopening logs")
			logger.Sync()
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("shutting down...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown console server", "error", err)
			}
			cancel()
			if sampler != nil {
				sampler.Close()
			}
			return
		}
	}
}

// apply submits every batch under path and returns the process exit code.
func apply(ctx context.Context, path string, client *api.Client, resolver *schema.Resolver, builder *rule.Builder,
	logger *logger.Logger, m *metrics.Metrics, st *stats.StatsCollector) int {
	batches, err := draft.NewLoader(logger).LoadFromDirectory(path)
	if err != nil {
		logger.Error("failed to load rule drafts", "path", path, "error", err)
		return 1
	}

	failed := 0
	for _, batch := range batches {
		list := rulelist.NewController(client, logger, st)
		ctrl := draft.NewController(client, resolver.NewSelection(), list, builder, logger,
			draft.WithMetrics(m),
			draft.WithStats(st))

		results, err := draft.Apply(ctx, ctrl, batch)
		if err != nil {
			logger.Error("failed to apply batch", "path", batch.Path, "error", err)
			failed++
			continue
		}
		for _, res := range results {
			if res.Err != nil {
				failed++
				reason := "rejected by api"
				if rule.IsValidationError(res.Err) {
					reason = "invalid draft"
				}
				logger.Error("rule rejected",
					"path", res.Path,
					"index", res.Index,
					"name", res.Name,
					"reason", reason,
					"error", api.UserMessage(res.Err, res.Err.Error()))
				continue
			}
			logger.Info("rule submitted",
				"path", res.Path,
				"index", res.Index,
				"name", res.Rule.Name,
				"ruleId", res.Rule.ID.String())
		}
	}

	logger.Info("rule drafts applied",
		"batches", len(batches),
		"failed", failed)
	if failed > 0 {
		return 1
	}
	return 0
}
