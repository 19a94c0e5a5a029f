package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/aluiziolira/go-price-harvester/cache"
	"github.com/aluiziolira/go-price-harvester/clock"
	"github.com/aluiziolira/go-price-harvester/config"
	"github.com/aluiziolira/go-price-harvester/identity"
	"github.com/aluiziolira/go-price-harvester/pipeline"
	"github.com/aluiziolira/go-price-harvester/policy"
	"github.com/aluiziolira/go-price-harvester/scraper"
	"github.com/aluiziolira/go-price-harvester/store"
)

// app holds the long-lived components of one harvester process. The gate,
// cache and rotator are shared by every run so quota and liveness carry
// over between scheduled runs.
type app struct {
	cfg          *config.Config
	metrics      *scraper.Metrics
	store        *store.Store
	redis        *redis.Client
	writer       pipeline.OutputWriter
	orchestrator *pipeline.Orchestrator
	metricsSrv   *http.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: scraper.NewMetrics()}
	clk := clock.Real{}

	robots := policy.NewRobotsChecker(nil, cfg.Policy.UserAgent, cfg.Policy.RobotsTimeout)
	gate := policy.NewGate(policy.GateConfig{
		RespectRobots: cfg.Policy.RespectRobotsTxt,
		MinDelay:      cfg.Policy.MinDelay,
		HourlyQuota:   cfg.Policy.HourlyQuota,
	}, robots, clk)

	pageStore, err := a.openCacheStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	pages := cache.New(pageStore, cfg.Cache.TTL, clk, a.metrics)

	prober := identity.NewHTTPProber(cfg.Identity.ProbeURL, cfg.Identity.ProbeTimeout, nil)
	rotator := identity.NewRotator(identity.Build(cfg.Identity.Proxies, cfg.Identity.UserAgents), prober, a.metrics)

	fetcher := scraper.NewFetcher(gate, pages, rotator,
		scraper.NewHTTPRenderer(cfg.Fetch.Timeout, nil),
		scraper.FetcherConfig{
			RetryBackoff:    cfg.Fetch.RetryBackoff,
			RetryBackoffMax: cfg.Fetch.RetryBackoffMax,
		}, clk, a.metrics)

	a.store, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.store.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Export.OutputFile != "" {
		a.writer, err = pipeline.NewOutputWriter(cfg.Export.OutputFile, cfg.Export.OutputFormat)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create export writer: %w", err)
		}
	}

	a.orchestrator = pipeline.New(fetcher, a.store, pipeline.Options{
		Target:     cfg.Target,
		Selectors:  cfg.Selectors,
		MaxRetries: cfg.Fetch.MaxRetries,
		Workers:    cfg.Workers,
		Writer:     a.writer,
		Clock:      clk,
		Metrics:    a.metrics,
	})

	a.startMetricsServer()
	return a, nil
}

func (a *app) openCacheStore(ctx context.Context) (cache.Store, error) {
	if a.cfg.Cache.Backend == "redis" {
		client, err := cache.DialRedis(ctx, a.cfg.Cache.RedisAddr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		a.redis = client
		slog.Info("page cache backed by redis", slog.String("addr", a.cfg.Cache.RedisAddr))
		return cache.NewRedisStore(client), nil
	}
	return cache.NewMemoryStore(a.cfg.Cache.MaxEntries)
}

func (a *app) startMetricsServer() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	a.metricsSrv = &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", a.cfg.MetricsAddr))
}

// Close releases everything newApp opened. It is safe on a partly built app.
func (a *app) Close() {
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			slog.Error("close export writer", slog.Any("error", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("close redis", slog.Any("error", err))
		}
	}
}
