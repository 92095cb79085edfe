// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fluxtv/ingestd/internal/api"
	"github.com/fluxtv/ingestd/internal/channels"
	"github.com/fluxtv/ingestd/internal/config"
	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/events"
	"github.com/fluxtv/ingestd/internal/fetch"
	"github.com/fluxtv/ingestd/internal/locks"
	ilog "github.com/fluxtv/ingestd/internal/log"
	"github.com/fluxtv/ingestd/internal/progress"
	"github.com/fluxtv/ingestd/internal/refresh"
	"github.com/fluxtv/ingestd/internal/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ingestd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestd: %v\n", err)
		os.Exit(1)
	}

	ilog.Configure(ilog.Config{Level: cfg.LogLevel, Service: "ingestd"})
	logger := ilog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.DatabasePath, store.DefaultConfig())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open database")
	}
	defer func() { _ = s.Close() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable")
	}

	bus := events.NewRedisBus(rdb, ilog.WithComponent("events"))
	reporter := progress.NewRedisReporter(rdb, 500*time.Millisecond, ilog.WithComponent("progress"))

	fetchCfg := fetch.DefaultConfig()
	fetchCfg.MaxCycles = cfg.Fetch.MaxCycles
	fetchCfg.CycleDelay = config.Duration(cfg.Fetch.CycleDelay, fetchCfg.CycleDelay)
	fetchCfg.Timeout = config.Duration(cfg.Fetch.Timeout, fetchCfg.Timeout)

	orch := refresh.New(refresh.Deps{
		Store:    s,
		Locks:    locks.NewManager(rdb, config.Duration(cfg.LockTTL, 30*time.Minute), ilog.WithComponent("locks")),
		Bus:      bus,
		Progress: reporter,
		Fetcher:  fetch.New(fetchCfg, nil, reporter, ilog.WithComponent("fetch")),
		Cache:    fetch.NewCache(cfg.CacheDir),
		Projector: &channels.Projector{
			Store: s, Bus: bus, Log: ilog.WithComponent("channels"),
		},
		Log: ilog.WithComponent("refresh"),
	})

	srv := &api.Server{
		Store:         s,
		Orch:          orch,
		Log:           ilog.WithComponent("api"),
		RatePerMinute: cfg.API.RatePerMinute,
	}
	httpServer := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go runScheduler(ctx, s, orch, config.Duration(cfg.CheckInterval, time.Minute), logger)

	go func() {
		logger.Info().Str("listen", cfg.API.Listen).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown incomplete")
	}
}

// runScheduler polls for sources whose refresh interval has elapsed and
// refreshes them. Lock contention means another worker got there first.
func runScheduler(ctx context.Context, s *store.Store, orch *refresh.Orchestrator, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sources, err := s.ListActiveSources(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("scheduler: listing sources failed")
			continue
		}
		now := time.Now()
		for _, src := range sources {
			if !sourceDue(src, now) {
				continue
			}
			runCtx := ilog.ContextWithJobID(ctx, uuid.NewString())
			if _, err := orch.RefreshSource(runCtx, src.ID, false); err != nil &&
				!errors.Is(err, refresh.ErrLockContended) {
				logger.Warn().Err(err).Int64("source_id", src.ID).Msg("scheduled refresh failed")
			}
		}
	}
}

// sourceDue reports whether the source's refresh interval has elapsed. A
// source that has never completed a refresh is due immediately.
func sourceDue(src domain.Source, now time.Time) bool {
	switch src.Status {
	case domain.StatusFetching, domain.StatusParsing:
		return false
	case domain.StatusIdle, domain.StatusPendingSetup:
		return true
	}
	if src.RefreshHours <= 0 {
		return false
	}
	return now.Sub(src.UpdatedAt) >= time.Duration(src.RefreshHours)*time.Hour
}
