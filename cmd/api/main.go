package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"remind/internal/cache"
	"remind/internal/config"
	"remind/internal/httpserver"
	"remind/internal/logging"
	"remind/internal/observability"
	"remind/internal/service"
	"remind/internal/store"
	"remind/internal/store/memstore"
	"remind/internal/store/pg"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, checks, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("api store init failed", "err", err, "driver", cfg.StoreDriver)
		os.Exit(1)
	}
	defer closeStore()

	var candidates cache.CandidateCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		candidates = cache.NewRedisCache(rdb, cfg.DeletionCacheTTL)
		checks = append(checks, httpserver.DependencyCheck{Name: "redis", Check: func(c context.Context) error { return rdb.Ping(c).Err() }})
	} else {
		slog.Info("REDIS_ADDR not set, deletion candidates kept in process")
		candidates = cache.NewMemoryCache(cfg.DeletionCacheTTL)
	}

	observability.Register(prometheus.DefaultRegisterer)

	svc := &service.ScheduleService{
		Store:         st,
		Candidates:    candidates,
		DefaultExpiry: cfg.DefaultExpiry,
	}

	s := httpserver.New()
	(&httpserver.API{Svc: svc}).Register(s.Mux)
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, checks...)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.Handler(),
	}
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: httpserver.MetricsHandler(prometheus.DefaultGatherer),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api metrics server failed", "err", err)
		}
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.APIConfig) (store.Store, []httpserver.DependencyCheck, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("using in-memory store; schedules are lost on restart")
		return memstore.New(), nil, func() {}, nil
	case "postgres", "":
		pool, err := pg.NewPool(ctx, cfg.DSN, pg.PoolOptions{
			MaxConns:          cfg.PoolMaxConns,
			MinConns:          cfg.PoolMinConns,
			MaxConnLifetime:   cfg.PoolMaxConnLifetime,
			MaxConnIdleTime:   cfg.PoolMaxConnIdleTime,
			HealthCheckPeriod: cfg.PoolHealthCheckPeriod,
		}, cfg.ConnectTimeout)
		if err != nil {
			return nil, nil, nil, err
		}
		return pg.New(pool), []httpserver.DependencyCheck{{Name: "postgres", Check: pool.Ping}}, pool.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
