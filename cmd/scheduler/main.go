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

	"remind/internal/awsutil"
	"remind/internal/concurrency"
	"remind/internal/config"
	"remind/internal/dispatch"
	"remind/internal/httpserver"
	"remind/internal/jobqueue"
	"remind/internal/logging"
	"remind/internal/observability"
	"remind/internal/scheduler"
	"remind/internal/store"
	"remind/internal/store/memstore"
	"remind/internal/store/pg"
	"remind/internal/telemetry"
	"remind/internal/transport"
	"remind/internal/transport/gateway"
	"remind/internal/transport/sqsout"
)

func main() {
	cfg := config.LoadScheduler()
	logging.Init("scheduler", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, ready, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("scheduler store init failed", "err", err, "driver", cfg.StoreDriver)
		os.Exit(1)
	}
	defer closeStore()

	sender, err := newSender(ctx, cfg)
	if err != nil {
		slog.Error("scheduler transport init failed", "err", err, "transport", cfg.Transport)
		os.Exit(1)
	}

	rt, err := config.NewRuntime(cfg.Tunables())
	if err != nil {
		slog.Error("invalid scheduler configuration", "err", err)
		os.Exit(1)
	}
	if cfg.OverridesFile != "" {
		if err := rt.LoadOverrides(cfg.OverridesFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Error("overrides file rejected at startup", "err", err, "path", cfg.OverridesFile)
			os.Exit(1)
		}
		go func() {
			if err := rt.Watch(ctx, cfg.OverridesFile); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("overrides watcher stopped", "err", err)
			}
		}()
	}

	observability.Register(prometheus.DefaultRegisterer)

	host, err := telemetry.NewHost(cfg.ProcRoot)
	if err != nil {
		// dispatch must not depend on telemetry; the controller keeps its bound
		slog.Warn("host telemetry unavailable", "err", err, "proc_root", cfg.ProcRoot)
	}
	var sampler telemetry.Sampler
	var memSampler jobqueue.MemorySampler
	if host != nil {
		sampler, memSampler = host, host
	}

	tun := rt.Get()
	controller := concurrency.NewController(sampler, tun.Concurrency)
	dispatcher, err := dispatch.New(dispatch.Options{
		Store:        st,
		Sender:       sender,
		Controller:   controller,
		Tunables:     rt.Get,
		Template:     cfg.MessageTemplate,
		StoreTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		slog.Error("dispatcher init failed", "err", err)
		os.Exit(1)
	}

	loop, err := scheduler.New(tun.Interval, func(ctx context.Context) {
		if _, err := dispatcher.RunOnce(ctx); err != nil {
			slog.Error("dispatch cycle aborted", "err", err)
		}
	})
	if err != nil {
		slog.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}

	queues := []*jobqueue.Queue{
		jobqueue.New(jobqueue.Options{
			Name:            "inference",
			Concurrency:     cfg.InferenceConcurrency,
			MemoryThreshold: tun.QueueMemoryThreshold,
			PollInterval:    tun.MemoryCheckInterval,
			TaskTimeout:     cfg.JobTimeout,
			Sampler:         memSampler,
		}),
		jobqueue.New(jobqueue.Options{
			Name:            "transcription",
			Concurrency:     cfg.TranscriptionConcurrency,
			MemoryThreshold: tun.QueueMemoryThreshold,
			PollInterval:    tun.MemoryCheckInterval,
			TaskTimeout:     cfg.JobTimeout,
			Sampler:         memSampler,
		}),
	}

	// hot-reloaded tunables: interval and job-queue gate; the rest is read per cycle
	updates := rt.Subscribe(1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-updates:
				loop.SetInterval(t.Interval)
				for _, q := range queues {
					q.SetMemoryGate(t.QueueMemoryThreshold, t.MemoryCheckInterval)
				}
				slog.Info("tunables applied", "interval", t.Interval, "max_attempts", t.MaxAttempts,
					"retry_delay", t.RetryDelay, "dynamic", t.Dynamic.Enabled)
			}
		}
	}()

	srv := httpserver.New()
	srv.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, ready)).Methods(http.MethodGet)
	(&httpserver.Admin{
		Runtime:     rt,
		Loop:        loop,
		Concurrency: controller.Current,
		Queues:      queues,
	}).Register(srv.Mux)

	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: srv.Handler()}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: httpserver.MetricsHandler(prometheus.DefaultGatherer)}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("scheduler admin listening", "port", cfg.Port)
		errCh <- healthSrv.ListenAndServe()
	}()
	go func() {
		slog.Info("scheduler metrics listening", "port", cfg.MetricsPort)
		errCh <- metricsSrv.ListenAndServe()
	}()

	loop.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("scheduler http server failed", "err", err)
		}
	case sig := <-sigCh:
		slog.Info("scheduler shutdown", "signal", sig.String())
	}

	// let an in-flight cycle finish before the store goes away
	loop.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.SchedulerConfig) (store.Store, httpserver.DependencyCheck, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("using in-memory store; schedules are lost on restart")
		return memstore.New(), httpserver.DependencyCheck{Name: "memory", Check: func(context.Context) error { return nil }}, func() {}, nil
	case "postgres", "":
		pool, err := pg.NewPool(ctx, cfg.DSN, pg.PoolOptions{
			MaxConns:          cfg.PoolMaxConns,
			MinConns:          cfg.PoolMinConns,
			MaxConnLifetime:   cfg.PoolMaxConnLifetime,
			MaxConnIdleTime:   cfg.PoolMaxConnIdleTime,
			HealthCheckPeriod: cfg.PoolHealthCheckPeriod,
		}, cfg.ConnectTimeout)
		if err != nil {
			return nil, httpserver.DependencyCheck{}, nil, err
		}
		return pg.New(pool), httpserver.DependencyCheck{Name: "postgres", Check: pool.Ping}, pool.Close, nil
	}
	return nil, httpserver.DependencyCheck{}, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newSender(ctx context.Context, cfg config.SchedulerConfig) (transport.Sender, error) {
	var next transport.Sender
	switch cfg.Transport {
	case "gateway", "":
		next = &gateway.Client{
			AccountSID: cfg.GatewayAccountSID,
			AuthToken:  cfg.GatewayAuthToken,
			FromNumber: cfg.GatewayFrom,
			BaseURL:    cfg.GatewayBaseURL,
			HTTP:       &http.Client{Timeout: cfg.SendTimeout},
		}
	case "sqs":
		if cfg.OutboundQueueURL == "" {
			return nil, errors.New("SQS_OUTBOUND_QUEUE_URL is required for the sqs transport")
		}
		client, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			return nil, err
		}
		next = &sqsout.Producer{SQS: client, QueueURL: cfg.OutboundQueueURL}
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return transport.NewGuard(next, transport.GuardOptions{
		Name:         cfg.Transport,
		RPS:          cfg.SendRPS,
		Burst:        cfg.SendBurst,
		TripFailures: cfg.BreakerTripFailures,
		OpenTimeout:  cfg.BreakerOpenTimeout,
		SendTimeout:  cfg.SendTimeout,
	}), nil
}
