// entry point of the application
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"vodkeep/internal/config"
	"vodkeep/internal/depmanager"
	"vodkeep/internal/fetcher"
	httprouter "vodkeep/internal/infrastructure/delivery/http"
	"vodkeep/internal/muxer"
	"vodkeep/internal/observability"
	"vodkeep/internal/pipeline"
	"vodkeep/internal/proxymgr"
	"vodkeep/internal/queue"
	"vodkeep/internal/segment"
	"vodkeep/internal/storage"
	httpserver "vodkeep/pkg/http/server"
	"vodkeep/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		slog.Error("config new", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
		Format:    cfg.App.LogFormat,
	})
	if err != nil {
		slog.WarnContext(ctx, "logger level invalid; defaulting to info", slog.Any("error", err))
	}

	metrics := observability.New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)

	depMgr := depmanager.New(log, cfg)

	log.InfoContext(ctx, "checking if ffmpeg is installed. it may take some time...")

	if err := depMgr.Start(ctx); err != nil {
		log.ErrorContext(ctx, "ffmpeg unavailable", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	proxies, err := proxymgr.New(log, cfg)
	if err != nil {
		log.ErrorContext(ctx, "proxy list invalid", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	if proxies.HasProxies() {
		proxies.StartHealthChecker(ctx)
		log.InfoContext(ctx, "proxy manager initialized", slog.Int("proxy_count", len(cfg.Proxy.List)))
	}

	apiTransport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert
	fetch := fetcher.New(log, cfg, &http.Client{
		Timeout:   cfg.Download.RequestTimeout,
		Transport: proxies.Transport(apiTransport),
	})
	segments := segment.New(log, cfg, &http.Client{
		Transport: proxies.Transport(segment.NewTransport(cfg.Download)),
	}, metrics)
	encoder := muxer.New(log, depMgr, metrics)
	runner := pipeline.New(log, fetch, segments, encoder, depMgr)

	var history storage.Storer

	if cfg.History.DBPath != "" {
		history, err = storage.New(ctx, log, cfg)
		if err != nil {
			log.ErrorContext(ctx, "history unavailable", slog.Any("error", err))
			stop()
			os.Exit(1)
		}

		defer history.Close()
	}

	q := queue.New(cfg, log, runner, history, metrics)
	q.Start(ctx)

	router := httprouter.New(log, cfg, q, fetch, history, metrics)

	httpSrv := httpserver.New(router, httpserver.Options{
		Addr:            cfg.HTTP.Port,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	log.InfoContext(ctx, "vodkeep started", slog.String("port", cfg.HTTP.Port))

	select {
	case <-ctx.Done():
	case err := <-httpSrv.Notify():
		if err != nil {
			log.ErrorContext(ctx, "http server", slog.Any("error", err))
		}
	}

	if !q.CanShutdown() {
		log.WarnContext(ctx, "shutting down with pending downloads; the active one is canceled")
	}

	err = httpSrv.Shutdown()
	if err != nil {
		log.Error(err.Error())
	}

	q.Shutdown()

	log.InfoContext(ctx, "vodkeep shut down gracefully")
}
