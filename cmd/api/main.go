package main

import (
	"context"
	"os/signal"
	"syscall"

	"genflow/internal/http/handlers"
	httpapi "genflow/internal/http/httpapi"
	"genflow/internal/infra"
	"genflow/internal/infra/geoip"
	"genflow/internal/metrics"
	"genflow/internal/middleware"
	"genflow/internal/orchestrator"
	"genflow/internal/polling"
	"genflow/internal/providers/jimeng"
	"genflow/internal/storage"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	recorder := metrics.New()

	client, err := jimeng.NewClient(jimeng.Options{
		SessionID:      cfg.JimengSessionID,
		BaseURL:        cfg.JimengBaseURL,
		BatchCap:       cfg.BatchCap,
		Logger:         &logger,
		RequestTimeout: cfg.JimengTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: jimeng client")
	}

	svc, err := orchestrator.New(orchestrator.Options{
		Remote:   client,
		BatchCap: cfg.BatchCap,
		Poll: polling.Config{
			InitialInterval: cfg.PollInitial,
			MaxInterval:     cfg.PollMaxInterval,
			BackoffFactor:   cfg.PollBackoff,
			Timeout:         cfg.PollTimeout,
		},
		MaxRetries:      cfg.PollMaxRetries,
		TaskTTL:         cfg.TaskTTL,
		SweepInterval:   cfg.SweepInterval,
		ResultCacheSize: cfg.ResultCacheSize,
		Logger:          &logger,
		Metrics:         recorder,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: orchestrator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	svc.Start(ctx)

	geo, err := geoip.Open(cfg.GeoIPDBPath, 0)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	defer geo.Close()
	var country middleware.CountryLookup
	if geo != nil {
		country = geo.CountryCode
	}

	fetcher := storage.NewFetcher(storage.FetcherOptions{Logger: &logger})
	app := handlers.NewApp(svc, fetcher, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          &logger,
		Metrics:         recorder,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Country:         country,
	})
	server := infra.NewHTTPServer(cfg, router, &logger)
	server.OnStop(svc.Close)

	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("api: http server")
	}
	logger.Info().Msg("api: stopped")
}
