package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/troikatech/chatwidget/internal/config"
	"github.com/troikatech/chatwidget/internal/gateway"
	"github.com/troikatech/chatwidget/internal/handler"
	"github.com/troikatech/chatwidget/internal/handler/widget"
	"github.com/troikatech/chatwidget/internal/logging"
	"github.com/troikatech/chatwidget/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "", os.Stderr)
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file loaded, using system environment only")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	client, err := gateway.New(gateway.Options{
		BaseURL:           cfg.Gateway.BaseURL,
		Timeout:           cfg.Gateway.Timeout,
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		ConfigCacheSize:   cfg.Gateway.ConfigCacheSize,
		ConfigCacheTTL:    cfg.Gateway.ConfigCacheTTL,
		Metrics:           m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create chatbot gateway")
	}

	router := handler.NewRouter(handler.Dependencies{
		Gateway:      client,
		AssetBaseURL: cfg.Embed.AssetBaseURL,
		Widget: widget.Settings{
			TypingDelay:      cfg.Widget.TypingDelay,
			ReleaseLockEarly: !cfg.Widget.HoldSendLock,
		},
		Metrics:  m,
		Gatherer: reg,
	})

	log.Info().
		Str("gateway", client.BaseURL()).
		Str("assets", cfg.Embed.AssetBaseURL).
		Dur("typing_delay", cfg.Widget.TypingDelay).
		Bool("hold_send_lock", cfg.Widget.HoldSendLock).
		Msg("chat widget service configured")

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("chat widget service listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
