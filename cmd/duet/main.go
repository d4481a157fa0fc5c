package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Duet/internal/adapters/http"
	"github.com/dkeye/Duet/internal/adapters/media"
	signaladapter "github.com/dkeye/Duet/internal/adapters/signal"
	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	devices, err := media.NewDevices()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure media encoders")
	}

	bus := app.NewEventBus()
	notify := app.NewNotifier(bus)
	mediaMgr := app.NewMediaManager(devices, notify)

	sig := signaladapter.New(signaladapter.Config{
		URL:         cfg.SignalURL,
		STUNServers: cfg.StunServers,
		PingPeriod:  cfg.PingPeriod,
	})

	timings := app.Timings{
		ConnectTimeout: cfg.ConnectTimeout,
		HealthInterval: cfg.HealthInterval,
		StallGrace:     cfg.StallGrace,
		ReconnectDelay: cfg.ReconnectDelay,
		MaxReconnects:  cfg.MaxReconnects,
	}
	manager := app.NewManager(sig, mediaMgr, notify, bus, timings)

	if err := manager.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	ctrl := router.NewController(manager)
	r := router.SetupRouter(cfg, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("peer_id", string(manager.Self())).Msg("Duet started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	manager.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Exited gracefully")
}
