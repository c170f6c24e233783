package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, presets, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := setupStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up storage")
	}
	defer closeStore()

	services, err := setupServices(ctx, cfg, presets, st)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	// Stop drains the queue on shutdown, so the dispatcher outlives ctx
	if err := services.Activity.Start(context.WithoutCancel(ctx)); err != nil {
		log.Fatal().Err(err).Msg("failed to start activity dispatcher")
	}

	// Start the hub that delivers events to connections
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		services.Realtime.Start(ctx)
	}()

	server := setupServer(cfg, services)

	// Start HTTP server
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("storage", cfg.Storage).
			Int("presets", len(presets)).
			Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Cancel the service context: the hub closes every connection
	cancel()
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
	}

	services.Close()

	log.Info().Msg("teamsync shutdown complete")
}
