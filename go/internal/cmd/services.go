package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/teamsync/go/internal/access"
	"github.com/mcdev12/teamsync/go/internal/collab"
	"github.com/mcdev12/teamsync/go/internal/config"
	"github.com/mcdev12/teamsync/go/internal/eventbus"
	"github.com/mcdev12/teamsync/go/internal/realtime"
	"github.com/mcdev12/teamsync/go/internal/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Services struct {
	Sync     *collab.Synchronizer
	Realtime *realtime.Service
	Activity *eventbus.Dispatcher

	closePublisher func() error
}

func setupServices(ctx context.Context, cfg config.Config, presets map[string][]string, st store) (*Services, error) {
	// Wire up dependency injection chain
	// Storage → Gate/Registry → Hub → Synchronizer → Realtime service

	publisher, closePublisher, err := setupPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	activity := eventbus.NewDispatcher(publisher, eventbus.DefaultConfig())

	gate := access.NewGate(st)
	sessions := session.NewRegistry()

	hub := realtime.NewHub(realtime.ConnectionConfig{
		WriteTimeout:    cfg.WS.WriteTimeout,
		ReadTimeout:     cfg.WS.ReadTimeout,
		PingInterval:    cfg.WS.PingInterval,
		MaxMessageSize:  cfg.WS.MaxMessageSize,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      cfg.WS.SendBuffer,
		CommandRate:     rate.Limit(cfg.WS.CommandRate),
		CommandBurst:    cfg.WS.CommandBurst,
		CheckOrigin:     realtime.DefaultConnectionConfig().CheckOrigin,
	})

	sync := collab.New(st, gate, hub, sessions, collab.Options{
		Clock:        clockwork.NewRealClock(),
		TickInterval: cfg.TimerTick,
		OpTimeout:    cfg.OpTimeout,
		Presets:      presets,
		Activity:     activity,
	})

	return &Services{
		Sync:           sync,
		Realtime:       realtime.NewService(hub, sync, cfg.OpTimeout),
		Activity:       activity,
		closePublisher: closePublisher,
	}, nil
}

// setupPublisher returns the JetStream publisher when NATS is configured and
// a logging publisher otherwise
func setupPublisher(ctx context.Context, cfg config.Config) (eventbus.Publisher, func() error, error) {
	if cfg.NATSURL == "" {
		log.Info().Msg("NATS_URL not set, activity is logged only")
		return eventbus.LogPublisher{}, func() error { return nil }, nil
	}

	jsCfg := eventbus.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATSURL
	jsCfg.StreamName = cfg.ActivityStream
	jsCfg.SubjectPrefix = cfg.ActivitySubjectPrefix

	publisher, err := eventbus.NewJetStreamPublisher(ctx, jsCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create activity publisher: %w", err)
	}
	log.Info().
		Str("nats_url", cfg.NATSURL).
		Str("stream", jsCfg.StreamName).
		Msg("publishing activity to JetStream")
	return publisher, publisher.Close, nil
}

// Close stops countdowns, flushes queued activity and closes the publisher
func (s *Services) Close() {
	s.Sync.Close()
	if err := s.Activity.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop activity dispatcher")
	}
	if err := s.closePublisher(); err != nil {
		log.Error().Err(err).Msg("failed to close activity publisher")
	}
}
