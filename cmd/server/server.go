package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"limitbook/internal/config"
	"limitbook/internal/engine"
	"limitbook/internal/events"
	"limitbook/internal/logging"
	"limitbook/internal/metrics"
	"limitbook/internal/net"
	"limitbook/internal/sequencer"
	"limitbook/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config (defaults to $LIMITBOOK_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	logger := logging.New(cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the ledger and the matching engine.
	m := metrics.New(logger)
	address := common.HexToAddress(cfg.Engine.Address)
	ledger := token.NewLedger(address)
	eng := engine.New(
		engine.Config{Address: address, StepLimit: cfg.Engine.StepLimit},
		ledger,
		engine.WithMetrics(m),
		engine.WithLogger(logger.With().Str("component", "engine").Logger()),
	)

	// The relay subscribes before genesis so book creation is recorded too.
	outbox, err := events.OpenOutbox(cfg.Events.OutboxDir, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to open outbox")
	}
	defer outbox.Close()
	var publisher events.Publisher = events.NewLogPublisher(logger.With().Str("component", "events").Logger())
	if len(cfg.Events.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
	}
	defer publisher.Close()

	var t tomb.Tomb
	events.NewRelay(outbox, publisher, m).Start(&t, eng)

	if err := genesis(cfg, ledger, eng); err != nil {
		log.Fatal().Err(err).Msg("genesis failed")
	}

	seq := sequencer.New(eng, cfg.Server.QueueSize)
	seq.Start(ctx)

	if cfg.Metrics.Addr != "" {
		serveMetrics(&t, cfg.Metrics.Addr, m)
	}

	// Block on running the server.
	srv := net.New(cfg.Server.Addr, cfg.Server.Port, cfg.Server.Workers, seq, eng)
	srv.RequireAuth = cfg.Server.Auth
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
	}

	if err := seq.Stop(); err != nil {
		log.Error().Err(err).Msg("sequencer exited")
	}
	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("background tasks exited")
	}
}

func serveMetrics(t *tomb.Tomb, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.Go(func() error {
		log.Info().Str("address", addr).Msg("metrics listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
		return nil
	})
	t.Go(func() error {
		<-t.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return hs.Shutdown(ctx)
	})
}
