/*
Package main implements a WebSocket server streaming real-time consolidated bars.

The server maintains a set of consolidation series (symbol, zone, period)
over a synthetic trade stream and serves completed bars to WebSocket
subscribers. Each series folds trades into bars aligned to its zone's wall
clock, so daily bars in America/New_York are 23 or 25 absolute hours long
across DST transitions while still spanning midnight to midnight locally.

Usage:

	go run main.go -config=config.yaml

Clients connect to ws://<listen>/stream and send a subscription request as
their first message:

	{"symbols": ["BTC-USD"]}

The server then streams one JSON message per completed bar until the client
disconnects.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"barclock/internal/config"
	"barclock/internal/model"
	"barclock/internal/service"
	"barclock/internal/source"
	"barclock/internal/stream"
	"barclock/internal/timekeeping"
)

// configPath locates the YAML configuration file.
var configPath = flag.String("config", "config.yaml", "Path to the YAML configuration file")

// maxQuietWait bounds how long the wake loop sleeps when nothing is due,
// so newly registered work is noticed promptly.
const maxQuietWait = time.Second

func main() {
	flag.Parse()

	// Initialize structured logger with timestamp and info level
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, dispatcher, err := buildPipeline(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble pipeline")
	}

	if err := pipeline.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start pipeline")
	}
	defer pipeline.Stop()

	// Flush due bars during quiet stretches: sleep until the next due
	// instant, then advance the clock to the wall.
	go wakeLoop(ctx, pipeline)

	streamServer := stream.NewServer(stream.Config{}, dispatcher)

	mux := http.NewServeMux()
	mux.Handle("/stream", streamServer)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown on Ctrl+C or SIGTERM.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("initiating graceful shutdown")
		cancel()
		streamServer.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown error")
		}
	}()

	log.Info().
		Str("listen", cfg.Listen).
		Int("series", len(cfg.Series)).
		Msg("server starting")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("failed to serve")
	}
}

// buildPipeline assembles the synchronizer, queue, dispatcher and source
// from configuration.
func buildPipeline(cfg *config.ServerConfig) (*service.Pipeline, *service.Dispatcher, error) {
	queue := service.NewEmissionQueue(cfg.QueueSize)

	sync := service.NewSynchronizer(
		timekeeping.NewClock(time.Now()),
		timekeeping.NewZoneTable(),
		func(e model.Emission) {
			if err := queue.TryPublish(e); err != nil {
				log.Warn().Err(err).Str("symbol", e.Bar.Symbol).Msg("emission dropped")
			}
		},
	)

	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		MaxSymbols:       cfg.MaxSubscriptionSymbols,
		SubscriberBuffer: cfg.SubscriberBuffer,
	})

	synthetic, err := source.NewSynthetic(source.SyntheticConfig{
		Interval:   cfg.Source.Interval,
		StartPrice: cfg.Source.StartPrice,
		Volatility: cfg.Source.Volatility,
		Seed:       cfg.Source.Seed,
		MaxSymbols: len(cfg.Series),
	})
	if err != nil {
		return nil, nil, err
	}

	pipeline := service.NewPipeline(sync, queue, dispatcher, synthetic)
	for _, s := range cfg.Series {
		spec := service.SeriesSpec{Symbol: s.Symbol, Zone: s.Zone, Period: s.Period}
		if err := pipeline.AddSeries(spec); err != nil {
			return nil, nil, err
		}
		log.Info().
			Str("symbol", s.Symbol).
			Str("zone", s.Zone).
			Dur("period", s.Period).
			Msg("series registered")
	}

	return pipeline, dispatcher, nil
}

// wakeLoop advances the pipeline's clock on wall time so bars close on
// schedule even when no trades arrive.
func wakeLoop(ctx context.Context, pipeline *service.Pipeline) {
	for {
		wait := maxQuietWait
		if wake, ok := pipeline.Synchronizer().NextWake(); ok {
			if until := time.Until(wake); until < wait {
				wait = until
			}
		}
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			if err := pipeline.Tick(time.Now()); err != nil {
				log.Error().Err(err).Msg("wall tick failed")
				return
			}
		}
	}
}
