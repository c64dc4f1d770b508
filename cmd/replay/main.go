/*
Package main implements a deterministic replay driver for consolidated bars.

The replay driver reads recorded trade points from a JSON-lines file (or
stdin), drives the consolidation clock through each point's timestamp, and
writes every completed bar to stdout as a JSON line. Because the clock
moves only when the input says so, two runs over the same input produce
byte-identical output — the property that makes backtests trustworthy.

Usage:

	go run main.go -input=trades.jsonl -symbols=BTC-USD -period=1m -zone=America/New_York

Each input line has the form:

	{"symbol":"BTC-USD","price":"50000.5","quantity":"0.25","timestamp":"2024-02-16T00:00:10Z"}

At end of input, any bars still open are closed at their natural end.
*/
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"barclock/internal/consolidate"
	"barclock/internal/model"
	"barclock/internal/service"
	"barclock/internal/source"
	"barclock/internal/stream"
	"barclock/internal/timekeeping"
	"barclock/internal/utils"
)

// Command-line flags for configuring the replay run
var (
	// input is the JSON-lines trade file; "-" reads stdin
	input = flag.String("input", "-", "Trade input file, or - for stdin")
	// symbols contains the comma-separated list of symbols to consolidate
	symbols = flag.String("symbols", "BTC-USD", "Comma-separated list of symbols")
	// period is the bar period in wall-clock terms
	period = flag.Duration("period", time.Minute, "Bar period (wall clock)")
	// zone aligns bar boundaries to this zone's wall clock
	zone = flag.String("zone", "UTC", "Time zone for bar alignment")
)

func main() {
	flag.Parse()

	// Replay output goes to stdout; keep logging on stderr so the two
	// streams can be separated.
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	symbolList := strings.Split(*symbols, ",")
	if err := validateConfig(symbolList); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	in, err := openInput(*input)
	if err != nil {
		log.Fatal().Err(err).Str("input", *input).Msg("failed to open input")
	}
	defer in.Close()

	if err := run(in, symbolList, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("replay failed")
	}
}

// run drives the full replay: points in, bars out.
func run(in io.Reader, symbolList []string, w io.Writer) error {
	out := bufio.NewWriter(w)
	defer out.Flush()

	writeBar := func(e model.Emission) {
		payload, err := json.Marshal(stream.ToBarMessage(e))
		if err != nil {
			log.Error().Err(err).Msg("failed to encode bar")
			return
		}
		out.Write(payload)
		out.WriteByte('\n')
	}

	zones := timekeeping.NewZoneTable()
	loc, err := zones.Resolve(*zone)
	if err != nil {
		return err
	}

	points, err := source.NewReplay(in).StartPointStream(context.Background(), symbolList)
	if err != nil {
		return err
	}

	// The first point seeds the clock: registration computes each series'
	// first due instant from "now", so the run cannot start before the
	// data does.
	first, ok := <-points
	if !ok {
		log.Warn().Msg("no input points")
		return nil
	}

	sync := service.NewSynchronizer(
		timekeeping.NewClock(first.Timestamp),
		zones,
		writeBar,
	)

	// One series per symbol, all sharing the flagged period and zone.
	ids := make(map[string]int64, len(symbolList))
	consolidators := make([]*consolidate.TradeBarConsolidator, 0, len(symbolList))
	for _, sym := range symbolList {
		cons, err := consolidate.NewTradeBarConsolidator(sym, *period, loc, nil)
		if err != nil {
			return err
		}
		id, err := sync.Register(cons, *zone)
		if err != nil {
			return err
		}
		ids[sym] = id
		consolidators = append(consolidators, cons)
	}

	if err := sync.Feed(ids[first.Symbol], first); err != nil {
		return fmt.Errorf("point 1: %w", err)
	}

	count := 1
	for point := range points {
		if err := sync.Advance(point.Timestamp); err != nil {
			return fmt.Errorf("point %d: %w", count+1, err)
		}
		if err := sync.Feed(ids[point.Symbol], point); err != nil {
			return fmt.Errorf("point %d: %w", count+1, err)
		}
		count++
	}

	// Close out any bar still open at end of input.
	var final time.Time
	for _, cons := range consolidators {
		if end, ok := cons.WorkingEnd(); ok && end.UTC().After(final) {
			final = end.UTC()
		}
	}
	if !final.IsZero() {
		if err := sync.Advance(final); err != nil {
			return err
		}
	}

	log.Warn().Int("points", count).Msg("replay complete")
	return nil
}

// validateConfig performs validation of command-line configuration.
func validateConfig(symbolList []string) error {
	if err := utils.ValidateSymbols(symbolList, 100); err != nil {
		return err
	}
	if *period <= 0 {
		return fmt.Errorf("period must be greater than 0")
	}
	return nil
}

// openInput opens the trade input, treating "-" as stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
