/*
Package main implements a WebSocket client for subscribing to consolidated bars.

This client connects to a bar streaming server, subscribes to the specified
symbols, and logs each received bar. It supports graceful shutdown via OS
signals.

Usage:

	go run main.go -addr=ws://localhost:8080/stream -symbols=BTC-USD,ETH-USD

The client will continuously receive and log bar data until interrupted.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"barclock/internal/stream"
)

// Command-line flags for configuring the client connection and subscription
var (
	// serverAddr specifies the WebSocket endpoint to connect to
	serverAddr = flag.String("addr", "ws://localhost:8080/stream", "The server WebSocket URL")
	// symbols contains the comma-separated list of symbols to subscribe to
	symbols = flag.String("symbols", "BTC-USD,ETH-USD", "Comma-separated list of symbols to subscribe to")
)

// main is the entry point of the bar client application.
// It establishes a WebSocket connection to the stream server, subscribes to
// the specified symbols, and continuously receives and logs bar data.
func main() {
	flag.Parse()

	// Initialize structured logger with timestamp and info level
	log := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	if err := validateConfig(); err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on Ctrl+C or SIGTERM.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, *serverAddr, nil)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *serverAddr).Msg("did not connect")
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Close the connection promptly when the context ends.
	go func() {
		<-ctx.Done()
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}()

	// Send the subscription request as the first message.
	symbolList := strings.Split(*symbols, ",")
	req := stream.SubscribeRequest{Symbols: symbolList}
	if err := conn.WriteJSON(req); err != nil {
		log.Fatal().Err(err).Msg("could not subscribe")
	}

	log.Info().Msgf("Subscribing to symbols: %v", symbolList)

	// Main message receiving loop: receive and log bars until the stream
	// ends or the context is cancelled.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Msg("stream has closed")
				return
			}
			log.Fatal().Err(err).Msg("failed to receive bar")
		}

		var bar stream.BarMessage
		if err := json.Unmarshal(data, &bar); err != nil {
			log.Error().Err(err).Msg("failed to decode bar")
			continue
		}

		// Log the complete bar data with structured fields
		log.Info().
			Str("symbol", bar.Symbol).
			Str("open", bar.Open).
			Str("high", bar.High).
			Str("low", bar.Low).
			Str("close", bar.Close).
			Str("volume", bar.Volume).
			Str("start_time", bar.StartLocal).
			Str("end_time", bar.EndLocal).
			Str("zone", bar.Zone).
			Msg("received bar")
	}
}

// validateConfig performs validation of command-line configuration.
// It ensures that required parameters are properly set before the client
// attempts to connect to the server.
func validateConfig() error {
	if len(*symbols) == 0 {
		return fmt.Errorf("symbols list cannot be empty")
	}
	if *serverAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	return nil
}
