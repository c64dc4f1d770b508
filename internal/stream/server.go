// Package stream provides the WebSocket delivery surface for completed bars.
//
// This package exposes a production-ready WebSocket server for streaming
// consolidated bar data to external subscribers. It provides comprehensive
// lifecycle management per connection, keepalive handling, and graceful
// shutdown of in-flight streams.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"barclock/internal/model"
	"barclock/internal/service"
)

const (
	// defaultPingPeriod defines the default interval for sending WebSocket ping messages.
	defaultPingPeriod = 15 * time.Second

	// defaultSendTimeout defines the default timeout for WebSocket write operations.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit defines the maximum size of incoming WebSocket messages.
	// Subscription requests are small; anything larger is hostile.
	defaultReadLimit = 1 << 16 // 64KB

	// subscribeTimeout defines how long a fresh connection has to send its
	// subscription request before it is dropped.
	subscribeTimeout = 10 * time.Second
)

// ErrServerClosed indicates the server is no longer accepting connections.
var ErrServerClosed = errors.New("stream server closed")

// SubscribeRequest is the first message a client sends after connecting.
type SubscribeRequest struct {
	Symbols []string `json:"symbols"`
}

// BarMessage is the wire representation of one completed bar.
//
// Prices and volume are decimal strings so clients never lose precision to
// float rounding; timestamps are Unix milliseconds of the absolute instant.
type BarMessage struct {
	Symbol         string `json:"symbol"`
	Open           string `json:"open"`
	High           string `json:"high"`
	Low            string `json:"low"`
	Close          string `json:"close"`
	Volume         string `json:"volume"`
	StartTimestamp int64  `json:"startTimestamp"`
	EndTimestamp   int64  `json:"endTimestamp"`
	StartLocal     string `json:"startLocal"`
	EndLocal       string `json:"endLocal"`
	Zone           string `json:"zone"`
}

// Config defines settings for the stream server.
type Config struct {
	// PingPeriod is the interval between WebSocket ping messages.
	PingPeriod time.Duration

	// SendTimeout is the maximum time allowed for WebSocket write operations.
	SendTimeout time.Duration
}

// Server upgrades HTTP requests to WebSocket connections and streams bar
// emissions to each subscriber.
//
// Each connection runs two goroutines: a write pump draining the
// subscriber's emission channel, and a read loop whose only jobs are
// detecting client closure and keeping the pong deadline fresh. The
// subscription manager owns fan-out; the server owns the wire.
type Server struct {
	cfg      Config
	manager  service.SubscriptionManager
	upgrader websocket.Upgrader

	mu     sync.Mutex
	closed bool
	conns  map[*websocket.Conn]struct{}
}

// NewServer returns a stream server delivering through the given
// subscription manager.
func NewServer(cfg Config, manager service.SubscriptionManager) *Server {
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Server{
		cfg:     cfg,
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP implements http.Handler. The connection's lifetime is the
// request's lifetime: the method returns when the client disconnects, the
// subscription closes, or the server shuts down.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	if err := s.track(conn); err != nil {
		s.closeConn(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(conn)

	logger := log.With().Str("remote", conn.RemoteAddr().String()).Logger()

	req, err := s.readSubscribeRequest(conn)
	if err != nil {
		logger.Warn().Err(err).Msg("subscription handshake failed")
		s.closeConn(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	sub, err := s.manager.Subscribe(req.Symbols)
	if err != nil {
		logger.Warn().Err(err).Strs("symbols", req.Symbols).Msg("subscription rejected")
		s.closeConn(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	// Ensure cleanup on method exit
	defer func() {
		if err := s.manager.Unsubscribe(sub); err != nil {
			logger.Error().Err(err).Strs("symbols", req.Symbols).Msg("failed to unsubscribe")
		}
	}()

	logger.Info().Strs("symbols", req.Symbols).Msg("new client subscription")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readLoop(ctx, cancel, conn, logger)
	s.writePump(ctx, conn, sub, logger)
}

// Shutdown stops accepting connections and closes every active one.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		s.closeConn(conn, websocket.CloseGoingAway, "server shutting down")
	}
	log.Info().Int("connections", len(conns)).Msg("stream server shut down")
}

// readSubscribeRequest waits for and decodes the client's first message.
func (s *Server) readSubscribeRequest(conn *websocket.Conn) (*SubscribeRequest, error) {
	conn.SetReadLimit(defaultReadLimit)
	if err := conn.SetReadDeadline(time.Now().Add(subscribeTimeout)); err != nil {
		return nil, err
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading subscription request: %w", err)
	}

	var req SubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding subscription request: %w", err)
	}
	if len(req.Symbols) == 0 {
		return nil, errors.New("no symbols provided")
	}
	return &req, nil
}

// writePump streams emissions to the client until the subscription closes
// or the context is cancelled. It also owns the ping keepalive, since
// gorilla permits only one concurrent writer per connection.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, sub *service.Subscriber, logger zerolog.Logger) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeConn(conn, websocket.CloseNormalClosure, "")
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.SendTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Warn().Err(err).Msg("ping error")
				return
			}
		case e, ok := <-sub.Emissions():
			if !ok {
				logger.Info().Msg("subscription channel closed")
				s.closeConn(conn, websocket.CloseNormalClosure, "")
				return
			}

			payload, err := json.Marshal(ToBarMessage(e))
			if err != nil {
				logger.Error().Err(err).Msg("failed to encode bar")
				continue
			}

			if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.SendTimeout)); err != nil {
				logger.Warn().Err(err).Msg("failed to set write deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Warn().Err(err).Msg("failed to send bar to client")
				return
			}
		}
	}
}

// readLoop drains client frames so control messages are processed and
// cancels the connection's context when the client goes away.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, logger zerolog.Logger) {
	defer cancel()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PingPeriod * 2))
	})
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.PingPeriod * 2)); err != nil {
		logger.Warn().Err(err).Msg("failed to set read deadline")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info().Msg("client disconnected")
			} else if websocket.IsUnexpectedCloseError(err) {
				logger.Warn().Err(err).Msg("unexpected websocket closure")
			}
			return
		}
	}
}

// track registers a live connection, failing once the server has shut down.
func (s *Server) track(conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	s.conns[conn] = struct{}{}
	return nil
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Msg("error closing websocket connection")
	}
}

// closeConn sends a close frame and closes the connection.
func (s *Server) closeConn(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	if err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		log.Debug().Err(err).Msg("failed to send close frame")
	}
	_ = conn.Close()
}

// ToBarMessage converts an emission to its wire representation.
func ToBarMessage(e model.Emission) BarMessage {
	return BarMessage{
		Symbol:         e.Bar.Symbol,
		Open:           e.Bar.Open.String(),
		High:           e.Bar.High.String(),
		Low:            e.Bar.Low.String(),
		Close:          e.Bar.Close.String(),
		Volume:         e.Bar.Volume.String(),
		StartTimestamp: e.Bar.Start.UnixMilli(),
		EndTimestamp:   e.Bar.End.UnixMilli(),
		StartLocal:     e.Bar.Start.Format(time.RFC3339),
		EndLocal:       e.Bar.End.Format(time.RFC3339),
		Zone:           e.Zone,
	}
}
