package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Stream subscribes to the bridge's websocket tick feed. It is an
// alternative to polling LatestTick when the bridge supports push; the
// collector consumes either source through the same channel.
type Stream struct {
	url    string
	logger zerolog.Logger
}

// NewStream constructs a websocket tick stream client.
func NewStream(streamURL string, logger zerolog.Logger) *Stream {
	return &Stream{
		url:    streamURL,
		logger: logger.With().Str("component", "tick_stream").Logger(),
	}
}

type streamEnvelope struct {
	Event string `json:"event"`
	Tick  *Tick  `json:"tick"`
	Error string `json:"error"`
}

type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Run pushes ticks onto out until the context is cancelled, reconnecting
// with capped exponential backoff on transport failures.
func (s *Stream) Run(ctx context.Context, symbols []string, out chan<- Tick) error {
	if s.url == "" {
		return fmt.Errorf("stream url not configured")
	}
	if len(symbols) == 0 {
		return fmt.Errorf("stream requires at least one symbol")
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.consume(ctx, symbols, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Msg("tick stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (s *Stream) consume(ctx context.Context, symbols []string, out chan<- Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.logger.Info().Strs("symbols", symbols).Msg("connected tick stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	if err := conn.WriteJSON(subscribeRequest{Action: "subscribe", Symbols: symbols}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env streamEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.logger.Warn().Err(err).Msg("failed to decode stream message")
			continue
		}
		if env.Error != "" {
			return fmt.Errorf("stream error: %s", env.Error)
		}
		if env.Tick == nil {
			continue
		}

		tick := *env.Tick
		tick.Symbol = strings.ToUpper(tick.Symbol)

		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
