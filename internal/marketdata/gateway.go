package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// GatewayOptions parameterise the terminal gateway client.
type GatewayOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Gateway talks JSON over HTTP to the terminal bridge. It implements the
// four data operations of Provider; the bridge owns the terminal session.
type Gateway struct {
	opts    GatewayOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewGateway constructs a terminal gateway client.
func NewGateway(opts GatewayOptions, logger zerolog.Logger) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:6542/api/v1"
	}

	return &Gateway{
		opts:    opts,
		logger:  logger.With().Str("component", "gateway").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Connect verifies the bridge is reachable and has a live terminal session.
func (g *Gateway) Connect(ctx context.Context) error {
	var status struct {
		Connected bool   `json:"connected"`
		Terminal  string `json:"terminal"`
		Build     int    `json:"build"`
	}
	if err := g.getJSON(ctx, "/status", nil, &status); err != nil {
		return fmt.Errorf("gateway status: %w", err)
	}
	if !status.Connected {
		return fmt.Errorf("gateway reports terminal not connected")
	}
	g.logger.Info().Str("terminal", status.Terminal).Int("build", status.Build).Msg("terminal connected")
	return nil
}

// Close releases the client. The bridge session outlives us.
func (g *Gateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// SymbolInfo fetches static instrument metadata.
func (g *Gateway) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	var info SymbolInfo
	query := url.Values{"symbol": {symbol}}
	if err := g.getJSON(ctx, "/symbol", query, &info); err != nil {
		return SymbolInfo{}, fmt.Errorf("symbol info %s: %w", symbol, err)
	}
	if info.Symbol == "" {
		info.Symbol = symbol
	}
	return info, nil
}

// LatestTick fetches the most recent quote for a symbol.
func (g *Gateway) LatestTick(ctx context.Context, symbol string) (Tick, error) {
	var payload struct {
		Tick *Tick `json:"tick"`
	}
	query := url.Values{"symbol": {symbol}}
	if err := g.getJSON(ctx, "/tick", query, &payload); err != nil {
		return Tick{}, err
	}
	if payload.Tick == nil {
		return Tick{}, ErrNoTick
	}
	tick := *payload.Tick
	tick.Symbol = symbol
	return tick, nil
}

// TicksRange fetches historical ticks for [from, to).
func (g *Gateway) TicksRange(ctx context.Context, symbol string, from, to time.Time) ([]Tick, error) {
	var payload struct {
		Ticks []Tick `json:"ticks"`
	}
	query := url.Values{
		"symbol": {symbol},
		"from":   {from.UTC().Format(time.RFC3339Nano)},
		"to":     {to.UTC().Format(time.RFC3339Nano)},
	}
	if err := g.getJSON(ctx, "/ticks/range", query, &payload); err != nil {
		return nil, fmt.Errorf("ticks range %s: %w", symbol, err)
	}
	for i := range payload.Ticks {
		payload.Ticks[i].Symbol = symbol
	}
	return payload.Ticks, nil
}

// BarsRange fetches historical bars for [from, to).
func (g *Gateway) BarsRange(ctx context.Context, symbol string, timeframe Timeframe, from, to time.Time) ([]Bar, error) {
	var payload struct {
		Bars []Bar `json:"rates"`
	}
	query := url.Values{
		"symbol":    {symbol},
		"timeframe": {string(timeframe)},
		"from":      {from.UTC().Format(time.RFC3339Nano)},
		"to":        {to.UTC().Format(time.RFC3339Nano)},
	}
	if err := g.getJSON(ctx, "/rates/range", query, &payload); err != nil {
		return nil, fmt.Errorf("bars range %s: %w", symbol, err)
	}
	for i := range payload.Bars {
		payload.Bars[i].Symbol = symbol
	}
	return payload.Bars, nil
}

func (g *Gateway) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "duartescalper/1.0")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}

	return json.Unmarshal(payload, out)
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("gateway error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("gateway error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("gateway error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("gateway error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("gateway error (%d)", status)
}

var _ Provider = (*Gateway)(nil)
