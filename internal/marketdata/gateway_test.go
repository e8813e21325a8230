package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestGateway(baseURL string) *Gateway {
	return NewGateway(GatewayOptions{BaseURL: baseURL, Timeout: time.Second}, noopLogger())
}

func TestGatewayConnectNotConnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"connected": false})
	}))
	defer srv.Close()

	if err := newTestGateway(srv.URL).Connect(context.Background()); err == nil {
		t.Fatal("终端未连接时应返回错误")
	}
}

func TestGatewayConnectHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"description": "terminal starting"})
	}))
	defer srv.Close()

	err := newTestGateway(srv.URL).Connect(context.Background())
	if err == nil {
		t.Fatal("HTTP 503 应返回错误")
	}
}

func TestGatewayLatestTick(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tick" {
			t.Fatalf("路径应为 /tick, 实际 %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "WINM25" {
			t.Fatalf("symbol 参数不正确: %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tick": map[string]any{
				"time":     time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
				"bid":      128000.0,
				"ask":      128000.5,
				"last":     128000.0,
				"volume":   3.0,
				"time_msc": 1748858400000,
			},
		})
	}))
	defer srv.Close()

	tick, err := newTestGateway(srv.URL).LatestTick(context.Background(), "WINM25")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if tick.Symbol != "WINM25" {
		t.Fatalf("应回填符号, 实际 %s", tick.Symbol)
	}
	if tick.Bid != 128000.0 || tick.Ask != 128000.5 {
		t.Fatalf("报价不正确: bid=%v ask=%v", tick.Bid, tick.Ask)
	}
	if tick.TimeMsc != 1748858400000 {
		t.Fatalf("time_msc 不正确: %d", tick.TimeMsc)
	}
}

func TestGatewayLatestTickMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tick": nil})
	}))
	defer srv.Close()

	_, err := newTestGateway(srv.URL).LatestTick(context.Background(), "WINM25")
	if !errors.Is(err, ErrNoTick) {
		t.Fatalf("无 tick 时应返回 ErrNoTick, 实际 %v", err)
	}
}

func TestGatewayTicksRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ticks/range" {
			t.Fatalf("路径应为 /ticks/range, 实际 %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ticks": []map[string]any{
				{"time": time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), "bid": 100.0, "ask": 101.0},
				{"time": time.Date(2025, 6, 2, 10, 0, 1, 0, time.UTC), "bid": 100.5, "ask": 101.5},
			},
		})
	}))
	defer srv.Close()

	ticks, err := newTestGateway(srv.URL).TicksRange(context.Background(), "WINM25", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("应返回 2 条 tick, 实际 %d", len(ticks))
	}
	for _, tick := range ticks {
		if tick.Symbol != "WINM25" {
			t.Fatalf("应回填符号, 实际 %s", tick.Symbol)
		}
	}
}

func TestGatewayBarsRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("timeframe"); got != "M1" {
			t.Fatalf("timeframe 参数不正确: %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"rates": []map[string]any{
				{"time": time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), "open": 100.0, "high": 102.0, "low": 99.0, "close": 101.0},
			},
		})
	}))
	defer srv.Close()

	bars, err := newTestGateway(srv.URL).BarsRange(context.Background(), "WINM25", TimeframeM1, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(bars) != 1 || bars[0].High != 102 {
		t.Fatalf("K 线解析不正确: %+v", bars)
	}
}

func TestParseHTTPError(t *testing.T) {
	err := parseHTTPError(400, []byte(`{"description":"bad symbol"}`))
	if err == nil || err.Error() != "gateway error (400): bad symbol" {
		t.Fatalf("应使用 description 字段, 实际 %v", err)
	}

	err = parseHTTPError(500, []byte("boom"))
	if err == nil || err.Error() != "gateway error (500): boom" {
		t.Fatalf("非 JSON 响应应原样返回, 实际 %v", err)
	}
}

func TestTickPriceFallsBackToMid(t *testing.T) {
	tick := Tick{Bid: 100, Ask: 102}
	if tick.Price() != 101 {
		t.Fatalf("无 last 时应回退到中间价, 实际 %v", tick.Price())
	}
	tick.Last = 99
	if tick.Price() != 99 {
		t.Fatalf("有 last 时应使用 last, 实际 %v", tick.Price())
	}
}
