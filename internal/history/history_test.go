package history

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"duarte-scalper/internal/marketdata"
	"duarte-scalper/internal/storage"
)

type fakeProvider struct {
	ticks     []marketdata.Tick
	bars      []marketdata.Bar
	tickErr   error
	barErr    error
	tickCalls int
}

func (p *fakeProvider) Connect(ctx context.Context) error { return nil }
func (p *fakeProvider) Close() error                      { return nil }

func (p *fakeProvider) SymbolInfo(ctx context.Context, symbol string) (marketdata.SymbolInfo, error) {
	return marketdata.SymbolInfo{Symbol: symbol, TickSize: 0.5, Digits: 0}, nil
}

func (p *fakeProvider) LatestTick(ctx context.Context, symbol string) (marketdata.Tick, error) {
	return marketdata.Tick{}, marketdata.ErrNoTick
}

func (p *fakeProvider) TicksRange(ctx context.Context, symbol string, from, to time.Time) ([]marketdata.Tick, error) {
	p.tickCalls++
	if p.tickErr != nil {
		return nil, p.tickErr
	}
	return p.ticks, nil
}

func (p *fakeProvider) BarsRange(ctx context.Context, symbol string, timeframe marketdata.Timeframe, from, to time.Time) ([]marketdata.Bar, error) {
	if p.barErr != nil {
		return nil, p.barErr
	}
	return p.bars, nil
}

var _ marketdata.Provider = (*fakeProvider)(nil)

func sampleTicks() []marketdata.Tick {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	return []marketdata.Tick{
		{Symbol: "WINM25", Time: base.Add(2 * time.Second), Bid: 101, Ask: 102, Last: 101},
		{Symbol: "WINM25", Time: base, Bid: 100, Ask: 101, Last: 100},
		{Symbol: "WINM25", Time: base, Bid: 100, Ask: 101, Last: 100},
		{Symbol: "WINM25", Time: base.Add(time.Second), Bid: 102, Ask: 103, Last: 102},
	}
}

func sampleBars() []marketdata.Bar {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	return []marketdata.Bar{
		{Symbol: "WINM25", Time: base.Add(time.Minute), Open: 101, High: 103, Low: 100, Close: 102},
		{Symbol: "WINM25", Time: base, Open: 100, High: 102, Low: 99, Close: 101},
	}
}

func testOptions() Options {
	return Options{
		Symbols:       []string{"WINM25"},
		Months:        1,
		ChunkHours:    24 * 31,
		Retries:       2,
		RetryBackoff:  time.Millisecond,
		RatePerSecond: 10000,
	}
}

func newTestCollector(t *testing.T, provider marketdata.Provider, opts Options) *Collector {
	t.Helper()
	sink := storage.NewParquetSink(t.TempDir(), zerolog.Nop())
	return New(provider, sink, nil, opts, zerolog.Nop())
}

func TestDedupeSort(t *testing.T) {
	in := sampleTicks()
	out := DedupeSort(in)
	if len(out) != 3 {
		t.Fatalf("去重后应剩 3 条, 实际 %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Time.Before(out[i-1].Time) {
			t.Fatalf("去重后应按时间排序: %v 在 %v 之后", out[i].Time, out[i-1].Time)
		}
	}

	// Re-running over already-clean data changes nothing.
	again := DedupeSort(out)
	if len(again) != 3 {
		t.Fatalf("重复去重应幂等, 实际 %d", len(again))
	}

	// The caller's slice stays intact.
	want := sampleTicks()
	for i := range want {
		if in[i] != want[i] {
			t.Fatalf("输入切片第 %d 条被修改: %+v", i, in[i])
		}
	}
}

func TestAssignDirections(t *testing.T) {
	base := time.Now()
	ticks := []marketdata.Tick{
		{Time: base, Last: 100, Bid: 100, Ask: 101},
		{Time: base.Add(time.Second), Last: 101, Bid: 101, Ask: 102},
		{Time: base.Add(2 * time.Second), Last: 101, Bid: 101, Ask: 102},
		{Time: base.Add(3 * time.Second), Last: 99, Bid: 99, Ask: 100},
	}
	AssignDirections(ticks)

	want := []int{0, 1, 0, -1}
	for i, tick := range ticks {
		if tick.Direction != want[i] {
			t.Fatalf("第 %d 条方向应为 %d, 实际 %d", i, want[i], tick.Direction)
		}
	}
}

func TestDateRange(t *testing.T) {
	c := newTestCollector(t, &fakeProvider{}, testOptions())
	now := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	from, to := c.DateRange(now)

	if from.Hour() != 9 || from.Minute() != 0 {
		t.Fatalf("起点应对齐 09:00, 实际 %v", from)
	}
	if to.Hour() != 23 || to.Second() != 59 {
		t.Fatalf("终点应为 23:59:59, 实际 %v", to)
	}
	if days := to.Sub(from).Hours() / 24; days < 29 || days > 32 {
		t.Fatalf("1 个月窗口应约 30 天, 实际 %.1f 天", days)
	}
}

func TestCollectAllSuccess(t *testing.T) {
	provider := &fakeProvider{ticks: sampleTicks(), bars: sampleBars()}
	c := newTestCollector(t, provider, testOptions())

	results, err := c.CollectAll(context.Background())
	if err != nil {
		t.Fatalf("采集不应报错: %v", err)
	}

	r := results["WINM25"]
	if r.Status != StatusSuccess {
		t.Fatalf("状态应为 success, 实际 %s", r.Status)
	}
	if r.TickRows != 3 {
		t.Fatalf("去重后 tick 行数应为 3, 实际 %d", r.TickRows)
	}
	if r.BarRows != 2 {
		t.Fatalf("K 线行数应为 2, 实际 %d", r.BarRows)
	}
	if r.Info.TickSize != 0.5 {
		t.Fatalf("应记录符号元数据, tick_size 实际 %v", r.Info.TickSize)
	}
}

func TestCollectAllPartialOnTickFailure(t *testing.T) {
	provider := &fakeProvider{tickErr: errors.New("gateway timeout"), bars: sampleBars()}
	c := newTestCollector(t, provider, testOptions())

	results, err := c.CollectAll(context.Background())
	if err != nil {
		t.Fatalf("部分失败不应中断采集: %v", err)
	}

	r := results["WINM25"]
	if r.Status != StatusPartial {
		t.Fatalf("状态应为 partial, 实际 %s", r.Status)
	}
	if r.TicksOK {
		t.Fatal("tick 采集应标记失败")
	}
	if !r.BarsOK {
		t.Fatal("K 线采集应成功")
	}
	if provider.tickCalls != 2 {
		t.Fatalf("应重试 %d 次, 实际 %d", 2, provider.tickCalls)
	}
}

func TestCollectAllFailed(t *testing.T) {
	provider := &fakeProvider{tickErr: errors.New("down"), barErr: errors.New("down")}
	c := newTestCollector(t, provider, testOptions())

	results, err := c.CollectAll(context.Background())
	if err != nil {
		t.Fatalf("采集循环本身不应报错: %v", err)
	}
	if results["WINM25"].Status != StatusFailed {
		t.Fatalf("状态应为 failed, 实际 %s", results["WINM25"].Status)
	}
}

func TestReport(t *testing.T) {
	results := map[string]Result{
		"WINM25": {Symbol: "WINM25", Status: StatusSuccess, TickRows: 1000, BarRows: 500, TicksOK: true, BarsOK: true},
		"WDOM25": {Symbol: "WDOM25", Status: StatusFailed, Error: "gateway down"},
	}
	report := Report(results, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))

	for _, want := range []string{"WINM25 [success]", "WDOM25 [failed]", "1000 rows", "gateway down"} {
		if !strings.Contains(report, want) {
			t.Fatalf("报告应包含 %q:\n%s", want, report)
		}
	}
}
