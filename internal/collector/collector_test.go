package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"duarte-scalper/internal/marketdata"
)

type fakeSink struct {
	failing bool
	ticks   map[string][]marketdata.Tick
	bars    map[string][]marketdata.Bar
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		ticks: make(map[string][]marketdata.Tick),
		bars:  make(map[string][]marketdata.Bar),
	}
}

func (s *fakeSink) WriteTicks(symbol, bucket string, ticks []marketdata.Tick) error {
	if s.failing {
		return errors.New("sink unavailable")
	}
	s.ticks[symbol] = append(s.ticks[symbol], ticks...)
	return nil
}

func (s *fakeSink) WriteBars(symbol, bucket string, bars []marketdata.Bar) error {
	if s.failing {
		return errors.New("sink unavailable")
	}
	s.bars[symbol] = append(s.bars[symbol], bars...)
	return nil
}

func newTestCollector(sink Sink) *Collector {
	return New(nil, nil, sink, nil, Options{
		Symbols:            []string{"WINM25"},
		TickBufferSize:     100,
		BarBufferSize:      50,
		BarRetainAfterSave: 5,
		MaxFlushFailures:   3,
	}, zerolog.Nop())
}

func TestProcessTickDirection(t *testing.T) {
	c := newTestCollector(newFakeSink())
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	c.processTick(marketdata.Tick{Symbol: "WINM25", Time: base, Bid: 100, Ask: 101, Last: 100})
	c.processTick(marketdata.Tick{Symbol: "WINM25", Time: base.Add(time.Second), Bid: 101, Ask: 102, Last: 101})
	c.processTick(marketdata.Tick{Symbol: "WINM25", Time: base.Add(2 * time.Second), Bid: 99, Ask: 100, Last: 99})

	got := c.states["WINM25"].ring.Snapshot()
	wantDir := []int{0, 1, -1}
	for i, tick := range got {
		if tick.Direction != wantDir[i] {
			t.Fatalf("第 %d 条方向应为 %d, 实际 %d", i, wantDir[i], tick.Direction)
		}
	}
}

func TestProcessTickResetsWireDirection(t *testing.T) {
	c := newTestCollector(newFakeSink())
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	// 网关推送可能自带 direction, 本地推导必须覆盖它
	c.processTick(marketdata.Tick{Symbol: "WINM25", Time: base, Bid: 100, Ask: 101, Last: 100, Direction: 1})
	c.processTick(marketdata.Tick{Symbol: "WINM25", Time: base.Add(time.Second), Bid: 100, Ask: 101, Last: 100, Direction: -1})

	got := c.states["WINM25"].ring.Snapshot()
	for i, tick := range got {
		if tick.Direction != 0 {
			t.Fatalf("第 %d 条价格未变, 方向应为 0, 实际 %d", i, tick.Direction)
		}
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	c := New(nil, nil, newFakeSink(), nil, Options{
		Symbols:       []string{"WINM25"},
		QueueCapacity: 50000,
	}, zerolog.Nop())
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	// 无 worker 消费, 队列满后必须丢弃而非阻塞
	for i := 0; i < 60000; i++ {
		c.enqueue(marketdata.Tick{Symbol: "WINM25", Time: base.Add(time.Duration(i) * time.Millisecond), Bid: 100, Ask: 101})
	}

	if got := len(c.queue); got != 50000 {
		t.Fatalf("队列应恰好容纳 50000 条, 实际 %d", got)
	}
	if got := c.Stats().DroppedTicks; got != 10000 {
		t.Fatalf("应丢弃 10000 条, 实际 %d", got)
	}
}

func TestProcessTickIgnoresUnknownSymbol(t *testing.T) {
	c := newTestCollector(newFakeSink())
	c.processTick(marketdata.Tick{Symbol: "OTHER", Time: time.Now(), Bid: 1, Ask: 2})
	if c.total != 0 {
		t.Fatalf("未配置的符号不应计数, 实际 %d", c.total)
	}
}

func TestFlushFailureRetainsBuffers(t *testing.T) {
	sink := newFakeSink()
	sink.failing = true
	c := newTestCollector(sink)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		c.processTick(marketdata.Tick{Symbol: "WINM25", Time: base.Add(time.Duration(i) * time.Second), Bid: 100, Ask: 101})
	}

	for i := 0; i < 3; i++ {
		c.flushAll(context.Background(), base, false)
	}

	st := c.states["WINM25"]
	if st.ring.Len() != 10 {
		t.Fatalf("落盘失败时应保留缓冲, 长度实际 %d", st.ring.Len())
	}
	if !st.degraded {
		t.Fatal("连续三次失败后应进入降级状态")
	}

	sink.failing = false
	c.flushAll(context.Background(), base, false)

	if st.ring.Len() != 0 {
		t.Fatalf("落盘成功后应清空 tick 缓冲, 实际 %d", st.ring.Len())
	}
	if st.degraded {
		t.Fatal("落盘成功后应解除降级")
	}
	if len(sink.ticks["WINM25"]) != 10 {
		t.Fatalf("写入的 tick 数应为 10, 实际 %d", len(sink.ticks["WINM25"]))
	}
}

func TestFinalFlushSealsOpenBar(t *testing.T) {
	sink := newFakeSink()
	c := newTestCollector(sink)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	c.processTick(marketdata.Tick{Symbol: "WINM25", Time: base, Bid: 100, Ask: 101})
	c.processTick(marketdata.Tick{Symbol: "WINM25", Time: base.Add(time.Second), Bid: 100, Ask: 101})

	c.flushAll(context.Background(), base, true)

	if len(sink.bars["WINM25"]) != 1 {
		t.Fatalf("最终落盘应封闭开放 K 线, 写入 K 线数实际 %d", len(sink.bars["WINM25"]))
	}
	if sink.bars["WINM25"][0].TickCount != 2 {
		t.Fatalf("封闭 K 线 tick 数应为 2, 实际 %d", sink.bars["WINM25"][0].TickCount)
	}
}

func TestBarRetainAfterSave(t *testing.T) {
	sink := newFakeSink()
	c := newTestCollector(sink)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	// Ten minutes of ticks seals nine bars, the tenth stays open.
	for i := 0; i < 10; i++ {
		c.processTick(marketdata.Tick{Symbol: "WINM25", Time: base.Add(time.Duration(i) * time.Minute), Bid: 100, Ask: 101})
	}

	st := c.states["WINM25"]
	if st.bars.Len() != 9 {
		t.Fatalf("应封闭 9 根 K 线, 实际 %d", st.bars.Len())
	}

	c.flushAll(context.Background(), base, false)
	if st.bars.Len() != 5 {
		t.Fatalf("落盘后应保留最近 %d 根, 实际 %d", c.opts.BarRetainAfterSave, st.bars.Len())
	}
}

func TestStatsSnapshot(t *testing.T) {
	c := newTestCollector(newFakeSink())
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	c.processTick(marketdata.Tick{Symbol: "WINM25", Time: base, Bid: 100, Ask: 102})

	stats := c.Stats()
	if stats.TotalTicks != 1 {
		t.Fatalf("总 tick 数应为 1, 实际 %d", stats.TotalTicks)
	}
	sym, ok := stats.Symbols["WINM25"]
	if !ok {
		t.Fatal("统计中应包含配置的符号")
	}
	if sym.AvgSpread != 2 {
		t.Fatalf("平均点差应为 2, 实际 %v", sym.AvgSpread)
	}
	if !sym.LastTickTime.Equal(base) {
		t.Fatalf("最后 tick 时间不正确: %v", sym.LastTickTime)
	}
}
