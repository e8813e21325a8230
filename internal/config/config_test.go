package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("缺失配置文件应回退默认值: %v", err)
	}

	if cfg.App.Name != "duartescalper" {
		t.Fatalf("app.name 默认值不正确: %s", cfg.App.Name)
	}
	if len(cfg.Trading.Symbols) != 2 {
		t.Fatalf("默认应配置 2 个符号, 实际 %v", cfg.Trading.Symbols)
	}
	if cfg.Trading.MagicNumber != 778899 {
		t.Fatalf("magic_number 默认值不正确: %d", cfg.Trading.MagicNumber)
	}
	if cfg.Data.TickPollInterval != 10*time.Millisecond {
		t.Fatalf("tick_poll_interval 默认值不正确: %v", cfg.Data.TickPollInterval)
	}
	if cfg.Data.QueueCapacity != 50000 {
		t.Fatalf("queue_capacity 默认值不正确: %d", cfg.Data.QueueCapacity)
	}
	if cfg.Data.SaveInterval != time.Hour {
		t.Fatalf("save_interval 默认值不正确: %v", cfg.Data.SaveInterval)
	}

	if problems := cfg.Validate(); len(problems) != 0 {
		t.Fatalf("默认配置应通过校验: %v", problems)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
trading:
  symbols: ["WINQ25"]
  symbol_settings:
    WINQ25:
      tick_size: 5
data:
  historical_months: 3
  tick_poll_interval: 50ms
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if len(cfg.Trading.Symbols) != 1 || cfg.Trading.Symbols[0] != "WINQ25" {
		t.Fatalf("符号覆盖未生效: %v", cfg.Trading.Symbols)
	}
	if cfg.Data.HistoricalMonths != 3 {
		t.Fatalf("historical_months 覆盖未生效: %d", cfg.Data.HistoricalMonths)
	}
	if cfg.Data.TickPollInterval != 50*time.Millisecond {
		t.Fatalf("tick_poll_interval 覆盖未生效: %v", cfg.Data.TickPollInterval)
	}
	// Untouched sections keep their defaults.
	if cfg.Data.QueueCapacity != 50000 {
		t.Fatalf("未覆盖字段应保留默认值: %d", cfg.Data.QueueCapacity)
	}
}

func TestTickSizeResolution(t *testing.T) {
	trading := TradingConfig{
		DefaultTickSize: 0.5,
		SymbolSettings: map[string]SymbolConfig{
			"WDOM25": {TickSize: 5},
		},
	}

	if got := trading.TickSize("WDOM25"); got != 5 {
		t.Fatalf("符号覆盖的 tick_size 应为 5, 实际 %v", got)
	}
	if got := trading.TickSize("WINM25"); got != 0.5 {
		t.Fatalf("未覆盖符号应用默认 tick_size, 实际 %v", got)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	cfg.Trading.Symbols = nil
	cfg.Risk.MaxRiskPerTrade = 0.5
	cfg.ML.EnsembleWeights = map[string]float64{"lstm": 0.9}

	problems := cfg.Validate()
	if len(problems) != 3 {
		t.Fatalf("应报告 3 个问题, 实际 %d: %v", len(problems), problems)
	}
}

func TestDumpJSON(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "out", "config.json")
	if err := cfg.DumpJSON(path); err != nil {
		t.Fatalf("导出 JSON 失败: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("导出文件应存在: %v", err)
	}
}
