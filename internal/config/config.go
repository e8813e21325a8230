package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"duarte-scalper/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Trading       TradingConfig       `mapstructure:"trading"`
	Risk          RiskConfig          `mapstructure:"risk"`
	Data          DataConfig          `mapstructure:"data"`
	ML            MLConfig            `mapstructure:"ml"`
	Communication CommunicationConfig `mapstructure:"communication"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Paths         PathsConfig         `mapstructure:"paths"`
	Export        ExportConfig        `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// TradingConfig identifies the strategy and its instruments.
type TradingConfig struct {
	Symbols               []string                `mapstructure:"symbols"`
	MagicNumber           int64                   `mapstructure:"magic_number"`
	RobotName             string                  `mapstructure:"robot_name"`
	DefaultLotSize        float64                 `mapstructure:"default_lot_size"`
	MaxPositionsPerSymbol int                     `mapstructure:"max_positions_per_symbol"`
	DefaultTickSize       float64                 `mapstructure:"default_tick_size"`
	SymbolSettings        map[string]SymbolConfig `mapstructure:"symbol_settings"`
}

// SymbolConfig carries per-symbol overrides.
type SymbolConfig struct {
	TickSize float64 `mapstructure:"tick_size"`
	LotSize  float64 `mapstructure:"lot_size"`
}

// TickSize resolves the minimum price increment for a symbol. Viper
// lowercases map keys read from files, so the lookup tries both spellings.
func (t TradingConfig) TickSize(symbol string) float64 {
	if sc, ok := t.SymbolSettings[symbol]; ok && sc.TickSize > 0 {
		return sc.TickSize
	}
	if sc, ok := t.SymbolSettings[strings.ToLower(symbol)]; ok && sc.TickSize > 0 {
		return sc.TickSize
	}
	return t.DefaultTickSize
}

// RiskConfig holds risk limits. Validated but not enforced here; the
// execution side is out of scope.
type RiskConfig struct {
	MaxRiskPerTrade     float64       `mapstructure:"max_risk_per_trade"`
	MaxDailyLoss        float64       `mapstructure:"max_daily_loss"`
	MaxConsecutiveLoss  int           `mapstructure:"max_consecutive_losses"`
	MaxPositionTime     time.Duration `mapstructure:"max_position_time"`
	CoolDownAfterLimit  time.Duration `mapstructure:"cool_down_after_limit"`
}

// DataConfig governs collection cadence and buffering.
type DataConfig struct {
	HistoricalMonths   int           `mapstructure:"historical_months"`
	TickPollInterval   time.Duration `mapstructure:"tick_poll_interval"`
	OHLCTimeframes     []string      `mapstructure:"ohlc_timeframes"`
	SaveInterval       time.Duration `mapstructure:"save_interval"`
	StatsInterval      time.Duration `mapstructure:"stats_interval"`
	TickBufferSize     int           `mapstructure:"tick_buffer_size"`
	QueueCapacity      int           `mapstructure:"queue_capacity"`
	BarBufferSize      int           `mapstructure:"bar_buffer_size"`
	BarRetainAfterSave int           `mapstructure:"bar_retain_after_save"`
	ChunkHours         int           `mapstructure:"chunk_hours"`
	FetchRetries       int           `mapstructure:"fetch_retries"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	ChunkRatePerSecond float64       `mapstructure:"chunk_rate_per_second"`
}

// MLConfig describes the downstream model ensemble. Only validated here;
// training and inference live outside this repository.
type MLConfig struct {
	EnsembleWeights map[string]float64 `mapstructure:"ensemble_weights"`
	Training        TrainingConfig     `mapstructure:"training"`
	Prediction      PredictionConfig   `mapstructure:"prediction"`
}

// TrainingConfig mirrors the trainer's expectations.
type TrainingConfig struct {
	ValidationSplit float64 `mapstructure:"validation_split"`
	Epochs          int     `mapstructure:"epochs"`
	BatchSize       int     `mapstructure:"batch_size"`
	RetrainInterval int     `mapstructure:"retrain_interval_days"`
}

// PredictionConfig mirrors the predictor's expectations.
type PredictionConfig struct {
	MinConfidence    float64 `mapstructure:"min_confidence"`
	SignalTimeframes []int   `mapstructure:"signal_timeframes"`
}

// CommunicationConfig covers the bridge to the terminal-side runtime.
type CommunicationConfig struct {
	Method        string        `mapstructure:"method"`
	PipeName      string        `mapstructure:"pipe_name"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxBufferSize int           `mapstructure:"max_buffer_size"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
}

// GatewayConfig covers terminal gateway connectivity.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	StreamURL      string        `mapstructure:"stream_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the run catalog.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// PathsConfig locates on-disk data.
type PathsConfig struct {
	DataRoot       string `mapstructure:"data_root"`
	RawHistorical  string `mapstructure:"raw_historical"`
	RawLive        string `mapstructure:"raw_live"`
	Features       string `mapstructure:"features"`
	Models         string `mapstructure:"models"`
	Logs           string `mapstructure:"logs"`
	Reports        string `mapstructure:"reports"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults. A missing
// or unparsable file falls back to the embedded defaults; that is not an
// error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DUARTESCALPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}

	readConfig(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) {
	// Parse failures intentionally fall through to defaults.
	_ = v.ReadInConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "duartescalper")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("trading.symbols", []string{"WINM25", "WDOM25"})
	v.SetDefault("trading.magic_number", int64(778899))
	v.SetDefault("trading.robot_name", "DUARTE-SCALPER")
	v.SetDefault("trading.default_lot_size", 1.0)
	v.SetDefault("trading.max_positions_per_symbol", 3)
	v.SetDefault("trading.default_tick_size", 0.5)

	v.SetDefault("risk.max_risk_per_trade", 0.01)
	v.SetDefault("risk.max_daily_loss", 0.03)
	v.SetDefault("risk.max_consecutive_losses", 5)
	v.SetDefault("risk.max_position_time", "10m")
	v.SetDefault("risk.cool_down_after_limit", "1h")

	v.SetDefault("data.historical_months", 6)
	v.SetDefault("data.tick_poll_interval", "10ms")
	v.SetDefault("data.ohlc_timeframes", []string{"M1"})
	v.SetDefault("data.save_interval", "1h")
	v.SetDefault("data.stats_interval", "1s")
	v.SetDefault("data.tick_buffer_size", 10000)
	v.SetDefault("data.queue_capacity", 50000)
	v.SetDefault("data.bar_buffer_size", 1440)
	v.SetDefault("data.bar_retain_after_save", 100)
	v.SetDefault("data.chunk_hours", 24)
	v.SetDefault("data.fetch_retries", 3)
	v.SetDefault("data.retry_backoff", "5s")
	v.SetDefault("data.chunk_rate_per_second", 1.0)

	v.SetDefault("ml.ensemble_weights", map[string]float64{
		"lstm":          0.40,
		"xgboost":       0.35,
		"random_forest": 0.25,
	})
	v.SetDefault("ml.training.validation_split", 0.2)
	v.SetDefault("ml.training.epochs", 100)
	v.SetDefault("ml.training.batch_size", 32)
	v.SetDefault("ml.training.retrain_interval_days", 1)
	v.SetDefault("ml.prediction.min_confidence", 0.7)
	v.SetDefault("ml.prediction.signal_timeframes", []int{10, 30, 60, 300})

	v.SetDefault("communication.method", "named_pipes")
	v.SetDefault("communication.pipe_name", `\\.\pipe\duarte_scalper`)
	v.SetDefault("communication.timeout", "1s")
	v.SetDefault("communication.max_buffer_size", 1024)
	v.SetDefault("communication.metrics_addr", "")

	v.SetDefault("gateway.base_url", "http://127.0.0.1:6542/api/v1")
	v.SetDefault("gateway.request_timeout", "10s")
	v.SetDefault("gateway.user_agent", "duartescalper/1.0")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x64756172))

	v.SetDefault("paths.data_root", "data")
	v.SetDefault("paths.raw_historical", "data/raw/historical")
	v.SetDefault("paths.raw_live", "data/raw/live")
	v.SetDefault("paths.features", "data/features")
	v.SetDefault("paths.models", "data/models")
	v.SetDefault("paths.logs", "logs")
	v.SetDefault("paths.reports", "logs/reports")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate reports configuration problems as a list. The caller decides
// whether any of them are fatal.
func (c *Config) Validate() []string {
	var problems []string

	if len(c.Trading.Symbols) == 0 {
		problems = append(problems, "trading.symbols: at least one symbol required")
	}
	if c.Trading.MagicNumber <= 0 {
		problems = append(problems, "trading.magic_number must be greater than zero")
	}
	if c.Risk.MaxRiskPerTrade <= 0 || c.Risk.MaxRiskPerTrade > 0.10 {
		problems = append(problems, "risk.max_risk_per_trade must be in (0, 0.10]")
	}
	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss > 0.20 {
		problems = append(problems, "risk.max_daily_loss must be in (0, 0.20]")
	}

	var weightSum float64
	for _, w := range c.ML.EnsembleWeights {
		weightSum += w
	}
	if math.Abs(weightSum-1.0) > 0.01 {
		problems = append(problems, fmt.Sprintf("ml.ensemble_weights must sum to 1.0 (got %.4f)", weightSum))
	}

	if c.Data.TickPollInterval <= 0 {
		problems = append(problems, "data.tick_poll_interval must be greater than zero")
	}
	if c.Data.QueueCapacity <= 0 {
		problems = append(problems, "data.queue_capacity must be greater than zero")
	}
	if c.Data.TickBufferSize <= 0 {
		problems = append(problems, "data.tick_buffer_size must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		problems = append(problems, "export.max_data_points must be greater than zero")
	}

	return problems
}

// EnsureDirs creates every configured data directory.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.Paths.DataRoot,
		c.Paths.RawHistorical,
		c.Paths.RawLive,
		c.Paths.Features,
		c.Paths.Models,
		c.Paths.Logs,
		c.Paths.Reports,
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// DumpJSON writes the effective configuration to a JSON file for debugging.
func (c *Config) DumpJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeJSONFile(path, c)
}
