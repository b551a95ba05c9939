// Package config defines all configuration for the auction trading core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via AUCTION_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Instrument InstrumentConfig `mapstructure:"instrument"`
	ValueArea  ValueAreaConfig  `mapstructure:"value_area"`
	OrderFlow  OrderFlowConfig  `mapstructure:"order_flow"`
	Signal     SignalConfig     `mapstructure:"signal"`
	Sizing     SizingConfig     `mapstructure:"sizing"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	Database   DatabaseConfig   `mapstructure:"database"`
	API        APIConfig        `mapstructure:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
}

// InstrumentConfig describes the single symbol the core trades.
type InstrumentConfig struct {
	Symbol               string `mapstructure:"symbol"`
	Exchange             string `mapstructure:"exchange"`
	Timeframe            string `mapstructure:"timeframe"`
	TickSize             float64 `mapstructure:"tick_size"`
	RollingWindowMinutes int    `mapstructure:"rolling_window_minutes"`
}

// ValueAreaConfig tunes the volume-profile / value-area computation.
type ValueAreaConfig struct {
	VAFraction             float64 `mapstructure:"va_fraction"`
	BaseBinTicks           int     `mapstructure:"base_bin_ticks"`
	AlphaBin               float64 `mapstructure:"alpha_bin"`
	BinWidthMaxTicks       int     `mapstructure:"bin_width_max_ticks"`
	RebucketIntervalMinutes int    `mapstructure:"rebucket_interval_minutes"`
	RebucketChangePct      float64 `mapstructure:"rebucket_change_pct"`
	MinVABins              int     `mapstructure:"min_va_bins"`
}

// OrderFlowConfig tunes trade classification and the QIMB EMA.
type OrderFlowConfig struct {
	MaxQuoteStalenessMs    int     `mapstructure:"max_quote_staleness_ms"`
	AmbiguousTradeFracMax  float64 `mapstructure:"ambiguous_trade_frac_max"`
	UseTickRuleFallback    bool    `mapstructure:"use_tick_rule_fallback"`
	UseQIMB                bool    `mapstructure:"use_qimb"`
	QIMBEntryMin           float64 `mapstructure:"qimb_entry_min"`
	QIMBBreakoutMin        float64 `mapstructure:"qimb_breakout_min"`
	QIMBFailMax            float64 `mapstructure:"qimb_fail_max"`
	SpreadLookbackMinutes  int     `mapstructure:"spread_lookback_minutes"`
}

// SignalConfig tunes the order-flow gate and acceptance threshold.
type SignalConfig struct {
	OFEntryMin          float64 `mapstructure:"of_entry_min"`
	OFEntryMinNorm      float64 `mapstructure:"of_entry_min_norm"`
	OFBreakoutMin       float64 `mapstructure:"of_breakout_min"`
	OFBreakoutMinNorm   float64 `mapstructure:"of_breakout_min_norm"`
	OFFailMax           float64 `mapstructure:"of_fail_max"`
	OFFailMaxNorm       float64 `mapstructure:"of_fail_max_norm"`
	AcceptOutsideK      int     `mapstructure:"accept_outside_k"`
	EnableRetestMode    bool    `mapstructure:"enable_retest_mode"`
	EnableFlipOnSignal  bool    `mapstructure:"enable_flip_on_signal"`
}

// SizingConfig tunes risk-based position sizing and partial exits.
type SizingConfig struct {
	RiskPct                    float64 `mapstructure:"risk_pct"`
	MaxLeverage                float64 `mapstructure:"max_leverage"`
	TP1Pct                     float64 `mapstructure:"tp1_pct"`
	TP2Pct                     float64 `mapstructure:"tp2_pct"`
	MoveStopToBreakevenAfterTP1 bool   `mapstructure:"move_stop_to_breakeven_after_tp1"`
}

// RiskConfig sets hold-time, cooldown, stop buffer, and daily-loss limits.
// MaxDailyLoss of 0 means no daily-loss gate is enforced.
type RiskConfig struct {
	MaxHoldMinutes     int     `mapstructure:"max_hold_minutes"`
	ExtendIfProfitable bool    `mapstructure:"extend_if_profitable"`
	CooldownMinutes    int     `mapstructure:"cooldown_minutes"`
	StopBufferTicks    int     `mapstructure:"stop_buffer_ticks"`
	MaxDailyLoss       float64 `mapstructure:"max_daily_loss"`
}

// ExecutionConfig tunes the limit-with-timeout execution protocol and fees.
type ExecutionConfig struct {
	UseLimitForEntry        bool    `mapstructure:"use_limit_for_entry"`
	LimitOrderTimeoutMinutes int    `mapstructure:"limit_order_timeout_minutes"`
	SlippageTicksEntry       int    `mapstructure:"slippage_ticks_entry"`
	SlippageTicksExit        int    `mapstructure:"slippage_ticks_exit"`
	TakerFeeBps              float64 `mapstructure:"taker_fee_bps"`
	MakerFeeBps              float64 `mapstructure:"maker_fee_bps"`
}

// BacktestConfig tunes paper/backtest-only behavior.
type BacktestConfig struct {
	FundingRate8hBps float64 `mapstructure:"funding_rate_8h_bps"`
	InitialCapital   float64 `mapstructure:"initial_capital"`
	Workers          int     `mapstructure:"workers"`
}

// DatabaseConfig points at the SQLite-backed persistence layer.
type DatabaseConfig struct {
	DataDir string `mapstructure:"data_dir"`
	DBFile  string `mapstructure:"db_file"`
}

// APIConfig holds Bybit v5 endpoints and API credentials.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	WSPublicURL string       `mapstructure:"ws_public_url"`
	Testnet    bool          `mapstructure:"testnet"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	RecvWindow time.Duration `mapstructure:"recv_window"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only HTTP surface (snapshots + metrics).
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: AUCTION_API_KEY, AUCTION_API_SECRET.
// path falls back to AUCTION_TRADER_CONFIG then "configs/config.yaml" when empty.
func Load(path string) (*Config, error) {
	if path == "" {
		if envPath := os.Getenv("AUCTION_TRADER_CONFIG"); envPath != "" {
			path = envPath
		} else {
			path = "configs/config.yaml"
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("AUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("AUCTION_API_KEY"); key != "" {
		cfg.API.APIKey = key
	}
	if secret := os.Getenv("AUCTION_API_SECRET"); secret != "" {
		cfg.API.APISecret = secret
	}
	if os.Getenv("AUCTION_DRY_RUN") == "true" || os.Getenv("AUCTION_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instrument.symbol", "BTCUSDT")
	v.SetDefault("instrument.exchange", "bybit")
	v.SetDefault("instrument.timeframe", "1m")
	v.SetDefault("instrument.tick_size", 0.1)
	v.SetDefault("instrument.rolling_window_minutes", 240)

	v.SetDefault("value_area.va_fraction", 0.70)
	v.SetDefault("value_area.base_bin_ticks", 1)
	v.SetDefault("value_area.alpha_bin", 0.25)
	v.SetDefault("value_area.bin_width_max_ticks", 200)
	v.SetDefault("value_area.rebucket_interval_minutes", 15)
	v.SetDefault("value_area.rebucket_change_pct", 0.25)
	v.SetDefault("value_area.min_va_bins", 20)

	v.SetDefault("order_flow.max_quote_staleness_ms", 250)
	v.SetDefault("order_flow.ambiguous_trade_frac_max", 0.35)
	v.SetDefault("order_flow.use_tick_rule_fallback", true)
	v.SetDefault("order_flow.use_qimb", true)
	v.SetDefault("order_flow.qimb_entry_min", 0.10)
	v.SetDefault("order_flow.qimb_breakout_min", 0.10)
	v.SetDefault("order_flow.qimb_fail_max", -0.10)
	v.SetDefault("order_flow.spread_lookback_minutes", 60)

	v.SetDefault("signal.of_entry_min", 0.0)
	v.SetDefault("signal.of_entry_min_norm", 0.1)
	v.SetDefault("signal.of_breakout_min", 0.0)
	v.SetDefault("signal.of_breakout_min_norm", 0.1)
	v.SetDefault("signal.of_fail_max", 0.0)
	v.SetDefault("signal.of_fail_max_norm", -0.1)
	v.SetDefault("signal.accept_outside_k", 3)
	v.SetDefault("signal.enable_retest_mode", true)
	v.SetDefault("signal.enable_flip_on_signal", true)

	v.SetDefault("sizing.risk_pct", 0.02)
	v.SetDefault("sizing.max_leverage", 10.0)
	v.SetDefault("sizing.tp1_pct", 0.30)
	v.SetDefault("sizing.tp2_pct", 0.70)
	v.SetDefault("sizing.move_stop_to_breakeven_after_tp1", true)

	v.SetDefault("risk.max_hold_minutes", 60)
	v.SetDefault("risk.extend_if_profitable", true)
	v.SetDefault("risk.cooldown_minutes", 3)
	v.SetDefault("risk.stop_buffer_ticks", 2)
	v.SetDefault("risk.max_daily_loss", 0)

	v.SetDefault("execution.use_limit_for_entry", true)
	v.SetDefault("execution.limit_order_timeout_minutes", 1)
	v.SetDefault("execution.slippage_ticks_entry", 1)
	v.SetDefault("execution.slippage_ticks_exit", 1)
	v.SetDefault("execution.taker_fee_bps", 5.0)
	v.SetDefault("execution.maker_fee_bps", -1.0)

	v.SetDefault("backtest.funding_rate_8h_bps", 1.0)
	v.SetDefault("backtest.initial_capital", 10000.0)
	v.SetDefault("backtest.workers", 0)

	v.SetDefault("database.data_dir", "./data")
	v.SetDefault("database.db_file", "auction_trader.db")

	v.SetDefault("api.base_url", "https://api.bybit.com")
	v.SetDefault("api.ws_public_url", "wss://stream.bybit.com/v5/public/linear")
	v.SetDefault("api.testnet", false)
	v.SetDefault("api.recv_window", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8090)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Instrument.Symbol == "" {
		return fmt.Errorf("instrument.symbol is required")
	}
	if c.Instrument.TickSize <= 0 {
		return fmt.Errorf("instrument.tick_size must be > 0")
	}
	if c.Instrument.RollingWindowMinutes <= 0 {
		return fmt.Errorf("instrument.rolling_window_minutes must be > 0")
	}
	if c.ValueArea.VAFraction <= 0 || c.ValueArea.VAFraction > 1 {
		return fmt.Errorf("value_area.va_fraction must be in (0, 1]")
	}
	if c.ValueArea.MinVABins <= 0 {
		return fmt.Errorf("value_area.min_va_bins must be > 0")
	}
	if c.Signal.AcceptOutsideK <= 0 {
		return fmt.Errorf("signal.accept_outside_k must be > 0")
	}
	if c.Sizing.RiskPct <= 0 || c.Sizing.RiskPct > 1 {
		return fmt.Errorf("sizing.risk_pct must be in (0, 1]")
	}
	if c.Sizing.MaxLeverage <= 0 {
		return fmt.Errorf("sizing.max_leverage must be > 0")
	}
	if c.Sizing.TP1Pct <= 0 || c.Sizing.TP1Pct >= 1 {
		return fmt.Errorf("sizing.tp1_pct must be in (0, 1)")
	}
	if c.Risk.MaxHoldMinutes <= 0 {
		return fmt.Errorf("risk.max_hold_minutes must be > 0")
	}
	if c.Risk.MaxDailyLoss < 0 {
		return fmt.Errorf("risk.max_daily_loss must be >= 0")
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be > 0")
	}
	if !c.DryRun {
		if c.API.APIKey == "" {
			return fmt.Errorf("api.api_key is required in live mode (set AUCTION_API_KEY)")
		}
		if c.API.APISecret == "" {
			return fmt.Errorf("api.api_secret is required in live mode (set AUCTION_API_SECRET)")
		}
	}
	return nil
}
