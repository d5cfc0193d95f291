// Package ops loads and validates the process configuration.
package ops

import (
	"time"

	"github.com/spf13/viper"
	"github.com/yanun0323/errors"

	"hybrid-scalper/internal/execution"
	"hybrid-scalper/internal/schema"
	"hybrid-scalper/internal/signalgen"
	"hybrid-scalper/internal/strategy"
	"hybrid-scalper/internal/trend"
)

// Trend feed modes.
const (
	TrendModeSimulated = "simulated"
	TrendModeLive      = "live"
)

// ExchangeConfig describes the exchange connection.
type ExchangeConfig struct {
	Name      string `mapstructure:"name"`
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
	WSURL     string `mapstructure:"ws_url"`
	RESTURL   string `mapstructure:"rest_url"`
}

// TrendConfig groups the sentiment side: aggregation window plus the feed
// to run. Simulated mode is deterministic per seed.
type TrendConfig struct {
	Mode        string           `mapstructure:"mode"`
	Seed        int64            `mapstructure:"seed"`
	SimInterval time.Duration    `mapstructure:"sim_interval"`
	Aggregator  trend.Config     `mapstructure:"aggregator"`
	News        trend.NewsConfig `mapstructure:"news"`
}

// BroadcastConfig controls the state websocket endpoint.
type BroadcastConfig struct {
	Addr     string        `mapstructure:"addr"`
	Interval time.Duration `mapstructure:"interval"`
}

// PersistenceConfig points at the state database. Empty DSN keeps state
// memory-only.
type PersistenceConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServerAddress string `mapstructure:"server_address"`
	AppName       string `mapstructure:"app_name"`
}

// Config is the resolved process configuration.
type Config struct {
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Symbols     []string          `mapstructure:"symbols"`
	Signal      signalgen.Config  `mapstructure:"signal"`
	Trend       TrendConfig       `mapstructure:"trend"`
	Strategy    strategy.Config   `mapstructure:"strategy"`
	Risk        schema.RiskConfig `mapstructure:"risk"`
	Execution   execution.Config  `mapstructure:"execution"`
	Broadcast   BroadcastConfig   `mapstructure:"broadcast"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Profiling   ProfilingConfig   `mapstructure:"profiling"`
}

// Load reads the YAML config at path, fills defaults and validates.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configs the pipeline cannot start with.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.New("at least one symbol required")
	}
	if err := c.Risk.Validate(); err != nil {
		return errors.Wrap(err, "risk config")
	}
	switch c.Trend.Mode {
	case TrendModeSimulated, TrendModeLive:
	default:
		return errors.Errorf("unknown trend mode %q", c.Trend.Mode)
	}
	if c.Trend.Mode == TrendModeLive && c.Trend.News.URL == "" {
		return errors.New("live trend mode requires a news url")
	}
	if c.Broadcast.Interval <= 0 {
		return errors.New("broadcast interval must be > 0")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbols", []string{"BTCUSDT"})

	sig := signalgen.DefaultConfig()
	v.SetDefault("signal.top_k", sig.TopK)
	v.SetDefault("signal.long_threshold", sig.LongThreshold)

	v.SetDefault("trend.mode", TrendModeSimulated)
	v.SetDefault("trend.seed", 42)
	v.SetDefault("trend.sim_interval", "2s")
	agg := trend.DefaultConfig()
	v.SetDefault("trend.aggregator.staleness_window", agg.StalenessWindow.String())
	v.SetDefault("trend.aggregator.capacity", agg.Capacity)
	v.SetDefault("trend.news.poll_interval", "15s")

	str := strategy.DefaultConfig()
	v.SetDefault("strategy.dominance_threshold", str.DominanceThreshold)
	v.SetDefault("strategy.trend_threshold", str.TrendThreshold)
	v.SetDefault("strategy.market_weight", str.MarketWeight)
	v.SetDefault("strategy.trend_weight", str.TrendWeight)
	v.SetDefault("strategy.disagreement_penalty", str.DisagreementPenalty)
	v.SetDefault("strategy.base_risk_quote", str.BaseRiskQuote)
	v.SetDefault("strategy.cooldown", str.Cooldown.String())

	v.SetDefault("risk.daily_loss_limit", 200.0)
	v.SetDefault("risk.max_risk_per_trade", 50.0)
	v.SetDefault("risk.max_positions", 3)
	v.SetDefault("risk.max_slippage_bps", 100.0)
	v.SetDefault("risk.take_profit_bps", 25.0)
	v.SetDefault("risk.stop_loss_bps", 18.0)

	exe := execution.DefaultConfig()
	v.SetDefault("execution.max_attempts", exe.MaxAttempts)
	v.SetDefault("execution.retry_base_delay", exe.RetryBaseDelay.String())
	v.SetDefault("execution.retry_max_delay", exe.RetryMaxDelay.String())
	v.SetDefault("execution.fill_timeout", exe.FillTimeout.String())

	v.SetDefault("broadcast.addr", ":8089")
	v.SetDefault("broadcast.interval", "1s")
}
