// Package config defines all configuration for the pair execution engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via FARM_* environment variables.
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
	DryRun    bool            `mapstructure:"dry_run"`
	API       APIConfig       `mapstructure:"api"`
	Pair      PairConfig      `mapstructure:"pair"`
	Fees      FeeConfig       `mapstructure:"fees"`
	Gate      GateConfig      `mapstructure:"gate"`
	Sizing    SizingConfig    `mapstructure:"sizing"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Log       LogConfig       `mapstructure:"log"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig holds venue endpoints and L2 credentials.
type APIConfig struct {
	RESTBaseURL string `mapstructure:"rest_base_url"`
	WSMarketURL string `mapstructure:"ws_market_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
}

// PairConfig selects the two legs and the shared capital parameters.
//
//   - NotionalUSD is the pair target; each leg trades half of it.
//   - Leverage is the isolated-margin divisor; it affects margin posted per
//     order and funding PnL only, never sizing.
//   - ReverseDirection swaps which leg is bought vs sold each cycle
//     (default: leg A bought, leg B sold).
type PairConfig struct {
	LegATicker   string  `mapstructure:"leg_a_ticker"`
	LegAContract string  `mapstructure:"leg_a_contract"`
	LegATick     float64 `mapstructure:"leg_a_tick"`

	LegBTicker   string  `mapstructure:"leg_b_ticker"`
	LegBContract string  `mapstructure:"leg_b_contract"`
	LegBTick     float64 `mapstructure:"leg_b_tick"`

	NotionalUSD      float64 `mapstructure:"notional_usd"`
	Leverage         float64 `mapstructure:"leverage"`
	ReverseDirection bool    `mapstructure:"reverse_direction"`
}

// FeeConfig expresses venue fees in basis points of notional.
// These are configuration, not constants: venues reprice tiers.
type FeeConfig struct {
	TakerBps float64 `mapstructure:"taker_bps"` // IOC fills
	MakerBps float64 `mapstructure:"maker_bps"` // POST_ONLY fills
}

// GateConfig tunes the pre-trade spread filter.
//
//   - MinSpreadBps: combined pair spread below this blocks BUILD. With taker
//     fees near 10 bps per round trip, 20 bps is the break-even floor.
//   - WaitForSpread: when true, poll for up to MaxWait instead of skipping
//     immediately on a narrow spread.
type GateConfig struct {
	MinSpreadBps  float64       `mapstructure:"min_spread_bps"`
	WaitForSpread bool          `mapstructure:"wait_for_spread"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// SizingConfig bounds per-leg order sizes by estimated slippage.
type SizingConfig struct {
	MaxSlippageBps float64 `mapstructure:"max_slippage_bps"`
	DepthLevels    int     `mapstructure:"depth_levels"` // liquidity lookahead, default 20
}

// ExecutionConfig tunes order placement.
//
//   - UsePostOnlyEntry: attempt POST_ONLY first on entries and normal exits,
//     falling back to IOC on timeout/cancel. Emergency unwinds are always IOC.
//   - IOCBufferBps: aggressiveness buffer added to the marketable limit so
//     the order is guaranteed takable.
//   - RetryMax/RetryBackoff: bounded retry for transient submission errors;
//     the final attempt may set the venue's liquidity-filter bypass flag.
type ExecutionConfig struct {
	UsePostOnlyEntry bool          `mapstructure:"use_post_only_entry"`
	PostOnlyTimeout  time.Duration `mapstructure:"post_only_timeout"`
	IOCBufferBps     float64       `mapstructure:"ioc_buffer_bps"`
	FillWaitTimeout  time.Duration `mapstructure:"fill_wait_timeout"`
	RetryMax         int           `mapstructure:"retry_max"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
}

// MonitorConfig controls the optional exit-timing loop between BUILD and
// UNWIND. When disabled the engine unwinds immediately after entry fills.
type MonitorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MinProfitBps float64       `mapstructure:"min_profit_bps"`
	LossLimitBps float64       `mapstructure:"loss_limit_bps"` // negative
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// EngineConfig caps and paces the cycle loop.
type EngineConfig struct {
	Iterations int           `mapstructure:"iterations"` // 0 = unbounded
	CyclePause time.Duration `mapstructure:"cycle_pause"`
}

// LogConfig sets where per-cycle and spread-analysis records are appended.
type LogConfig struct {
	CycleLog  string `mapstructure:"cycle_log"`
	SpreadLog string `mapstructure:"spread_log"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: FARM_API_KEY, FARM_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FARM")
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

	// Override sensitive fields from env
	if key := os.Getenv("FARM_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("FARM_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if os.Getenv("FARM_DRY_RUN") == "true" || os.Getenv("FARM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// setDefaults applies the documented reference values so a minimal YAML file
// still produces a runnable configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("pair.leverage", 1.0)
	v.SetDefault("fees.taker_bps", 5.0)
	v.SetDefault("fees.maker_bps", 2.0)
	v.SetDefault("gate.min_spread_bps", 20.0)
	v.SetDefault("gate.max_wait", "30s")
	v.SetDefault("gate.poll_interval", "500ms")
	v.SetDefault("sizing.max_slippage_bps", 10.0)
	v.SetDefault("sizing.depth_levels", 20)
	v.SetDefault("execution.post_only_timeout", "5s")
	v.SetDefault("execution.ioc_buffer_bps", 5.0)
	v.SetDefault("execution.fill_wait_timeout", "10s")
	v.SetDefault("execution.retry_max", 3)
	v.SetDefault("execution.retry_backoff", "2s")
	v.SetDefault("monitor.min_profit_bps", 10.0)
	v.SetDefault("monitor.loss_limit_bps", -30.0)
	v.SetDefault("monitor.timeout", "60s")
	v.SetDefault("monitor.poll_interval", "1s")
	v.SetDefault("engine.cycle_pause", "2s")
	v.SetDefault("log.cycle_log", "data/cycles.csv")
	v.SetDefault("log.spread_log", "data/spreads.csv")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.RESTBaseURL == "" {
		return fmt.Errorf("api.rest_base_url is required")
	}
	if !c.DryRun && c.API.ApiKey == "" {
		return fmt.Errorf("api.api_key is required (set FARM_API_KEY)")
	}
	if !c.DryRun && c.API.Secret == "" {
		return fmt.Errorf("api.secret is required (set FARM_API_SECRET)")
	}
	if c.Pair.LegAContract == "" || c.Pair.LegBContract == "" {
		return fmt.Errorf("pair.leg_a_contract and pair.leg_b_contract are required")
	}
	if c.Pair.LegATick <= 0 || c.Pair.LegBTick <= 0 {
		return fmt.Errorf("pair tick sizes must be > 0")
	}
	if c.Pair.NotionalUSD <= 0 {
		return fmt.Errorf("pair.notional_usd must be > 0")
	}
	if c.Pair.Leverage <= 0 {
		return fmt.Errorf("pair.leverage must be > 0")
	}
	if c.Fees.TakerBps < 0 || c.Fees.MakerBps < 0 {
		return fmt.Errorf("fee rates must be >= 0")
	}
	if c.Gate.MinSpreadBps < 0 {
		return fmt.Errorf("gate.min_spread_bps must be >= 0")
	}
	if c.Gate.PollInterval > 0 && c.Gate.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("gate.poll_interval must be >= 100ms")
	}
	if c.Sizing.MaxSlippageBps <= 0 {
		return fmt.Errorf("sizing.max_slippage_bps must be > 0")
	}
	if c.Monitor.Enabled && c.Monitor.LossLimitBps >= 0 {
		return fmt.Errorf("monitor.loss_limit_bps must be negative")
	}
	if c.Execution.RetryMax < 1 {
		return fmt.Errorf("execution.retry_max must be >= 1")
	}
	return nil
}
