// Package config loads the market engine configuration. Sources, lowest
// priority first: built-in defaults, an optional YAML file, then
// environment variables prefixed AMM_ (AMM_SERVER_PORT overrides
// server.port). A .env file in the working directory is loaded into the
// environment before anything is read.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/outcomeamm/market-engine/internal/fees"
	"github.com/outcomeamm/market-engine/internal/limits"
	"github.com/outcomeamm/market-engine/internal/pool"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "AMM"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// LogConfig selects the slog handler. File enables a rotating file sink in
// addition to stdout.
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json or text
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig points at PostgreSQL. An empty URL selects the in-memory
// store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig enables the price cache in front of PostgreSQL.
type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type EngineConfig struct {
	BaseFeeBps  int64  `mapstructure:"base_fee_bps"`
	MakerFeeBps int64  `mapstructure:"maker_fee_bps"`
	FeeTiers    []Tier `mapstructure:"fee_tiers"`
	// FeeScheduleFile replaces the three fields above when set.
	FeeScheduleFile  string        `mapstructure:"fee_schedule_file"`
	TradeLogCapacity int           `mapstructure:"trade_log_capacity"`
	RewardVesting    time.Duration `mapstructure:"reward_vesting"`
	ProbeNotional    string        `mapstructure:"probe_notional"`
	// FeeVolumeWindow is the lookback over a trader's own recorded trades
	// that selects their fee tier.
	FeeVolumeWindow time.Duration `mapstructure:"fee_volume_window"`
}

// Tier is one volume rebate step of the fee schedule.
type Tier struct {
	MinVolume string `mapstructure:"min_volume"`
	RebateBps int64  `mapstructure:"rebate_bps"`
}

// LimitsConfig caps a trader's net exposure. Zero disables a cap.
type LimitsConfig struct {
	MaxPerMarket string `mapstructure:"max_per_market"`
	MaxPerEvent  string `mapstructure:"max_per_event"`
}

type IdempotencyConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

func setDefaults(v *viper.Viper) {
	def := fees.DefaultSchedule()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 30*time.Second)

	v.SetDefault("engine.base_fee_bps", def.BaseFeeBps)
	v.SetDefault("engine.maker_fee_bps", def.MakerFeeBps)
	tiers := make([]map[string]any, len(def.Tiers))
	for i, t := range def.Tiers {
		tiers[i] = map[string]any{"min_volume": t.MinVolume.String(), "rebate_bps": t.RebateBps}
	}
	v.SetDefault("engine.fee_tiers", tiers)
	v.SetDefault("engine.fee_schedule_file", "")
	v.SetDefault("engine.trade_log_capacity", pool.DefaultTradeLogCapacity)
	v.SetDefault("engine.reward_vesting", fees.DefaultRewardCurve().Vesting)
	v.SetDefault("engine.probe_notional", "1")
	v.SetDefault("engine.fee_volume_window", 30*24*time.Hour)

	v.SetDefault("limits.max_per_market", "0")
	v.SetDefault("limits.max_per_event", "0")

	v.SetDefault("idempotency.cache_size", 10_000)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and parses every decimal field once so later
// accessors cannot fail.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Engine.TradeLogCapacity <= 0 {
		return fmt.Errorf("%w: engine.trade_log_capacity must be positive", ErrInvalidConfig)
	}
	if c.Engine.RewardVesting < 0 {
		return fmt.Errorf("%w: engine.reward_vesting must not be negative", ErrInvalidConfig)
	}
	if c.Engine.FeeVolumeWindow <= 0 {
		return fmt.Errorf("%w: engine.fee_volume_window must be positive", ErrInvalidConfig)
	}
	probe, err := parseDecimal("engine.probe_notional", c.Engine.ProbeNotional)
	if err != nil {
		return err
	}
	if !probe.IsPositive() {
		return fmt.Errorf("%w: engine.probe_notional must be positive", ErrInvalidConfig)
	}
	if _, err := c.FeeSchedule(); err != nil {
		return err
	}
	if _, err := c.PositionLimiter(); err != nil {
		return err
	}
	if c.Idempotency.CacheSize < 0 {
		return fmt.Errorf("%w: idempotency.cache_size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// FeeSchedule builds the validated fee schedule, from FeeScheduleFile when
// it is set.
func (c *Config) FeeSchedule() (fees.Schedule, error) {
	if c.Engine.FeeScheduleFile != "" {
		s, err := fees.LoadScheduleFile(c.Engine.FeeScheduleFile)
		if err != nil {
			return fees.Schedule{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return s, nil
	}

	s := fees.Schedule{
		BaseFeeBps:  c.Engine.BaseFeeBps,
		MakerFeeBps: c.Engine.MakerFeeBps,
		Tiers:       make([]fees.Tier, 0, len(c.Engine.FeeTiers)),
	}
	for i, t := range c.Engine.FeeTiers {
		minVolume, err := parseDecimal(fmt.Sprintf("engine.fee_tiers[%d].min_volume", i), t.MinVolume)
		if err != nil {
			return fees.Schedule{}, err
		}
		s.Tiers = append(s.Tiers, fees.Tier{MinVolume: minVolume, RebateBps: t.RebateBps})
	}
	if err := s.Validate(); err != nil {
		return fees.Schedule{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return s, nil
}

// PoolConfig converts the engine section for pool.New.
func (c *Config) PoolConfig() (pool.Config, error) {
	schedule, err := c.FeeSchedule()
	if err != nil {
		return pool.Config{}, err
	}
	probe, err := parseDecimal("engine.probe_notional", c.Engine.ProbeNotional)
	if err != nil {
		return pool.Config{}, err
	}
	pc := pool.DefaultConfig()
	pc.Fees = schedule
	pc.Rewards = fees.RewardCurve{Vesting: c.Engine.RewardVesting}
	pc.TradeLogCapacity = c.Engine.TradeLogCapacity
	pc.ProbeNotional = probe
	return pc, nil
}

// PositionLimiter returns the configured limiter, or nil when both caps
// are zero.
func (c *Config) PositionLimiter() (*limits.PositionLimiter, error) {
	perMarket, err := parseDecimal("limits.max_per_market", c.Limits.MaxPerMarket)
	if err != nil {
		return nil, err
	}
	perEvent, err := parseDecimal("limits.max_per_event", c.Limits.MaxPerEvent)
	if err != nil {
		return nil, err
	}
	if perMarket.IsNegative() || perEvent.IsNegative() {
		return nil, fmt.Errorf("%w: position limits must not be negative", ErrInvalidConfig)
	}
	if perMarket.IsZero() && perEvent.IsZero() {
		return nil, nil
	}
	return limits.NewPositionLimiter(perMarket, perEvent), nil
}

func parseDecimal(key, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a decimal", ErrInvalidConfig, key, raw)
	}
	return v, nil
}
