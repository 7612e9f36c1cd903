// Package config defines the top-level configuration for the opinion market
// core and provides validation helpers.
package config

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
	"github.com/alanyoungcy/opinioncore/internal/fees"
	"github.com/alanyoungcy/opinioncore/internal/pricing"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by OPINIONCORE_* environment
// variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Pricing  PricingConfig  `toml:"pricing"`
	Pools    PoolsConfig    `toml:"pools"`
	Fees     FeesConfig     `toml:"fees"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"` // "serve" or "dev"
	LogLevel string         `toml:"log_level"`
}

// MarketConfig holds question-registry parameters. All monetary values are
// int64 micros (1e6 scale).
type MarketConfig struct {
	TreasuryAccount   string `toml:"treasury_account"`
	CreationFee       int64  `toml:"creation_fee"`
	MinInitialPrice   int64  `toml:"min_initial_price"`
	MaxInitialPrice   int64  `toml:"max_initial_price"`
	MaxQuestionLen    int    `toml:"max_question_len"`
	MaxAnswerLen      int    `toml:"max_answer_len"`
	MaxDescriptionLen int    `toml:"max_description_len"`
	MaxCategories     int    `toml:"max_categories"`
}

// PricingConfig holds pricing-engine parameters.
type PricingConfig struct {
	MinimumPrice      int64          `toml:"minimum_price"`
	AbsoluteMaxChange int64          `toml:"absolute_max_change"`
	CompetitiveMinBps int64          `toml:"competitive_min_bps"`
	CompetitiveMaxBps int64          `toml:"competitive_max_bps"`
	Regimes           []RegimeConfig `toml:"regimes"`
	TraderWindow      duration       `toml:"trader_window"`
	TraderWindowCap   int            `toml:"trader_window_cap"`
	// BlockDuration is the discrete ordering unit the trade rate limits are
	// evaluated against.
	BlockDuration     duration `toml:"block_duration"`
	MaxTradesPerBlock int      `toml:"max_trades_per_block"`
	SeedSecret        string   `toml:"seed_secret"`
}

// RegimeConfig describes one solo-trade pricing regime.
type RegimeConfig struct {
	Name   string `toml:"name"`
	Weight int64  `toml:"weight"`
	MinBps int64  `toml:"min_bps"`
	MaxBps int64  `toml:"max_bps"`
}

// PoolsConfig holds pool-lifecycle parameters.
type PoolsConfig struct {
	MinDuration             duration `toml:"min_duration"`
	MaxDuration             duration `toml:"max_duration"`
	MinContribution         int64    `toml:"min_contribution"`
	CreationFee             int64    `toml:"creation_fee"`
	ContributionFee         int64    `toml:"contribution_fee"`
	EarlyWithdrawPenaltyBps int64    `toml:"early_withdraw_penalty_bps"`
	// CreatorFeeBps is the pool creator's cut of the trade platform share
	// when the pool executes.
	CreatorFeeBps int64 `toml:"creator_fee_bps"`
	MaxNameLen    int   `toml:"max_name_len"`
}

// FeesConfig holds the per-event fee splits, in basis points. Each schedule
// must sum to exactly 10000.
type FeesConfig struct {
	TradePlatformBps    int64 `toml:"trade_platform_bps"`
	TradeCreatorBps     int64 `toml:"trade_creator_bps"`
	TradeOwnerBps       int64 `toml:"trade_owner_bps"`
	CreationPlatformBps int64 `toml:"creation_platform_bps"`
	CreationCreatorBps  int64 `toml:"creation_creator_bps"`
	CreationOwnerBps    int64 `toml:"creation_owner_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters. Archiving is
// disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the audit-log cold storage job.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	pp := pricing.DefaultParams()
	regimes := make([]RegimeConfig, 0, len(pp.Regimes))
	for _, r := range pp.Regimes {
		regimes = append(regimes, RegimeConfig{
			Name:   string(r.Name),
			Weight: r.Weight,
			MinBps: r.MinBps,
			MaxBps: r.MaxBps,
		})
	}
	fc := fees.DefaultConfig()

	return Config{
		Market: MarketConfig{
			TreasuryAccount:   "treasury",
			CreationFee:       5 * domain.PriceScale,
			MinInitialPrice:   1 * domain.PriceScale,
			MaxInitialPrice:   100 * domain.PriceScale,
			MaxQuestionLen:    280,
			MaxAnswerLen:      280,
			MaxDescriptionLen: 1_000,
			MaxCategories:     3,
		},
		Pricing: PricingConfig{
			MinimumPrice:      pp.MinimumPrice,
			AbsoluteMaxChange: pp.AbsoluteMaxChange,
			CompetitiveMinBps: pp.CompetitiveMinBps,
			CompetitiveMaxBps: pp.CompetitiveMaxBps,
			Regimes:           regimes,
			TraderWindow:      duration{24 * time.Hour},
			TraderWindowCap:   256,
			BlockDuration:     duration{12 * time.Second},
			MaxTradesPerBlock: 10,
		},
		Pools: PoolsConfig{
			MinDuration:             duration{time.Hour},
			MaxDuration:             duration{30 * 24 * time.Hour},
			MinContribution:         domain.PriceScale / 10, // 0.1 units
			CreationFee:             1 * domain.PriceScale,
			ContributionFee:         domain.PriceScale / 10,
			EarlyWithdrawPenaltyBps: 2_000,
			CreatorFeeBps:           2_000,
			MaxNameLen:              120,
		},
		Fees: FeesConfig{
			TradePlatformBps:    fc.Trade.PlatformBps,
			TradeCreatorBps:     fc.Trade.CreatorBps,
			TradeOwnerBps:       fc.Trade.OwnerBps,
			CreationPlatformBps: fc.Creation.PlatformBps,
			CreationCreatorBps:  fc.Creation.CreatorBps,
			CreationOwnerBps:    fc.Creation.OwnerBps,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "opinioncore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  50,
			RateWindow: duration{time.Second},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// PricingParams converts the config section into engine parameters.
func (c *Config) PricingParams() pricing.Params {
	regimes := make([]pricing.RegimeParams, 0, len(c.Pricing.Regimes))
	for _, r := range c.Pricing.Regimes {
		regimes = append(regimes, pricing.RegimeParams{
			Name:   domain.Regime(r.Name),
			Weight: r.Weight,
			MinBps: r.MinBps,
			MaxBps: r.MaxBps,
		})
	}
	return pricing.Params{
		MinimumPrice:      c.Pricing.MinimumPrice,
		AbsoluteMaxChange: c.Pricing.AbsoluteMaxChange,
		CompetitiveMinBps: c.Pricing.CompetitiveMinBps,
		CompetitiveMaxBps: c.Pricing.CompetitiveMaxBps,
		Regimes:           regimes,
	}
}

// FeeConfig converts the config section into fee schedules.
func (c *Config) FeeConfig() fees.Config {
	return fees.Config{
		Trade: fees.Schedule{
			PlatformBps: c.Fees.TradePlatformBps,
			CreatorBps:  c.Fees.TradeCreatorBps,
			OwnerBps:    c.Fees.TradeOwnerBps,
		},
		Creation: fees.Schedule{
			PlatformBps: c.Fees.CreationPlatformBps,
			CreatorBps:  c.Fees.CreationCreatorBps,
			OwnerBps:    c.Fees.CreationOwnerBps,
		},
	}
}

// Validate checks the configuration for fatal errors. A failing Validate
// must prevent the system from accepting any operation.
func (c *Config) Validate() error {
	switch c.Mode {
	case "serve", "dev":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Market.TreasuryAccount == "" {
		return fmt.Errorf("config: market.treasury_account is required")
	}
	if c.Market.CreationFee < 0 {
		return fmt.Errorf("config: market.creation_fee must not be negative")
	}
	if c.Market.MinInitialPrice <= 0 || c.Market.MaxInitialPrice < c.Market.MinInitialPrice {
		return fmt.Errorf("config: market initial price bounds [%d, %d] are invalid",
			c.Market.MinInitialPrice, c.Market.MaxInitialPrice)
	}

	if err := c.PricingParams().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Pricing.TraderWindow.Duration <= 0 {
		return fmt.Errorf("config: pricing.trader_window must be positive")
	}
	if c.Pricing.TraderWindowCap <= 0 {
		return fmt.Errorf("config: pricing.trader_window_cap must be positive")
	}
	if c.Pricing.BlockDuration.Duration <= 0 {
		return fmt.Errorf("config: pricing.block_duration must be positive")
	}
	if c.Pricing.MaxTradesPerBlock <= 0 {
		return fmt.Errorf("config: pricing.max_trades_per_block must be positive")
	}
	if c.Mode == "serve" && c.Pricing.SeedSecret == "" {
		return fmt.Errorf("config: pricing.seed_secret is required in serve mode")
	}

	if c.Pools.MinDuration.Duration <= 0 || c.Pools.MaxDuration.Duration < c.Pools.MinDuration.Duration {
		return fmt.Errorf("config: pool duration bounds are invalid")
	}
	if c.Pools.MinContribution <= 0 {
		return fmt.Errorf("config: pools.min_contribution must be positive")
	}
	if c.Pools.CreationFee < 0 || c.Pools.ContributionFee < 0 {
		return fmt.Errorf("config: pool fees must not be negative")
	}
	if c.Pools.EarlyWithdrawPenaltyBps < 0 || c.Pools.EarlyWithdrawPenaltyBps > 10_000 {
		return fmt.Errorf("config: pools.early_withdraw_penalty_bps must be within [0, 10000]")
	}
	if c.Pools.CreatorFeeBps < 0 || c.Pools.CreatorFeeBps > 10_000 {
		return fmt.Errorf("config: pools.creator_fee_bps must be within [0, 10000]")
	}
	if c.Pools.MaxNameLen <= 0 {
		return fmt.Errorf("config: pools.max_name_len must be positive")
	}

	if err := c.FeeConfig().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if c.S3.Bucket != "" {
		if c.S3.Region == "" {
			return fmt.Errorf("config: s3.region is required when a bucket is set")
		}
		if c.Archive.RetentionDays <= 0 {
			return fmt.Errorf("config: archive.retention_days must be positive")
		}
		if c.Archive.Cron == "" {
			return fmt.Errorf("config: archive.cron is required when a bucket is set")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range", c.Server.Port)
	}
	return nil
}
