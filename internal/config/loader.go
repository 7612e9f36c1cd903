package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPINIONCORE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPINIONCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "OPINIONCORE_MODE")
	setStr(&cfg.LogLevel, "OPINIONCORE_LOG_LEVEL")

	// ── Market ──
	setStr(&cfg.Market.TreasuryAccount, "OPINIONCORE_TREASURY_ACCOUNT")
	setInt64(&cfg.Market.CreationFee, "OPINIONCORE_MARKET_CREATION_FEE")

	// ── Pricing ──
	setStr(&cfg.Pricing.SeedSecret, "OPINIONCORE_PRICING_SEED_SECRET")
	setInt64(&cfg.Pricing.MinimumPrice, "OPINIONCORE_PRICING_MINIMUM_PRICE")
	setInt64(&cfg.Pricing.AbsoluteMaxChange, "OPINIONCORE_PRICING_ABSOLUTE_MAX_CHANGE")
	setInt(&cfg.Pricing.MaxTradesPerBlock, "OPINIONCORE_PRICING_MAX_TRADES_PER_BLOCK")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "OPINIONCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OPINIONCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OPINIONCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OPINIONCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OPINIONCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OPINIONCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OPINIONCORE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OPINIONCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OPINIONCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OPINIONCORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OPINIONCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPINIONCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPINIONCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPINIONCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPINIONCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPINIONCORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OPINIONCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPINIONCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPINIONCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPINIONCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPINIONCORE_S3_SECRET_KEY")

	// ── Server ──
	setInt(&cfg.Server.Port, "OPINIONCORE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "OPINIONCORE_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OPINIONCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPINIONCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OPINIONCORE_NOTIFY_DISCORD_WEBHOOK_URL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
