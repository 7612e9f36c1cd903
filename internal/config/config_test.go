package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Pricing.SeedSecret = "test-secret"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	// Dev mode does not require a seed secret.
	cfg = Defaults()
	cfg.Mode = "dev"
	require.NoError(t, cfg.Validate())
}

func TestValidate_FeeScheduleMustSumExactly(t *testing.T) {
	cfg := validConfig()
	cfg.Fees.TradeOwnerBps++
	assert.Error(t, cfg.Validate(), "over 100% must be fatal at configuration time")

	cfg = validConfig()
	cfg.Fees.TradeOwnerBps--
	assert.Error(t, cfg.Validate(), "under 100% must be fatal at configuration time")
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "paper" }},
		{"missing treasury", func(c *Config) { c.Market.TreasuryAccount = "" }},
		{"inverted initial price bounds", func(c *Config) { c.Market.MaxInitialPrice = c.Market.MinInitialPrice - 1 }},
		{"zero minimum price", func(c *Config) { c.Pricing.MinimumPrice = 0 }},
		{"missing seed secret in serve mode", func(c *Config) { c.Pricing.SeedSecret = "" }},
		{"zero block duration", func(c *Config) { c.Pricing.BlockDuration.Duration = 0 }},
		{"inverted pool durations", func(c *Config) { c.Pools.MaxDuration = c.Pools.MinDuration; c.Pools.MinDuration.Duration *= 2 }},
		{"penalty above 100%", func(c *Config) { c.Pools.EarlyWithdrawPenaltyBps = 10_001 }},
		{"s3 bucket without region", func(c *Config) { c.S3.Bucket = "opinioncore-archive" }},
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPricingParamsRoundTrip(t *testing.T) {
	cfg := validConfig()
	params := cfg.PricingParams()
	require.NoError(t, params.Validate())
	assert.Len(t, params.Regimes, 4)
	assert.Equal(t, cfg.Pricing.MinimumPrice, params.MinimumPrice)
}
