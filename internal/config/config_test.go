package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Symbol != "DEMO" || cfg.HTTPPort != 8090 {
		t.Fatalf("unexpected defaults: symbol=%s port=%d", cfg.Symbol, cfg.HTTPPort)
	}
	if !cfg.TickSize.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("tick size = %s", cfg.TickSize)
	}
	if cfg.RedisAddr != "" || cfg.DatabaseURL != "" {
		t.Fatalf("optional backends must default to disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SYMBOL", "btcusd")
	t.Setenv("TICK_SIZE", "0.5")
	t.Setenv("SIM_ENABLED", "true")
	t.Setenv("SIM_EXPIRY", "0s")
	t.Setenv("SIM_INTERVAL", "250ms")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()
	if cfg.Symbol != "BTCUSD" {
		t.Fatalf("symbol = %s", cfg.Symbol)
	}
	if !cfg.TickSize.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("tick size = %s", cfg.TickSize)
	}
	if !cfg.SimEnabled || cfg.SimInterval != 250*time.Millisecond || cfg.SimExpiry != 0 {
		t.Fatalf("unexpected sim settings %+v", cfg)
	}
	if len(cfg.WSAllowedOrigins) != 2 || cfg.WSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.WSAllowedOrigins)
	}
	if g := cfg.Generator(); g.TickSize != 1 || g.Expiry != 0 {
		t.Fatalf("generator config = %+v", g)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"tick size", func(c *Config) { c.TickSize = decimal.Zero }, "TICK_SIZE"},
		{"buffers", func(c *Config) { c.EventBuffer = 0 }, "engine buffers"},
		{"sample rate", func(c *Config) { c.TraceSampleRate = 2 }, "TRACE_SAMPLE_RATE"},
		{"base price", func(c *Config) { c.SimEnabled = true; c.SimBasePrice = decimal.Zero }, "SIM_BASE_PRICE"},
		{"qty range", func(c *Config) { c.SimEnabled = true; c.SimMaxQty = 0 }, "max qty"},
		{"probability", func(c *Config) { c.SimEnabled = true; c.SimMarketProb = 1.5 }, "market probability"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Load()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSimSettingsIgnoredWhenDisabled(t *testing.T) {
	cfg := Load()
	cfg.SimMaxQty = -1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled simulator should not be validated: %v", err)
	}
}
