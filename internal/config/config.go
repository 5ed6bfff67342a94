// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exchange/lob/internal/generator"
	envconfig "github.com/exchange/lob/pkg/config"
)

type Config struct {
	ServiceName     string
	HTTPPort        int
	LogLevel        string
	MetricsToken    string
	ShutdownTimeout time.Duration

	// Book
	Symbol     string
	TickSize   decimal.Decimal
	FullChecks bool

	// Engine
	CommandBuffer int
	EventBuffer   int

	// Jobs
	SweepSchedule string
	DepthSchedule string
	DepthLevels   int

	// Redis (disabled when RedisAddr is empty)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	OrderStream   string
	EventStream   string
	ConsumerGroup string
	ConsumerName  string

	// PostgreSQL audit (disabled when DatabaseURL is empty)
	DatabaseURL    string
	DBMaxOpenConns int

	// Tracing
	TracingEnabled  bool
	JaegerEndpoint  string
	TraceSampleRate float64

	// Websocket
	WSMaxConnections int
	WSAllowedOrigins []string

	// Position tracked for orders entered over HTTP
	StartingCash decimal.Decimal

	// Simulator
	SimEnabled      bool
	SimPaused       bool
	SimInterval     time.Duration
	SimBatchSize    int
	SimBasePrice    decimal.Decimal
	SimAnchorMid    bool
	SimSeed         int64
	SimPriceSigma   float64
	SimMarketProb   float64
	SimCrossProb    float64
	SimExpiry       time.Duration
	SimExpiryJitter time.Duration
	SimMinQty       int64
	SimMaxQty       int64
}

func Load() *Config {
	gen := generator.DefaultConfig()
	return &Config{
		ServiceName:     envconfig.GetEnv("SERVICE_NAME", "lob"),
		HTTPPort:        envconfig.GetEnvInt("HTTP_PORT", 8090),
		LogLevel:        strings.ToLower(envconfig.GetEnv("LOG_LEVEL", "info")),
		MetricsToken:    envconfig.GetEnv("METRICS_TOKEN", ""),
		ShutdownTimeout: envconfig.GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		Symbol:     strings.ToUpper(envconfig.GetEnv("SYMBOL", "DEMO")),
		TickSize:   envconfig.GetEnvDecimal("TICK_SIZE", decimal.RequireFromString("0.01")),
		FullChecks: envconfig.GetEnvBool("BOOK_FULL_CHECKS", false),

		CommandBuffer: envconfig.GetEnvInt("ENGINE_COMMAND_BUFFER", 1024),
		EventBuffer:   envconfig.GetEnvInt("ENGINE_EVENT_BUFFER", 4096),

		SweepSchedule: envconfig.GetEnv("SWEEP_SCHEDULE", "@every 1s"),
		DepthSchedule: envconfig.GetEnv("DEPTH_SCHEDULE", "@every 5s"),
		DepthLevels:   envconfig.GetEnvInt("DEPTH_LEVELS", 20),

		RedisAddr:     envconfig.GetEnv("REDIS_ADDR", ""),
		RedisPassword: envconfig.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       envconfig.GetEnvInt("REDIS_DB", 0),
		OrderStream:   envconfig.GetEnv("ORDER_STREAM", "lob:orders"),
		EventStream:   envconfig.GetEnv("EVENT_STREAM", "lob:events"),
		ConsumerGroup: envconfig.GetEnv("CONSUMER_GROUP", "lob-group"),
		ConsumerName:  envconfig.GetEnv("CONSUMER_NAME", "lob-1"),

		DatabaseURL:    envconfig.GetEnv("DATABASE_URL", ""),
		DBMaxOpenConns: envconfig.GetEnvInt("DB_MAX_OPEN_CONNS", 10),

		TracingEnabled:  envconfig.GetEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint:  envconfig.GetEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRate: envconfig.GetEnvFloat64("TRACE_SAMPLE_RATE", 0.1),

		WSMaxConnections: envconfig.GetEnvInt("WS_MAX_CONNECTIONS", 1024),
		WSAllowedOrigins: envconfig.GetEnvSlice("WS_ALLOWED_ORIGINS", nil),

		StartingCash: envconfig.GetEnvDecimal("STARTING_CASH", decimal.NewFromInt(10000)),

		SimEnabled:      envconfig.GetEnvBool("SIM_ENABLED", false),
		SimPaused:       envconfig.GetEnvBool("SIM_PAUSED", false),
		SimInterval:     envconfig.GetEnvDuration("SIM_INTERVAL", 500*time.Millisecond),
		SimBatchSize:    envconfig.GetEnvInt("SIM_BATCH_SIZE", 5),
		SimBasePrice:    envconfig.GetEnvDecimal("SIM_BASE_PRICE", decimal.NewFromInt(100)),
		SimAnchorMid:    envconfig.GetEnvBool("SIM_ANCHOR_MID", true),
		SimSeed:         envconfig.GetEnvInt64("SIM_SEED", time.Now().UnixNano()),
		SimPriceSigma:   envconfig.GetEnvFloat64("SIM_PRICE_SIGMA", gen.PriceSigma),
		SimMarketProb:   envconfig.GetEnvFloat64("SIM_MARKET_PROB", gen.MarketProb),
		SimCrossProb:    envconfig.GetEnvFloat64("SIM_CROSS_PROB", gen.CrossProb),
		SimExpiry:       envconfig.GetEnvDuration("SIM_EXPIRY", gen.Expiry),
		SimExpiryJitter: envconfig.GetEnvDuration("SIM_EXPIRY_JITTER", gen.ExpiryJitter),
		SimMinQty:       envconfig.GetEnvInt64("SIM_MIN_QTY", gen.MinQty),
		SimMaxQty:       envconfig.GetEnvInt64("SIM_MAX_QTY", gen.MaxQty),
	}
}

func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("SYMBOL is required")
	}
	if !c.TickSize.IsPositive() {
		return fmt.Errorf("TICK_SIZE must be positive, got %s", c.TickSize)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort)
	}
	if c.CommandBuffer <= 0 || c.EventBuffer <= 0 {
		return fmt.Errorf("engine buffers must be positive (command=%d event=%d)", c.CommandBuffer, c.EventBuffer)
	}
	if c.DepthLevels <= 0 {
		return fmt.Errorf("DEPTH_LEVELS must be positive, got %d", c.DepthLevels)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE out of [0,1]: %v", c.TraceSampleRate)
	}
	if c.StartingCash.IsNegative() {
		return fmt.Errorf("STARTING_CASH must not be negative, got %s", c.StartingCash)
	}
	if !c.SimEnabled {
		return nil
	}
	if !c.SimBasePrice.IsPositive() {
		return fmt.Errorf("SIM_BASE_PRICE must be positive, got %s", c.SimBasePrice)
	}
	if c.SimBatchSize <= 0 {
		return fmt.Errorf("SIM_BATCH_SIZE must be positive, got %d", c.SimBatchSize)
	}
	if err := c.Generator().Validate(); err != nil {
		return fmt.Errorf("simulator generator: %w", err)
	}
	return nil
}

// Generator returns the simulator's order generator settings. Prices are
// generated on a one-tick grid.
func (c *Config) Generator() generator.Config {
	return generator.Config{
		TickSize:     1,
		PriceSigma:   c.SimPriceSigma,
		MarketProb:   c.SimMarketProb,
		CrossProb:    c.SimCrossProb,
		Expiry:       c.SimExpiry,
		ExpiryJitter: c.SimExpiryJitter,
		MinQty:       c.SimMinQty,
		MaxQty:       c.SimMaxQty,
	}
}
