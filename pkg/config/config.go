package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the Metron core.
type Config struct {
	Port      string `default:"8080"`
	LogLevel  string `default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat string `default:"console" validate:"oneof=console json"`

	Symbol string `default:"BTCUSDT" validate:"required"`

	// Storage
	StoreDriver string `default:"sqlite" validate:"oneof=sqlite postgres"`
	DBPath      string `default:"./data/metron.db"`
	DatabaseURL string `validate:"required_if=StoreDriver postgres"`

	// Execution
	PaperTrading   bool    `default:"true"`
	PaperBalance   float64 `default:"1000" validate:"gt=0"`
	RiskPercentage float64 `default:"2.0" validate:"gt=0,lte=100"`
	MinBalance     float64 `default:"10" validate:"gte=0"`
	QuoteAsset     string  `default:"USDT" validate:"required"`

	// Binance
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool
	UseMockFeed      bool

	// Stream engine
	AnalysisInterval  time.Duration `default:"30s" validate:"gt=0"`
	AnalysisTimeframe time.Duration `default:"1m" validate:"gte=1m"`
	BufferSize        int           `default:"1500" validate:"gte=60"`
	BackfillLimit     int           `default:"1000" validate:"gte=1,lte=1000"`
	Freshness         time.Duration `default:"5m" validate:"gt=0"`
	ReconnectBackoff  time.Duration `default:"5s" validate:"gt=0"`
	ReadTimeout       time.Duration `default:"15s" validate:"gt=0"`
	GatewayTimeout    time.Duration `default:"5s" validate:"gt=0"`
	SignalCacheTTL    time.Duration `default:"60s"`
	PersistQueueSize  int           `default:"256" validate:"gte=1"`

	// Reconciliation of unverifiable REAL positions: "alert" or "retry".
	UnverifiedPolicy string `default:"alert" validate:"oneof=alert retry"`

	StrategiesFile string `default:"./strategies.yaml"`

	// Alerts
	TelegramBotToken  string
	TelegramChatID    string
	DiscordWebhookURL string

	// API auth
	JWTSecret   string `default:"dev-secret"`
	OperatorKey string

	// Optional relays
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KafkaBrokers  []string
	KafkaTopic    string `default:"metron.events"`
}

var validate = validator.New()

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", cfg.LogFormat))
	cfg.Symbol = strings.ToUpper(getEnv("SYMBOL", cfg.Symbol))

	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", cfg.StoreDriver))
	// Prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	cfg.DBPath = getEnv("DB_PATH", getEnv("DATABASE_PATH", cfg.DBPath))
	cfg.DatabaseURL = getEnv("DATABASE_URL", postgresURLFromParts())

	cfg.PaperTrading = getEnvBool("PAPER_TRADING", cfg.PaperTrading)
	cfg.PaperBalance = getEnvFloat("PAPER_BALANCE", cfg.PaperBalance)
	cfg.RiskPercentage = getEnvFloat("RISK_PERCENTAGE", cfg.RiskPercentage)
	cfg.MinBalance = getEnvFloat("MIN_BALANCE", cfg.MinBalance)
	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", cfg.QuoteAsset))

	cfg.BinanceAPIKey = os.Getenv("BINANCE_API_KEY")
	cfg.BinanceAPISecret = getEnv("BINANCE_API_SECRET", os.Getenv("BINANCE_SECRET_KEY"))
	cfg.BinanceTestnet = getEnvBool("BINANCE_TESTNET", cfg.BinanceTestnet)
	cfg.UseMockFeed = getEnvBool("USE_MOCK_FEED", cfg.UseMockFeed)

	cfg.AnalysisInterval = getEnvDuration("ANALYSIS_INTERVAL", cfg.AnalysisInterval)
	cfg.AnalysisTimeframe = getEnvDuration("ANALYSIS_TIMEFRAME", cfg.AnalysisTimeframe)
	cfg.BufferSize = getEnvInt("BUFFER_SIZE", cfg.BufferSize)
	cfg.BackfillLimit = getEnvInt("BACKFILL_LIMIT", cfg.BackfillLimit)
	cfg.Freshness = getEnvDuration("FRESHNESS", cfg.Freshness)
	cfg.ReconnectBackoff = getEnvDuration("RECONNECT_BACKOFF", cfg.ReconnectBackoff)
	cfg.ReadTimeout = getEnvDuration("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.GatewayTimeout = getEnvDuration("GATEWAY_TIMEOUT", cfg.GatewayTimeout)
	cfg.SignalCacheTTL = getEnvDuration("SIGNAL_CACHE_TTL", cfg.SignalCacheTTL)
	cfg.PersistQueueSize = getEnvInt("PERSIST_QUEUE_SIZE", cfg.PersistQueueSize)
	cfg.UnverifiedPolicy = strings.ToLower(getEnv("UNVERIFIED_POLICY", cfg.UnverifiedPolicy))
	cfg.StrategiesFile = getEnv("STRATEGIES_FILE", cfg.StrategiesFile)

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	cfg.DiscordWebhookURL = os.Getenv("DISCORD_WEBHOOK_URL")

	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.OperatorKey = os.Getenv("OPERATOR_KEY")

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.KafkaBrokers = splitAndTrim(os.Getenv("KAFKA_BROKERS"))
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.PaperTrading && !c.UseMockFeed && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		return errors.New("invalid config: real trading requires BINANCE_API_KEY and BINANCE_API_SECRET")
	}
	if c.AnalysisTimeframe%time.Minute != 0 {
		return errors.New("invalid config: ANALYSIS_TIMEFRAME must be a whole number of minutes")
	}
	return nil
}

// postgresURLFromParts builds a DSN from the POSTGRES_* variables when all are present.
func postgresURLFromParts() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("POSTGRES_USER", "postgres"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "metron"),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
