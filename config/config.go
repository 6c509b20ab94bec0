package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds all runtime settings for the market data hub.
type Config struct {
	Port        string
	Environment string

	// Postgres (record persistence + symbol source)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// MongoDB (news article store); empty URI disables the news store
	MongoURI string

	// Local sqlite archive for fetch attempts
	AttemptArchivePath string

	// Provider credentials
	AlphaVantageAPIKey string
	FinnhubAPIKey      string
	FMPAPIKey          string

	// Provider call policy
	ProviderTimeout    time.Duration
	InterCallDelay     time.Duration
	MaxFanout          int
	ProviderRatePerSec float64

	// Fetch tracker policy
	MaxConsecutiveFailures int
	MaxRetryAttempts       int
	RetryBackoff           []time.Duration
	RateLimitCooldown      time.Duration
	AttemptRetention       time.Duration

	// Caches
	QuoteCacheTTL          time.Duration
	PopularSymbolThreshold int
	RegistryRefreshEvery   time.Duration

	// Market hours (weekdays only, single fixed timezone)
	MarketTimezone  string
	MarketOpenHour  int
	MarketOpenMin   int
	MarketCloseHour int
	MarketCloseMin  int
}

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "marketdata_hub"),

		MongoURI: getEnv("MONGODB_URI", ""),

		AttemptArchivePath: getEnv("ATTEMPT_ARCHIVE_PATH", "data/fetch_attempts.db"),

		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),
		FinnhubAPIKey:      getEnv("FINNHUB_API_KEY", ""),
		FMPAPIKey:          getEnv("FMP_API_KEY", ""),

		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second),
		InterCallDelay:     getEnvDuration("PROVIDER_INTER_CALL_DELAY", 200*time.Millisecond),
		MaxFanout:          getEnvInt("PROVIDER_MAX_FANOUT", 4),
		ProviderRatePerSec: getEnvFloat("PROVIDER_RATE_PER_SEC", 2.0),

		MaxConsecutiveFailures: getEnvInt("MAX_CONSECUTIVE_FAILURES", 5),
		MaxRetryAttempts:       getEnvInt("MAX_RETRY_ATTEMPTS", 3),
		RateLimitCooldown:      getEnvDuration("RATE_LIMIT_COOLDOWN", 15*time.Minute),
		AttemptRetention:       getEnvDuration("ATTEMPT_RETENTION", 30*24*time.Hour),

		QuoteCacheTTL:          getEnvDuration("QUOTE_CACHE_TTL", 60*time.Second),
		PopularSymbolThreshold: getEnvInt("POPULAR_SYMBOL_THRESHOLD", 10),
		RegistryRefreshEvery:   getEnvDuration("REGISTRY_REFRESH_EVERY", time.Hour),

		MarketTimezone:  getEnv("MARKET_TIMEZONE", "America/New_York"),
		MarketOpenHour:  getEnvInt("MARKET_OPEN_HOUR", 9),
		MarketOpenMin:   getEnvInt("MARKET_OPEN_MIN", 30),
		MarketCloseHour: getEnvInt("MARKET_CLOSE_HOUR", 16),
		MarketCloseMin:  getEnvInt("MARKET_CLOSE_MIN", 0),
	}

	// Progressive retry backoff schedule, capped at the last value
	config.RetryBackoff = []time.Duration{
		getEnvDuration("RETRY_BACKOFF_1", 5*time.Minute),
		getEnvDuration("RETRY_BACKOFF_2", 15*time.Minute),
		getEnvDuration("RETRY_BACKOFF_3", 60*time.Minute),
	}

	return config, nil
}

// InitDB initializes the Postgres connection used by the persistence layer.
func InitDB(cfg *Config) (*gorm.DB, error) {
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(cfg.DBHost),
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=prefer TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
	)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer for %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Invalid float for %s=%q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid duration for %s=%q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
