package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
)

// Config holds all configuration for the inventory sync service
type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string

	// GCP
	GCPProjectID string

	// Optional infrastructure
	RedisURL string
	NATSURL  string

	// Used when Secret Manager is disabled
	TokenEncryptionKey string

	CORSAllowedOrigins []string

	Shopify ShopifyConfig
	Sync    SyncConfig

	ComparisonPageSize  int
	StockMaxCASAttempts int
}

// ShopifyConfig configures the remote catalog client
type ShopifyConfig struct {
	APIVersion       string
	PageSize         int
	MaxPages         int
	PageDelay        time.Duration
	HTTPTimeout      time.Duration
	LocationCacheTTL time.Duration
}

// SyncConfig configures the sync executor
type SyncConfig struct {
	CallDelay      time.Duration // between remote calls to the same store
	StoreDelay     time.Duration // between stores
	MaxRetries     int
	Timeout        time.Duration
	ParallelStores bool
}

// Load loads configuration from environment variables
func Load() *Config {
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		dbHost := getEnv("DB_HOST", "localhost")
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "postgres")
		dbPassword := secrets.GetDBPassword()
		dbName := getEnv("DB_NAME", "inventory_sync")
		dbSSLMode := getEnv("DB_SSLMODE", "disable")

		databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbUser, dbPassword, dbHost, dbPort, dbName, dbSSLMode)
	}

	config := &Config{
		Port:        getEnv("PORT", "8099"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: databaseURL,

		GCPProjectID: getEnv("GCP_PROJECT_ID", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		NATSURL:      getEnv("NATS_URL", ""),

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:3001",
		}),

		Shopify: ShopifyConfig{
			APIVersion:       getEnv("SHOPIFY_API_VERSION", "2024-01"),
			PageSize:         getEnvAsInt("SHOPIFY_PAGE_SIZE", 250),
			MaxPages:         getEnvAsInt("SHOPIFY_MAX_PAGES", 20),
			PageDelay:        getEnvAsDuration("SHOPIFY_PAGE_DELAY", 500*time.Millisecond),
			HTTPTimeout:      getEnvAsDuration("SHOPIFY_HTTP_TIMEOUT", 30*time.Second),
			LocationCacheTTL: getEnvAsDuration("LOCATION_CACHE_TTL", 24*time.Hour),
		},

		Sync: SyncConfig{
			CallDelay:      getEnvAsDuration("SYNC_CALL_DELAY", 500*time.Millisecond),
			StoreDelay:     getEnvAsDuration("SYNC_STORE_DELAY", 2*time.Second),
			MaxRetries:     getEnvAsInt("SYNC_MAX_RETRIES", 2),
			Timeout:        getEnvAsDuration("SYNC_TIMEOUT", 30*time.Minute),
			ParallelStores: getEnvAsBool("SYNC_PARALLEL_STORES", false),
		},

		ComparisonPageSize:  getEnvAsInt("COMPARISON_PAGE_SIZE", 20),
		StockMaxCASAttempts: getEnvAsInt("STOCK_MAX_CAS_ATTEMPTS", 3),
	}

	// Shopify rejects page sizes above 250
	if config.Shopify.PageSize <= 0 || config.Shopify.PageSize > 250 {
		config.Shopify.PageSize = 250
	}
	if config.Shopify.MaxPages <= 0 {
		config.Shopify.MaxPages = 20
	}

	if config.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	if config.GCPProjectID == "" && config.TokenEncryptionKey == "" {
		log.Println("Warning: neither GCP_PROJECT_ID nor TOKEN_ENCRYPTION_KEY is set, store tokens cannot be persisted")
	}

	return config
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
