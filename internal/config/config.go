package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	Payment    PaymentConfig
	Generation GenerationConfig
}

// RedisConfig configures the optional redis client used for spend locks and
// generation rate limiting. An empty Addr disables both.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PaymentConfig configures the payment provider integration.
type PaymentConfig struct {
	APIBaseURL    string
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// GenerationConfig configures the external image-generation backend.
type GenerationConfig struct {
	BackendURL     string
	APIKey         string
	TimeoutSeconds int

	RateLimitEnabled bool
	UserRate         float64
	UserBurst        int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "pixelmuse"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "pixelmuse"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},

		Payment: PaymentConfig{
			APIBaseURL:    strings.TrimSpace(getenv("PAYMENT_API_BASE_URL", "")),
			APIKey:        strings.TrimSpace(getenv("PAYMENT_API_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("PAYMENT_WEBHOOK_SECRET", "")),
			SuccessURL:    strings.TrimSpace(getenv("PAYMENT_SUCCESS_URL", "")),
			CancelURL:     strings.TrimSpace(getenv("PAYMENT_CANCEL_URL", "")),
		},

		Generation: GenerationConfig{
			BackendURL:       strings.TrimSpace(getenv("GENERATION_BACKEND_URL", "")),
			APIKey:           strings.TrimSpace(getenv("GENERATION_API_KEY", "")),
			TimeoutSeconds:   getenvInt("GENERATION_TIMEOUT_SECONDS", 120),
			RateLimitEnabled: getenvBool("GENERATION_RATE_LIMIT_ENABLED", false),
			UserRate:         getenvFloat("GENERATION_USER_RATE", 1),
			UserBurst:        getenvInt("GENERATION_USER_BURST", 5),
		},
	}
}

// Module provides Config and the pricing catalog holder.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPricingHolder),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
