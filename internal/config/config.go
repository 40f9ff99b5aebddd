package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App          AppConfig
	Backend      BackendConfig
	API          APIConfig
	Notification NotificationConfig
	Tracing      TracingConfig
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	JwtSecret          string
	NatsURL            string
	RedisURL           string
}

// BackendConfig locates the backend-as-a-service project.
type BackendConfig struct {
	URL     string
	AnonKey string
	DBDSN   string // optional, switches table access to direct Postgres
}

// APIConfig is the REST dashboard/billing API.
type APIConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
	RateLimit   float64 // requests per second, 0 = unlimited
	RateBurst   int
}

type NotificationConfig struct {
	PageSize       int
	CreateFunction string // edge function used by addNotification, empty = table insert
	LogFilePath    string
}

// Load reads the environment (and .env when present). Missing required values are
// reported together so the process can fail fast at startup.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	cfg := &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			JwtSecret:          getEnv("JWT_SECRET", ""),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
		},
		Backend: BackendConfig{
			URL:     strings.TrimRight(getEnv("BACKEND_URL", ""), "/"),
			AnonKey: getEnv("BACKEND_ANON_KEY", ""),
			DBDSN:   getEnv("BACKEND_DB_DSN", ""),
		},
		API: APIConfig{
			BaseURL:     strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000/api/v1"), "/"),
			HTTPTimeout: time.Duration(getEnvAsInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
			RateLimit:   getEnvAsFloat("API_RATE_LIMIT", 0),
			RateBurst:   getEnvAsInt("API_RATE_BURST", 5),
		},
		Notification: NotificationConfig{
			PageSize:       getEnvAsInt("NOTIFICATION_PAGE_SIZE", 50),
			CreateFunction: getEnv("NOTIFICATION_CREATE_FUNCTION", ""),
			LogFilePath:    getEnv("NOTIFICATION_LOG_FILE_PATH", "logs/notification.log"),
		},
		Tracing: TracingConfig{
			Enabled:  getEnv("OTEL_ENABLED", "false") == "true",
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the application cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.Backend.URL == "" {
		missing = append(missing, "BACKEND_URL")
	}
	if c.Backend.AnonKey == "" {
		missing = append(missing, "BACKEND_ANON_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Notification.PageSize <= 0 {
		c.Notification.PageSize = 50
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}
