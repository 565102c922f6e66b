package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service  ServiceConfig
	Browser  BrowserConfig
	LLM      LLMConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// BrowserConfig holds browser connection settings
type BrowserConfig struct {
	// CDP debug endpoints probed in order when attaching to a running browser
	DebugURLs       []string
	DefaultHeadless bool
}

// LLMConfig holds settings for the OpenAI-compatible LLM endpoint
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	Timeout     time.Duration
}

// StoreConfig selects the execution-record store backend
type StoreConfig struct {
	Backend string // "file" or "postgres"
	DataDir string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds the optional event-mirror settings
type RedisConfig struct {
	Enabled bool
	Addr    string
	DB      int
}

// EngineConfig holds execution-engine timeouts
type EngineConfig struct {
	ElementTimeout     time.Duration
	UserInputTimeout   time.Duration
	NetworkIdleTimeout time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8000),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Browser: BrowserConfig{
			DebugURLs: getEnvSlice("BROWSER_DEBUG_URLS", []string{
				"http://127.0.0.1:9222",
				"http://localhost:9222",
			}),
			DefaultHeadless: getEnvBool("BROWSER_HEADLESS", true),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			VisionModel: getEnv("LLM_VISION_MODEL", "gpt-4o-mini"),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "file"),
			DataDir: getEnv("DATA_DIR", "./data"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "schemaflow"),
			User:        getEnv("POSTGRES_USER", "schemaflow"),
			Password:    getEnv("POSTGRES_PASSWORD", "schemaflow"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled: getEnvBool("REDIS_EVENTS_ENABLED", false),
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			DB:      getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			ElementTimeout:     getEnvDuration("ELEMENT_TIMEOUT", 30*time.Second),
			UserInputTimeout:   getEnvDuration("USER_INPUT_TIMEOUT", 300*time.Second),
			NetworkIdleTimeout: getEnvDuration("NETWORK_IDLE_TIMEOUT", 5*time.Second),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Store.Backend != "file" && c.Store.Backend != "postgres" {
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	if c.Store.Backend == "postgres" && c.Database.Host == "" {
		return fmt.Errorf("database host is required for the postgres store")
	}

	if len(c.Browser.DebugURLs) == 0 {
		return fmt.Errorf("at least one browser debug URL is required")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
