package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Session     SessionConfig
	Room        RoomConfig
	RateLimit   RateLimitConfig
	Transport   TransportConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig points at the durable store for audit records. The DSN is
// optional: without it the coordination layer runs purely on the shared cache.
type DatabaseConfig struct {
	DSN            string
	MaxConnections int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

type SessionConfig struct {
	TTL           time.Duration
	MaxInactive   time.Duration
	SweepInterval time.Duration
}

type RoomConfig struct {
	TTL            time.Duration
	SweepInterval  time.Duration
	DefaultMaxSize int
}

// DimensionLimit is the sliding-window budget for one rate-limit dimension.
type DimensionLimit struct {
	Limit  int
	Window time.Duration
}

type RateLimitConfig struct {
	IP                 DimensionLimit
	User               DimensionLimit
	APIKey             DimensionLimit
	AutoBan            bool
	ViolationThreshold int
	ViolationWindow    time.Duration
	BanDuration        time.Duration
}

type TransportConfig struct {
	MessagesPerSecond float64
	Burst             int
	ReplyTimeout      time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			DSN:            getEnv("DATABASE_DSN", ""),
			MaxConnections: getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
			Issuer: getEnv("JWT_ISSUER", "connection-coordinator"),
			TTL:    getEnvAsDuration("JWT_TTL", 24*time.Hour),
		},
		Session: SessionConfig{
			TTL:           getEnvAsDuration("SESSION_TTL", 2*time.Hour),
			MaxInactive:   getEnvAsDuration("SESSION_MAX_INACTIVE", 1*time.Hour),
			SweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		},
		Room: RoomConfig{
			TTL:            getEnvAsDuration("ROOM_TTL", 6*time.Hour),
			SweepInterval:  getEnvAsDuration("ROOM_SWEEP_INTERVAL", 15*time.Minute),
			DefaultMaxSize: getEnvAsInt("ROOM_DEFAULT_MAX_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			IP: DimensionLimit{
				Limit:  getEnvAsInt("RATE_LIMIT_IP_LIMIT", 100),
				Window: getEnvAsDuration("RATE_LIMIT_IP_WINDOW", time.Minute),
			},
			User: DimensionLimit{
				Limit:  getEnvAsInt("RATE_LIMIT_USER_LIMIT", 200),
				Window: getEnvAsDuration("RATE_LIMIT_USER_WINDOW", time.Minute),
			},
			APIKey: DimensionLimit{
				Limit:  getEnvAsInt("RATE_LIMIT_API_KEY_LIMIT", 500),
				Window: getEnvAsDuration("RATE_LIMIT_API_KEY_WINDOW", time.Minute),
			},
			AutoBan:            getEnvAsBool("RATE_LIMIT_AUTO_BAN", true),
			ViolationThreshold: getEnvAsInt("RATE_LIMIT_VIOLATION_THRESHOLD", 5),
			ViolationWindow:    getEnvAsDuration("RATE_LIMIT_VIOLATION_WINDOW", 10*time.Minute),
			BanDuration:        getEnvAsDuration("RATE_LIMIT_BAN_DURATION", 30*time.Minute),
		},
		Transport: TransportConfig{
			MessagesPerSecond: getEnvAsFloat("WS_MESSAGES_PER_SECOND", 50),
			Burst:             getEnvAsInt("WS_BURST", 100),
			ReplyTimeout:      getEnvAsDuration("REPLY_DEFAULT_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret must be set")
	}
	if c.Session.TTL <= 0 || c.Room.TTL <= 0 {
		return fmt.Errorf("session and room TTL must be positive")
	}
	for _, dim := range []DimensionLimit{c.RateLimit.IP, c.RateLimit.User, c.RateLimit.APIKey} {
		if dim.Limit <= 0 || dim.Window <= 0 {
			return fmt.Errorf("rate limit values must be positive")
		}
	}
	if c.RateLimit.AutoBan && (c.RateLimit.ViolationThreshold <= 0 || c.RateLimit.BanDuration <= 0) {
		return fmt.Errorf("auto-ban threshold and duration must be positive")
	}
	if c.Transport.ReplyTimeout <= 0 {
		return fmt.Errorf("reply timeout must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
