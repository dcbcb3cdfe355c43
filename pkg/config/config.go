package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process-wide configuration. It is loaded once at startup
// and passed by value into constructors; nothing reads the environment
// after Load returns.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Aria2    Aria2Config
	Transfer TransferConfig
	Queue    QueueConfig
	Notify   NotifyConfig
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int
	APIKey      string
	CORSOrigins string
	AppVersion  string
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Address returns host:port for the Redis client.
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig configures the S3 relay target.
type StorageConfig struct {
	Region string
	Bucket string
	Prefix string
}

// Aria2Config configures the primary download engine's RPC endpoint.
type Aria2Config struct {
	RPCURL         string
	RPCSecret      string
	MaxConnections int
	Split          int
}

// NotifyConfig configures terminal-transition notifications.
type NotifyConfig struct {
	Provider    string
	FromAddress string
	ToAddress   string
	AWSRegion   string
}

// Load reads the full configuration from the environment.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", 8080),
			APIKey:      getEnv("API_KEY", "change-me"),
			CORSOrigins: getEnv("CORS_ORIGINS", "*"),
			AppVersion:  getEnv("APP_VERSION", "1.0.0"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Region: getEnv("AWS_REGION", "us-east-1"),
			Bucket: getEnv("AWS_BUCKET", "transloader-relay"),
			Prefix: getEnv("AWS_BUCKET_PREFIX", ""),
		},
		Aria2: Aria2Config{
			RPCURL:         getEnv("ARIA2_RPC_URL", "http://localhost:6800/jsonrpc"),
			RPCSecret:      getEnv("ARIA2_RPC_SECRET", ""),
			MaxConnections: getEnvInt("ARIA2_MAX_CONNECTIONS", 16),
			Split:          getEnvInt("ARIA2_SPLIT", 16),
		},
		Transfer: loadTransferConfig(),
		Queue:    loadQueueConfig(),
		Notify: NotifyConfig{
			Provider:    getEnv("NOTIFY_PROVIDER", "console"),
			FromAddress: getEnv("NOTIFY_FROM_ADDRESS", "noreply@transloader.local"),
			ToAddress:   getEnv("NOTIFY_TO_ADDRESS", ""),
			AWSRegion:   getEnv("NOTIFY_AWS_REGION", getEnv("AWS_REGION", "us-east-1")),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvStringSlice(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
