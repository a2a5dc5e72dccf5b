package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Relay    RelayConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// RelayConfig tunes the session registry.
type RelayConfig struct {
	GracePeriod         time.Duration // how long an ended session stays queryable
	MaxBufferedReadings int           // 0 = unbounded
	ClientSendBuffer    int           // outbound queue depth per connection
	SummaryDedupWindow  time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL disables
// stream statistics and attendance logging.
type DatabaseConfig struct {
	URL string
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// RedisConfig holds Redis connection settings. An empty Addr disables the
// event mirror and the archive queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
	// PresignExpireMinutes bounds archive download links.
	PresignExpireMinutes int
}

// ArchiveEnabled reports whether session archives can be stored.
func (c AWSConfig) ArchiveEnabled() bool { return c.ArchiveBucket != "" }

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, err := getEnvInt("READ_TIMEOUT_SEC", 30)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := getEnvInt("WRITE_TIMEOUT_SEC", 30)
	if err != nil {
		return nil, err
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	grace, err := getEnvDuration("SESSION_GRACE_PERIOD", time.Hour)
	if err != nil {
		return nil, err
	}
	maxReadings, err := getEnvInt("MAX_BUFFERED_READINGS", 0)
	if err != nil {
		return nil, err
	}
	sendBuffer, err := getEnvInt("CLIENT_SEND_BUFFER", 256)
	if err != nil {
		return nil, err
	}
	dedup, err := getEnvDuration("SUMMARY_DEDUP_WINDOW", time.Second)
	if err != nil {
		return nil, err
	}
	presign, err := getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	if maxReadings < 0 || sendBuffer <= 0 || grace < 0 || dedup <= 0 {
		return nil, errors.New("config: CLIENT_SEND_BUFFER and SUMMARY_DEDUP_WINDOW must be positive, SESSION_GRACE_PERIOD and MAX_BUFFERED_READINGS must not be negative")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "3000"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Relay: RelayConfig{
			GracePeriod:         grace,
			MaxBufferedReadings: maxReadings,
			ClientSendBuffer:    sendBuffer,
			SummaryDedupWindow:  dedup,
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", ""),

			PresignExpireMinutes: presign,
		},
	}
	return cfg, nil
}

// Origins splits CORSAllowedOrigins.
func (c ServerConfig) Origins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
