package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Seed failure policies understood by the ingestion pipeline.
const (
	SeedFailureKeep     = "keep"
	SeedFailureRollback = "rollback"
)

// DefaultTrackers are the public WebTorrent trackers announced when none are configured.
var DefaultTrackers = []string{
	"wss://tracker.openwebtorrent.com",
	"wss://tracker.btorrent.xyz",
	"wss://tracker.fastcast.nz",
}

// Config aggregates runtime configuration for the BitBeats API.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	MinIO    MinIOConfig
	Storage  StorageConfig
	Swarm    SwarmConfig
	Identity IdentityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string
	// MaxUploadBytes caps the multipart body accepted by POST /upload.
	MaxUploadBytes int64
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Production reports whether error details must be hidden from clients.
func (s ServerConfig) Production() bool {
	return strings.EqualFold(s.Environment, "production")
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	// AutoMigrate provisions the schema at startup instead of waiting for the first failing query.
	AutoMigrate bool
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// MinIOConfig carries connection details for the optional archive mirror.
type MinIOConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	// PresignTTL bounds the lifetime of mirror download links.
	PresignTTL time.Duration
}

// StorageConfig describes where track files live on local disk.
type StorageConfig struct {
	UploadDir  string
	TempDir    string
	QuotaBytes int64
}

// SwarmConfig controls peer-to-peer publishing and retention.
type SwarmConfig struct {
	Enabled           bool
	Trackers          []string
	PublicBaseURL     string
	DataDir           string
	ListenPort        int
	SeedTimeout       time.Duration
	RetentionWindow   time.Duration
	PruneInterval     time.Duration
	RestoreWorkers    int
	SeedFailurePolicy string
}

// IdentityConfig configures how the caller's user id is resolved.
type IdentityConfig struct {
	// TokenSecret enables verification of upstream HS256 bearer tokens when set.
	TokenSecret string
	Header      string
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:           getString("BITBEATS_API_HOST", "0.0.0.0"),
			Port:           getInt("BITBEATS_API_PORT", 8080),
			ReadTimeout:    getDuration("BITBEATS_API_READ_TIMEOUT", 5*time.Minute),
			WriteTimeout:   getDuration("BITBEATS_API_WRITE_TIMEOUT", 0),
			IdleTimeout:    getDuration("BITBEATS_API_IDLE_TIMEOUT", 60*time.Second),
			Environment:    strings.ToLower(getString("BITBEATS_ENV", "development")),
			MaxUploadBytes: getBytes("BITBEATS_MAX_UPLOAD", 2*humanize.GiByte),
		},
		Postgres: PostgresConfig{
			Host:        getString("POSTGRES_HOST", "localhost"),
			Port:        getInt("POSTGRES_PORT", 5432),
			User:        getString("POSTGRES_USER", "bitbeats_app"),
			Password:    getString("POSTGRES_PASSWORD", "change-me"),
			Database:    getString("POSTGRES_DB", "bitbeats"),
			SSLMode:     strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
			MaxConns:    int32(getInt("POSTGRES_MAX_CONNS", 10)),
			AutoMigrate: getBool("POSTGRES_AUTO_MIGRATE", false),
		},
		MinIO: MinIOConfig{
			Enabled:         getBool("MINIO_ENABLED", false),
			Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("MINIO_ROOT_USER", "bitbeats"),
			SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			Bucket:          getString("MINIO_BUCKET", "bitbeats-tracks"),
			UseSSL:          getBool("MINIO_USE_SSL", false),
			Region:          getString("MINIO_REGION", ""),
			PresignTTL:      getDuration("MINIO_PRESIGN_TTL", 15*time.Minute),
		},
		Storage: StorageConfig{
			UploadDir:  getString("BITBEATS_UPLOAD_DIR", "data/uploads"),
			TempDir:    getString("BITBEATS_TEMP_DIR", "data/tmp"),
			QuotaBytes: getBytes("BITBEATS_QUOTA_BYTES", 10*humanize.GiByte),
		},
		Swarm: loadSwarmConfig(),
		Identity: IdentityConfig{
			TokenSecret: getString("BITBEATS_IDENTITY_TOKEN_SECRET", ""),
			Header:      getString("BITBEATS_IDENTITY_HEADER", "X-User-ID"),
		},
		Logging: LoggingConfig{
			Level:      getString("LOG_LEVEL", "info"),
			File:       getString("LOG_FILE", ""),
			MaxSizeMB:  getInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getInt("LOG_MAX_AGE_DAYS", 30),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("BITBEATS_METRICS_PATH", "/metrics"),
		},
	}

	if cfg.Storage.QuotaBytes <= 0 {
		return Config{}, fmt.Errorf("BITBEATS_QUOTA_BYTES must be positive")
	}
	if cfg.Swarm.RetentionWindow <= 0 {
		return Config{}, fmt.Errorf("BITBEATS_SWARM_RETENTION must be positive")
	}
	if cfg.Swarm.PruneInterval <= 0 {
		return Config{}, fmt.Errorf("BITBEATS_SWARM_PRUNE_INTERVAL must be positive")
	}

	return cfg, nil
}

func loadSwarmConfig() SwarmConfig {
	policy := strings.ToLower(getString("BITBEATS_SEED_FAILURE_POLICY", SeedFailureKeep))
	if policy != SeedFailureKeep && policy != SeedFailureRollback {
		policy = SeedFailureKeep
	}

	workers := getInt("BITBEATS_SWARM_RESTORE_WORKERS", 4)
	if workers < 1 {
		workers = 1
	}

	return SwarmConfig{
		Enabled:           getBool("BITBEATS_SWARM_ENABLED", true),
		Trackers:          getList("BITBEATS_SWARM_TRACKERS", DefaultTrackers),
		PublicBaseURL:     strings.TrimRight(getString("BITBEATS_PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		DataDir:           getString("BITBEATS_SWARM_DATA_DIR", "data/swarm"),
		ListenPort:        getInt("BITBEATS_SWARM_LISTEN_PORT", 0),
		SeedTimeout:       getDuration("BITBEATS_SWARM_SEED_TIMEOUT", 30*time.Second),
		RetentionWindow:   getDuration("BITBEATS_SWARM_RETENTION", 90*24*time.Hour),
		PruneInterval:     getDuration("BITBEATS_SWARM_PRUNE_INTERVAL", 24*time.Hour),
		RestoreWorkers:    workers,
		SeedFailurePolicy: policy,
	}
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// getBytes accepts plain byte counts as well as humanized sizes such as "10GiB".
func getBytes(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := humanize.ParseBytes(strings.TrimSpace(val)); err == nil {
			return int64(parsed)
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
