package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Transcoder TranscoderConfig
	Ingest     IngestConfig
	Stream     StreamConfig
	Reconcile  ReconcileConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Webhook    WebhookConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
	Host string
	// ReadHeaderTimeout bounds the request line and headers only. Read and
	// write timeouts default to zero: they would cover whole uploads.
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int
	MinConns    int
	AutoMigrate bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	JobTTL   time.Duration
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Driver          string // minio, s3, memory
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	UsePathStyle    bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
	Prefetch int
}

// TranscoderConfig holds transcoding configuration
type TranscoderConfig struct {
	TempDir        string
	FFmpegPath     string
	FFprobePath    string
	Preset         string
	AudioBitrate   string
	SegmentSeconds int
	Strategy       string // sequential, parallel
	MaxConcurrent  int
	JobTimeout     time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// IngestConfig holds upload validation configuration
type IngestConfig struct {
	AllowedContentTypes []string
	MaxExtensionLength  int
	MaxFilenameLength   int
	DefaultQualities    []string
	MaxUploadBytes      int64
}

// StreamConfig holds stream origin configuration
type StreamConfig struct {
	PresignTTL           time.Duration
	ManifestCacheSeconds int
}

// ReconcileConfig holds orphan sweep configuration
type ReconcileConfig struct {
	Enabled     bool
	Interval    time.Duration
	GracePeriod time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// AuthConfig holds JWT configuration for the write endpoints
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

// RateLimitConfig holds per-client upload rate limits
type RateLimitConfig struct {
	Enabled bool
	RPS     int
	Burst   int
}

// WebhookConfig holds job notification endpoints
type WebhookConfig struct {
	URLs    []string
	Secret  string
	Timeout time.Duration
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the services cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "minio", "s3", "memory":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	switch c.Transcoder.Strategy {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("unsupported transcoder strategy %q", c.Transcoder.Strategy)
	}

	if c.Ingest.MaxExtensionLength <= 0 || c.Ingest.MaxFilenameLength <= 0 {
		return fmt.Errorf("ingest filename limits must be positive")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth enabled without a jwt secret")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readHeaderTimeout", "10s")
	v.SetDefault("server.readTimeout", "0s")
	v.SetDefault("server.writeTimeout", "0s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "vodpipe")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)
	v.SetDefault("database.autoMigrate", true)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.jobTTL", "24h")

	// Storage defaults
	v.SetDefault("storage.driver", "minio")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "videos")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.usePathStyle", true)

	// Queue defaults
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.prefetch", 1)

	// Transcoder defaults
	v.SetDefault("transcoder.tempDir", "/tmp/vodpipe")
	v.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	v.SetDefault("transcoder.ffprobePath", "ffprobe")
	v.SetDefault("transcoder.preset", "veryfast")
	v.SetDefault("transcoder.audioBitrate", "128k")
	v.SetDefault("transcoder.segmentSeconds", 6)
	v.SetDefault("transcoder.strategy", "sequential")
	v.SetDefault("transcoder.maxConcurrent", 2)
	v.SetDefault("transcoder.jobTimeout", "2h")
	v.SetDefault("transcoder.maxRetries", 5)
	v.SetDefault("transcoder.retryBaseDelay", "1m")
	v.SetDefault("transcoder.retryMaxDelay", "1h")

	// Ingest defaults
	v.SetDefault("ingest.allowedContentTypes", []string{
		"video/mp4",
		"video/quicktime",
		"video/x-matroska",
		"video/webm",
		"video/x-msvideo",
		"video/mpeg",
	})
	v.SetDefault("ingest.maxExtensionLength", 5)
	v.SetDefault("ingest.maxFilenameLength", 100)
	v.SetDefault("ingest.defaultQualities", []string{"360p", "480p", "720p", "1080p"})
	v.SetDefault("ingest.maxUploadBytes", 10*1024*1024*1024) // 10GB

	// Stream defaults
	v.SetDefault("stream.presignTTL", "5m")
	v.SetDefault("stream.manifestCacheSeconds", 2)

	// Reconcile defaults
	v.SetDefault("reconcile.enabled", false)
	v.SetDefault("reconcile.interval", "1h")
	v.SetDefault("reconcile.gracePeriod", "6h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9100)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "vodpipe")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwtSecret", "")

	// Rate limit defaults
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.rps", 5)
	v.SetDefault("rateLimit.burst", 10)

	// Webhook defaults
	v.SetDefault("webhook.urls", []string{})
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "10s")
}
