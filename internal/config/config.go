package config

import (
	"time"

	"github.com/roastedbeans/certification-authority/internal/models"
)

type Config struct {
	Env         string       `yaml:"env" env:"APP_ENV" validate:"oneof=development test staging production"`
	Port        int          `yaml:"port" env:"PORT" validate:"gte=1,lte=65535"`
	DatabaseURL string       `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string       `yaml:"redis_url" env:"REDIS_URL"`
	Logger      LoggerConfig `yaml:"logger"`

	Auth             AuthConfig      `yaml:"auth"`
	Clients          []models.Client `yaml:"clients" validate:"dive"`
	ClientsParameter string          `yaml:"clients_parameter" env:"CLIENTS_PARAMETER"`

	Signer    SignerConfig    `yaml:"signer"`
	SignURLs  SignURLConfig   `yaml:"sign_urls"`
	Flow      FlowConfig      `yaml:"flow"`
	Detection DetectionConfig `yaml:"detection"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Server    ServerConfig    `yaml:"server"`
}

type LoggerConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	Encoding string `yaml:"encoding" env:"LOG_ENCODING" validate:"omitempty,oneof=json console"`
}

// AuthConfig configures OAuth token issuing. SigningKeySecret names a
// Secrets Manager secret that replaces SigningKey when set.
type AuthConfig struct {
	Issuer           string        `yaml:"issuer" env:"AUTH_ISSUER" validate:"required"`
	Audience         string        `yaml:"audience" env:"AUTH_AUDIENCE" validate:"required"`
	SigningKey       string        `yaml:"signing_key" env:"JWT_SIGNING_KEY" validate:"required,min=32"`
	SigningKeySecret string        `yaml:"signing_key_secret" env:"JWT_SIGNING_KEY_SECRET"`
	TokenTTL         time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	ClockSkew        time.Duration `yaml:"clock_skew"`
	MaxIATDrift      time.Duration `yaml:"max_iat_drift"`
	RevocationStore  string        `yaml:"revocation_store" validate:"omitempty,oneof=memory redis"`
}

type SignerConfig struct {
	Mode           string        `yaml:"mode" env:"SIGNER_MODE" validate:"oneof=local kms"`
	KMSKeyID       string        `yaml:"kms_key_id" env:"KMS_KEY_ID" validate:"required_if=Mode kms"`
	KMSAlgorithm   string        `yaml:"kms_algorithm"`
	KMSTimeout     time.Duration `yaml:"kms_timeout"`
	PublicKeyTTL   time.Duration `yaml:"public_key_ttl"`
	PrivateKeyFile string        `yaml:"private_key_file" env:"SIGNER_KEY_FILE"`
}

// SignURLConfig holds the bases of the redirect URLs returned by a sign request.
type SignURLConfig struct {
	IOSAppScheme string `yaml:"ios_app_scheme"`
	AOSAppScheme string `yaml:"aos_app_scheme"`
	Web          string `yaml:"web" validate:"omitempty,url"`
}

// FlowConfig selects where flow state and idempotency records live.
type FlowConfig struct {
	Store          string        `yaml:"store" env:"FLOW_STORE" validate:"omitempty,oneof=memory redis"`
	StateTTL       time.Duration `yaml:"state_ttl"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type DetectionConfig struct {
	Enabled     bool   `yaml:"enabled" env:"DETECTION_ENABLED"`
	LogDir      string `yaml:"log_dir" env:"DETECTION_LOG_DIR" validate:"required_if=Enabled true"`
	MaxRecords  int    `yaml:"max_records" validate:"gte=0"`
	Correlation string `yaml:"correlation" validate:"omitempty,oneof=position request_id"`
}

// RateLimitConfig is a per-client token bucket. A window whose request count
// exceeds AnomalyThreshold is logged as an anomaly.
type RateLimitConfig struct {
	Enabled          bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	RPS              float64       `yaml:"rps" validate:"gte=0"`
	Burst            int           `yaml:"burst" validate:"gte=0"`
	Window           time.Duration `yaml:"window"`
	AnomalyThreshold int           `yaml:"anomaly_threshold" validate:"gte=0"`
}

type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled" env:"KAFKA_ENABLED"`
	Brokers        []string      `yaml:"brokers" env:"KAFKA_BROKERS" validate:"required_if=Enabled true"`
	TopicAudit     string        `yaml:"topic_audit"`
	TopicDetection string        `yaml:"topic_detection"`
	BatchSize      int           `yaml:"batch_size"`
	FlushEvery     time.Duration `yaml:"flush_every"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	TLS            bool          `yaml:"tls"`
}

// ArchiveConfig points the analyzer at an S3 compatible bucket.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ARCHIVE_ENDPOINT"`
	Region    string `yaml:"region" env:"ARCHIVE_REGION"`
	Bucket    string `yaml:"bucket" env:"ARCHIVE_BUCKET"`
	AccessKey string `yaml:"access_key" env:"ARCHIVE_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"ARCHIVE_SECRET_KEY"`
	Prefix    string `yaml:"prefix"`
}

type ServerConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = "json"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Auth.RevocationStore == "" {
		c.Auth.RevocationStore = "memory"
	}
	if c.Signer.Mode == "" {
		c.Signer.Mode = "local"
	}
	if c.Flow.Store == "" {
		c.Flow.Store = "memory"
	}
	if c.Flow.StateTTL == 0 {
		c.Flow.StateTTL = 24 * time.Hour
	}
	if c.Flow.IdempotencyTTL == 0 {
		c.Flow.IdempotencyTTL = 24 * time.Hour
	}
	if c.Detection.LogDir == "" {
		c.Detection.LogDir = "logs"
	}
	if c.Detection.Correlation == "" {
		c.Detection.Correlation = "position"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.AnomalyThreshold == 0 {
		c.RateLimit.AnomalyThreshold = 100
	}
	if c.Kafka.TopicAudit == "" {
		c.Kafka.TopicAudit = "ca.audit"
	}
	if c.Kafka.TopicDetection == "" {
		c.Kafka.TopicDetection = "ca.detection"
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "detection-reports"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
}

// UsesRedis reports whether any store is configured to live in Redis.
func (c *Config) UsesRedis() bool {
	return c.Flow.Store == "redis" || c.Auth.RevocationStore == "redis" || c.RateLimit.Enabled && c.RedisURL != ""
}
