package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	SES      SESConfig      `yaml:"ses"`
	Twilio   TwilioConfig   `yaml:"twilio"`
	Bedrock  BedrockConfig  `yaml:"bedrock"`
	Engine   EngineConfig   `yaml:"engine"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings. An empty URL runs the
// engine against in-memory repositories (demo mode).
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings for rate limiting and event
// dedup. An empty address selects in-process fallbacks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES email provider configuration
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromEmail      string `yaml:"from_email"`
	ConfigSet      string `yaml:"config_set"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TwilioConfig holds Twilio SMS provider configuration
type TwilioConfig struct {
	AccountSID  string `yaml:"account_sid"`
	AuthToken   string `yaml:"auth_token"`
	FromNumber  string `yaml:"from_number"`
	CallbackURL string `yaml:"callback_url"`
	Enabled     bool   `yaml:"enabled"`
}

// BedrockConfig holds AWS Bedrock settings for AI subject scoring
type BedrockConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
	Enabled bool   `yaml:"enabled"`
}

// EngineConfig holds campaign execution tuning
type EngineConfig struct {
	Workers             int `yaml:"workers"`                // personalization pool size per batch
	MaxAttempts         int `yaml:"max_attempts"`           // provider attempts per message
	BaseBackoffMillis   int `yaml:"base_backoff_millis"`    // first retry delay
	CallTimeoutSeconds  int `yaml:"call_timeout_seconds"`   // per provider call
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`  // dispatch wait granularity
	DedupRetentionDays  int `yaml:"dedup_retention_days"`   // event dedup key lifetime
}

// BaseBackoff returns the first retry delay as a duration
func (c EngineConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMillis) * time.Millisecond
}

// CallTimeout returns the per-call timeout as a duration
func (c EngineConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// PollInterval returns the dispatch wait granularity as a duration
func (c EngineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// DedupRetention returns the dedup key lifetime as a duration
func (c EngineConfig) DedupRetention() time.Duration {
	return time.Duration(c.DedupRetentionDays) * 24 * time.Hour
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = cfg.SES.Region
	}
	if cfg.Bedrock.ModelID == "" {
		cfg.Bedrock.ModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 8
	}
	if cfg.Engine.MaxAttempts == 0 {
		cfg.Engine.MaxAttempts = 4
	}
	if cfg.Engine.BaseBackoffMillis == 0 {
		cfg.Engine.BaseBackoffMillis = 1000
	}
	if cfg.Engine.CallTimeoutSeconds == 0 {
		cfg.Engine.CallTimeoutSeconds = 30
	}
	if cfg.Engine.PollIntervalSeconds == 0 {
		cfg.Engine.PollIntervalSeconds = 2
	}
	if cfg.Engine.DedupRetentionDays == 0 {
		cfg.Engine.DedupRetentionDays = 30
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SES.FromEmail = from
	}
	if sid := os.Getenv("TWILIO_ACCOUNT_SID"); sid != "" {
		cfg.Twilio.AccountSID = sid
	}
	if token := os.Getenv("TWILIO_AUTH_TOKEN"); token != "" {
		cfg.Twilio.AuthToken = token
	}
	if from := os.Getenv("TWILIO_FROM_NUMBER"); from != "" {
		cfg.Twilio.FromNumber = from
	}
	if region := os.Getenv("BEDROCK_REGION"); region != "" {
		cfg.Bedrock.Region = region
	}
	if model := os.Getenv("BEDROCK_MODEL_ID"); model != "" {
		cfg.Bedrock.ModelID = model
	}

	return cfg, nil
}
