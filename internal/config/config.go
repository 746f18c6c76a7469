package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Env      Environment `envconfig:"ENV" default:"development"`
	LogLevel string      `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool        `envconfig:"DEBUG" default:"false"`

	// Application
	App AppConfig

	// Server
	Server ServerConfig

	// Browser session
	Browser BrowserConfig

	// Step execution
	Executor ExecutorConfig

	// Selector healing
	Healing HealingConfig

	// Selector synthesis
	Selector SelectorConfig

	// Vision fallback
	Vision VisionConfig

	// Claude AI
	Claude ClaudeConfig

	// Recording sessions
	Recorder RecorderConfig

	// Local artifacts (recorded tests, screenshots, baselines)
	Artifacts ArtifactsConfig

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// S3/MinIO evidence storage
	Storage StorageConfig
}

// AppConfig holds application metadata
type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"stepflow"`
	Version  string `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel string `envconfig:"APP_LOG_LEVEL" default:"info"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	MaxRequestSize  int64         `envconfig:"SERVER_MAX_REQUEST_SIZE" default:"10485760"` // 10MB

	// RunQueueSize bounds how many replays may wait for the browser session.
	RunQueueSize int `envconfig:"SERVER_RUN_QUEUE_SIZE" default:"16"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BrowserConfig holds browser launch settings
type BrowserConfig struct {
	Name           string        `envconfig:"BROWSER_NAME" default:"chromium"`
	Headless       bool          `envconfig:"BROWSER_HEADLESS" default:"true"`
	ViewportWidth  int           `envconfig:"BROWSER_VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight int           `envconfig:"BROWSER_VIEWPORT_HEIGHT" default:"720"`
	SlowMo         time.Duration `envconfig:"BROWSER_SLOW_MO" default:"0"`
}

// ExecutorConfig holds step execution settings
type ExecutorConfig struct {
	ActionTimeout     time.Duration `envconfig:"EXECUTOR_ACTION_TIMEOUT" default:"5s"`
	NavigationTimeout time.Duration `envconfig:"EXECUTOR_NAVIGATION_TIMEOUT" default:"30s"`
	ContinueOnAssert  bool          `envconfig:"EXECUTOR_CONTINUE_ON_ASSERT" default:"false"`
	ConsoleTailSize   int           `envconfig:"EXECUTOR_CONSOLE_TAIL_SIZE" default:"5"`
}

// HealingConfig holds selector healing settings
type HealingConfig struct {
	Enabled             bool          `envconfig:"HEALING_ENABLED" default:"true"`
	SimilarityThreshold float64       `envconfig:"HEALING_SIMILARITY_THRESHOLD" default:"0.6"`
	ValidationTimeout   time.Duration `envconfig:"HEALING_VALIDATION_TIMEOUT" default:"2s"`
}

// SelectorConfig holds selector synthesis settings
type SelectorConfig struct {
	DynamicEntropyThreshold float64 `envconfig:"SELECTOR_DYNAMIC_ENTROPY" default:"3.5"`
	DynamicMinLength        int     `envconfig:"SELECTOR_DYNAMIC_MIN_LENGTH" default:"8"`
	TextMaxLength           int     `envconfig:"SELECTOR_TEXT_MAX_LENGTH" default:"50"`
}

// VisionConfig holds vision verification settings
type VisionConfig struct {
	Enabled            bool          `envconfig:"VISION_ENABLED" default:"true"`
	Timeout            time.Duration `envconfig:"VISION_TIMEOUT" default:"45s"`
	PixelDiffThreshold float64       `envconfig:"VISION_PIXEL_DIFF_THRESHOLD" default:"0.02"`
}

// ClaudeConfig holds Claude AI settings
type ClaudeConfig struct {
	APIKey        string        `envconfig:"ANTHROPIC_API_KEY" required:"true"`
	Model         string        `envconfig:"CLAUDE_MODEL" default:"claude-sonnet-4-20250514"`
	MaxTokens     int           `envconfig:"CLAUDE_MAX_TOKENS" default:"8192"`
	Timeout       time.Duration `envconfig:"CLAUDE_TIMEOUT" default:"120s"`
	RateLimitRPM  int           `envconfig:"CLAUDE_RATE_LIMIT_RPM" default:"50"`
	CacheTTL      time.Duration `envconfig:"CLAUDE_CACHE_TTL" default:"24h"`
	CacheSize     int           `envconfig:"CLAUDE_CACHE_SIZE" default:"1000"`
	MaxRetries    int           `envconfig:"CLAUDE_MAX_RETRIES" default:"3"`
	EnableCaching bool          `envconfig:"CLAUDE_ENABLE_CACHING" default:"true"`
}

// RecorderConfig holds recording session settings
type RecorderConfig struct {
	MaxSteps         int     `envconfig:"RECORDER_MAX_STEPS" default:"40"`
	DefaultWaitAfter float64 `envconfig:"RECORDER_DEFAULT_WAIT_AFTER" default:"1"`
}

// ArtifactsConfig holds local artifact directory settings
type ArtifactsConfig struct {
	OutputDir   string `envconfig:"OUTPUT_DIR" default:"output"`
	BaselineDir string `envconfig:"BASELINE_DIR" default:"output/baselines"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	Enabled         bool          `envconfig:"DB_ENABLED" default:"false"`
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"stepflow"`
	Password        string        `envconfig:"DB_PASSWORD" default:""`
	Database        string        `envconfig:"DB_NAME" default:"stepflow"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"1m"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	Enabled      bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Host         string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port         int           `envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `envconfig:"REDIS_PASSWORD" default:""`
	DB           int           `envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"5"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig holds object storage settings for uploaded evidence
type StorageConfig struct {
	Enabled        bool   `envconfig:"STORAGE_ENABLED" default:"false"`
	Endpoint       string `envconfig:"STORAGE_ENDPOINT" default:"localhost:9000"`
	AccessKey      string `envconfig:"STORAGE_ACCESS_KEY" default:"minioadmin"`
	SecretKey      string `envconfig:"STORAGE_SECRET_KEY" default:"minioadmin"`
	Bucket         string `envconfig:"STORAGE_BUCKET" default:"stepflow"`
	Region         string `envconfig:"STORAGE_REGION" default:"us-east-1"`
	UseSSL         bool   `envconfig:"STORAGE_USE_SSL" default:"false"`
	ScreenshotPath string `envconfig:"STORAGE_SCREENSHOT_PATH" default:"screenshots"`
	ReportPath     string `envconfig:"STORAGE_REPORT_PATH" default:"reports"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with defaults for missing required fields (for CLI tools)
func LoadWithDefaults() (*Config, error) {
	var cfg Config

	// Try to load from env, but don't fail on missing required fields
	envconfig.Process("", &cfg)

	if cfg.Claude.APIKey == "" {
		cfg.Claude.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors []string

	// Validate Claude config (required for recording and vision fallback)
	if c.Claude.APIKey == "" {
		errors = append(errors, "ANTHROPIC_API_KEY is required")
	}

	if c.Healing.SimilarityThreshold <= 0 || c.Healing.SimilarityThreshold > 1 {
		errors = append(errors, "HEALING_SIMILARITY_THRESHOLD must be in (0, 1]")
	}

	if c.Vision.PixelDiffThreshold < 0 || c.Vision.PixelDiffThreshold > 1 {
		errors = append(errors, "VISION_PIXEL_DIFF_THRESHOLD must be in [0, 1]")
	}

	if c.Executor.ActionTimeout <= 0 {
		errors = append(errors, "EXECUTOR_ACTION_TIMEOUT must be positive")
	}

	if c.Recorder.MaxSteps < 1 {
		errors = append(errors, "RECORDER_MAX_STEPS must be at least 1")
	}

	// Validate database when persistence is enabled
	if c.Database.Enabled && c.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required when DB_ENABLED is true")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// GetLogLevel returns the appropriate zap log level
func (c *Config) GetLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}
