package config

import (
	"os"
	"testing"
	"time"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	if got := cfg.DSN(); got != expected {
		t.Errorf("DSN() = %v, want %v", got, expected)
	}
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{
		Host: "redis.example.com",
		Port: 6380,
	}

	if got := cfg.Addr(); got != "redis.example.com:6380" {
		t.Errorf("Addr() = %v, want redis.example.com:6380", got)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	cfg := ServerConfig{
		Host: "0.0.0.0",
		Port: 9090,
	}

	if got := cfg.Addr(); got != "0.0.0.0:9090" {
		t.Errorf("Addr() = %v, want 0.0.0.0:9090", got)
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		name     string
		env      Environment
		expected bool
	}{
		{
			name:     "development",
			env:      EnvDevelopment,
			expected: true,
		},
		{
			name:     "staging",
			env:      EnvStaging,
			expected: false,
		},
		{
			name:     "production",
			env:      EnvProduction,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Env: tt.env}
			if got := cfg.IsDevelopment(); got != tt.expected {
				t.Errorf("IsDevelopment() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name     string
		env      Environment
		expected bool
	}{
		{
			name:     "development",
			env:      EnvDevelopment,
			expected: false,
		},
		{
			name:     "production",
			env:      EnvProduction,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Env: tt.env}
			if got := cfg.IsProduction(); got != tt.expected {
				t.Errorf("IsProduction() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestConfig_GetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		debug    bool
		logLevel string
		expected string
	}{
		{
			name:     "debug mode overrides",
			debug:    true,
			logLevel: "info",
			expected: "debug",
		},
		{
			name:     "normal mode uses log level",
			debug:    false,
			logLevel: "warn",
			expected: "warn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Debug: tt.debug, LogLevel: tt.logLevel}
			if got := cfg.GetLogLevel(); got != tt.expected {
				t.Errorf("GetLogLevel() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Env: EnvDevelopment,
		Claude: ClaudeConfig{
			APIKey: "test-key",
		},
		Healing: HealingConfig{
			SimilarityThreshold: 0.6,
		},
		Vision: VisionConfig{
			PixelDiffThreshold: 0.02,
		},
		Executor: ExecutorConfig{
			ActionTimeout: 5 * time.Second,
		},
		Recorder: RecorderConfig{
			MaxSteps: 40,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid development config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "missing claude API key",
			mutate: func(c *Config) {
				c.Claude.APIKey = ""
			},
			wantErr: true,
		},
		{
			name: "similarity threshold out of range",
			mutate: func(c *Config) {
				c.Healing.SimilarityThreshold = 1.5
			},
			wantErr: true,
		},
		{
			name: "similarity threshold zero",
			mutate: func(c *Config) {
				c.Healing.SimilarityThreshold = 0
			},
			wantErr: true,
		},
		{
			name: "pixel diff threshold negative",
			mutate: func(c *Config) {
				c.Vision.PixelDiffThreshold = -0.1
			},
			wantErr: true,
		},
		{
			name: "zero action timeout",
			mutate: func(c *Config) {
				c.Executor.ActionTimeout = 0
			},
			wantErr: true,
		},
		{
			name: "zero max steps",
			mutate: func(c *Config) {
				c.Recorder.MaxSteps = 0
			},
			wantErr: true,
		},
		{
			name: "database enabled without password",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Password = ""
			},
			wantErr: true,
		},
		{
			name: "database enabled with password",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Password = "secret"
			},
			wantErr: false,
		},
		{
			name: "database disabled without password is fine",
			mutate: func(c *Config) {
				c.Database.Enabled = false
				c.Database.Password = ""
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadWithDefaults(t *testing.T) {
	originalAPIKey := os.Getenv("ANTHROPIC_API_KEY")
	defer os.Setenv("ANTHROPIC_API_KEY", originalAPIKey)

	t.Run("uses env var when set", func(t *testing.T) {
		os.Setenv("ANTHROPIC_API_KEY", "custom-api-key")

		cfg, err := LoadWithDefaults()
		if err != nil {
			t.Fatalf("LoadWithDefaults() error = %v", err)
		}

		if cfg.Claude.APIKey != "custom-api-key" {
			t.Errorf("Claude.APIKey = %v, want custom-api-key", cfg.Claude.APIKey)
		}
	})

	t.Run("does not fail on missing API key", func(t *testing.T) {
		os.Setenv("ANTHROPIC_API_KEY", "")

		if _, err := LoadWithDefaults(); err != nil {
			t.Fatalf("LoadWithDefaults() error = %v", err)
		}
	})
}

func TestEnvironmentConstants(t *testing.T) {
	if EnvDevelopment != "development" {
		t.Errorf("EnvDevelopment = %v, want development", EnvDevelopment)
	}
	if EnvStaging != "staging" {
		t.Errorf("EnvStaging = %v, want staging", EnvStaging)
	}
	if EnvProduction != "production" {
		t.Errorf("EnvProduction = %v, want production", EnvProduction)
	}
}

func TestStorageConfig_Fields(t *testing.T) {
	cfg := StorageConfig{
		Enabled:        true,
		Endpoint:       "s3.amazonaws.com",
		AccessKey:      "access",
		SecretKey:      "secret",
		Bucket:         "my-bucket",
		Region:         "us-west-2",
		UseSSL:         true,
		ScreenshotPath: "screenshots",
		ReportPath:     "reports",
	}

	if cfg.Endpoint != "s3.amazonaws.com" {
		t.Errorf("Endpoint = %v, want s3.amazonaws.com", cfg.Endpoint)
	}
	if !cfg.UseSSL {
		t.Error("UseSSL should be true")
	}
	if cfg.ScreenshotPath != "screenshots" {
		t.Errorf("ScreenshotPath = %v, want screenshots", cfg.ScreenshotPath)
	}
}
