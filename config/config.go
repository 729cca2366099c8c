package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Meterflow MeterflowConfig `yaml:"meterflow"`
	API       APIConfig       `yaml:"api"`
	Polling   PollingConfig   `yaml:"polling"`
	Meters    MetersConfig    `yaml:"meters"`
	Database  DatabaseConfig  `yaml:"database"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type MeterflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type APIConfig struct {
	BaseURL           string               `yaml:"base_url"`
	MerchantToken     string               `yaml:"merchant_token"`
	UserAgent         string               `yaml:"user_agent"`
	Origin            string               `yaml:"origin"`
	Referer           string               `yaml:"referer"`
	DiscoveryEndpoint string               `yaml:"discovery_endpoint"`
	StatusMethod      string               `yaml:"status_method"`
	Timeout           time.Duration        `yaml:"timeout"`
	ConnectionPool    ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit         RateLimitConfig      `yaml:"rate_limit"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type PollingConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Interval returns the shared polling interval as a duration.
func (p PollingConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

type MetersConfig struct {
	ManualIDs []string `yaml:"manual_ids"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ChannelsConfig struct {
	ArchiveBuffer int `yaml:"archive_buffer"`
}

type WriterConfig struct {
	FlushInterval      time.Duration `yaml:"flush_interval"`
	MaxBufferedRecords int           `yaml:"max_buffered_records"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Secrets may come from the environment instead of the file.
	if v := os.Getenv("METERFLOW_MERCHANT_TOKEN"); v != "" {
		config.API.MerchantToken = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.DiscoveryEndpoint == "" {
		cfg.API.DiscoveryEndpoint = "/merchant/meters"
	}
	if cfg.API.StatusMethod == "" {
		cfg.API.StatusMethod = "GET"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.API.ConnectionPool.MaxIdleConns == 0 {
		cfg.API.ConnectionPool.MaxIdleConns = 10
	}
	if cfg.API.ConnectionPool.MaxConnsPerHost == 0 {
		cfg.API.ConnectionPool.MaxConnsPerHost = 10
	}
	if cfg.API.ConnectionPool.IdleConnTimeout == 0 {
		cfg.API.ConnectionPool.IdleConnTimeout = 90 * time.Second
	}
	if cfg.API.RateLimit.RequestsPerSecond == 0 {
		cfg.API.RateLimit.RequestsPerSecond = 5
	}
	if cfg.API.RateLimit.BurstSize == 0 {
		cfg.API.RateLimit.BurstSize = cfg.API.RateLimit.RequestsPerSecond
	}
	if cfg.Channels.ArchiveBuffer == 0 {
		cfg.Channels.ArchiveBuffer = 1000
	}
	if cfg.Writer.FlushInterval == 0 {
		cfg.Writer.FlushInterval = time.Minute
	}
	if cfg.Writer.MaxBufferedRecords == 0 {
		cfg.Writer.MaxBufferedRecords = 500
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "MeterFlow"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Meterflow.Name == "" {
		return fmt.Errorf("meterflow.name is required")
	}

	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}

	if cfg.API.MerchantToken == "" {
		return fmt.Errorf("api.merchant_token is required")
	}

	if cfg.Polling.IntervalSeconds <= 0 {
		return fmt.Errorf("polling.interval_seconds must be greater than zero")
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is not a valid bucket name", cfg.Storage.S3.Bucket)
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}

	return nil
}

var s3BucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// isValidS3Bucket applies the S3 bucket naming rules that matter in
// practice: length, allowed characters, and no adjacent dots.
func isValidS3Bucket(name string) bool {
	if !s3BucketPattern.MatchString(name) {
		return false
	}
	return !strings.Contains(name, "..")
}
