package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/dronetm/upload-dispatcher/pkg/logger"
)

// Config holds the configuration for the upload dispatcher service
type Config struct {
	APIPort              string
	MetricsPort          string
	MetricsAPIKey        string
	RetryBudget          int
	MaxRetryBudget       int
	RetryDelay           time.Duration
	UploadAttemptTimeout time.Duration
	MaxConcurrency       int
	MaxBatchBytes        int64
	DeadLetterPath       string
	ManifestPath         string
	CircuitBreaker       CircuitBreakerConfig
	S3                   S3Config
	LoggerConfig         LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// S3Config holds the object storage settings used for s3:// destinations and presigning
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PresignExpiry   time.Duration
}

// Enabled reports whether enough S3 settings are present to build a client
func (c S3Config) Enabled() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	return FromEnv()
}

// FromEnv builds a Config from the current process environment
func FromEnv() (*Config, error) {
	apiPort, err := GetEnvAPIPort()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	retryBudget, err := GetEnvRetryBudget()
	if err != nil {
		return nil, err
	}

	maxRetryBudget, err := GetEnvMaxRetryBudget()
	if err != nil {
		return nil, err
	}

	retryDelay, err := GetEnvRetryDelay()
	if err != nil {
		return nil, err
	}

	attemptTimeout, err := GetEnvUploadAttemptTimeout()
	if err != nil {
		return nil, err
	}

	maxConcurrency, err := GetEnvMaxConcurrency()
	if err != nil {
		return nil, err
	}

	maxBatchBytes, err := GetEnvMaxBatchBytes()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	s3Endpoint, err := GetEnvS3Endpoint()
	if err != nil {
		return nil, err
	}

	presignExpiry, err := GetEnvS3PresignExpiry()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIPort:              apiPort,
		MetricsPort:          metricsPort,
		MetricsAPIKey:        getEnvString("METRICS_API_KEY", ""),
		RetryBudget:          retryBudget,
		MaxRetryBudget:       maxRetryBudget,
		RetryDelay:           retryDelay,
		UploadAttemptTimeout: attemptTimeout,
		MaxConcurrency:       maxConcurrency,
		MaxBatchBytes:        maxBatchBytes,
		DeadLetterPath:       getEnvString("DEAD_LETTER_PATH", ""),
		ManifestPath:         getEnvString("MANIFEST_PATH", ""),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		S3: S3Config{
			Endpoint:        s3Endpoint,
			Region:          getEnvString("S3_REGION", DefaultS3Region),
			AccessKeyID:     getEnvString("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnvString("S3_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnvString("S3_BUCKET", ""),
			PresignExpiry:   presignExpiry,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.APIPort == cfg.MetricsPort {
		return fmt.Errorf("API_PORT and METRICS_PORT must differ, both are %s", cfg.APIPort)
	}
	if cfg.RetryBudget > cfg.MaxRetryBudget {
		return fmt.Errorf("RETRY_BUDGET (%d) must not exceed MAX_RETRY_BUDGET (%d)", cfg.RetryBudget, cfg.MaxRetryBudget)
	}
	if (cfg.S3.AccessKeyID == "") != (cfg.S3.SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}
