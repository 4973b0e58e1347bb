package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/dronetm/upload-dispatcher/pkg/logger"
)

const (
	// DefaultAPIPort defines the default port for the batch upload API
	DefaultAPIPort = "8000"

	// DefaultMetricsPort defines the default port for the health and metrics server
	DefaultMetricsPort = "8080"

	// DefaultRetryBudget defines the maximum number of attempts per upload
	DefaultRetryBudget = 3

	// DefaultMaxRetryBudget caps the retry budget a caller may request per batch
	DefaultMaxRetryBudget = 10

	// DefaultRetryDelay defines the fixed wait between two attempts of the same upload
	DefaultRetryDelay = 1 * time.Second

	// DefaultUploadAttemptTimeout bounds a single PUT; zero means no deadline
	DefaultUploadAttemptTimeout = 0

	// DefaultMaxConcurrency limits in-flight uploads per batch; zero means unbounded
	DefaultMaxConcurrency = 0

	// DefaultMaxBatchBytes limits the size of a batch request body
	DefaultMaxBatchBytes = 64 << 20

	// DefaultCircuitBreakerEnabled defines whether the per-host circuit breaker is enabled
	DefaultCircuitBreakerEnabled = false

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15

	// DefaultS3Region is used when S3_REGION is not set
	DefaultS3Region = "us-east-1"

	// DefaultS3PresignExpiry defines how long presigned PUT URLs stay valid
	DefaultS3PresignExpiry = 1 * time.Hour
)

// GetEnvAPIPort returns the batch API port from environment variables
func GetEnvAPIPort() (string, error) {
	return getEnvPort("API_PORT", DefaultAPIPort)
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	return getEnvPort("METRICS_PORT", DefaultMetricsPort)
}

func getEnvPort(name, def string) (string, error) {
	port := os.Getenv(name)
	if port == "" {
		return def, nil
	}

	// Validate port format
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid port number", name, port)
	}
	return port, nil
}

// GetEnvRetryBudget returns the number of attempts per upload from environment variables
func GetEnvRetryBudget() (int, error) {
	budget := os.Getenv("RETRY_BUDGET")
	if budget == "" {
		return DefaultRetryBudget, nil
	}

	n, err := strconv.Atoi(budget)
	if err != nil {
		return 0, fmt.Errorf("invalid RETRY_BUDGET value: %s, must be an integer", budget)
	}
	if n <= 0 {
		return 0, fmt.Errorf("RETRY_BUDGET must be greater than 0")
	}
	return n, nil
}

// GetEnvMaxRetryBudget returns the highest retry budget a batch request may ask for
func GetEnvMaxRetryBudget() (int, error) {
	limit := os.Getenv("MAX_RETRY_BUDGET")
	if limit == "" {
		return DefaultMaxRetryBudget, nil
	}

	n, err := strconv.Atoi(limit)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_RETRY_BUDGET value: %s, must be an integer", limit)
	}
	if n <= 0 {
		return 0, fmt.Errorf("MAX_RETRY_BUDGET must be greater than 0")
	}
	return n, nil
}

// GetEnvRetryDelay returns the delay between attempts from environment variables
func GetEnvRetryDelay() (time.Duration, error) {
	delay := os.Getenv("RETRY_DELAY")
	if delay == "" {
		return DefaultRetryDelay, nil
	}

	parsed, err := time.ParseDuration(delay)
	if err != nil {
		return 0, fmt.Errorf("invalid RETRY_DELAY value: %s, must be a valid duration string", delay)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("RETRY_DELAY must not be negative")
	}
	return parsed, nil
}

// GetEnvUploadAttemptTimeout returns the per-attempt deadline from environment variables
func GetEnvUploadAttemptTimeout() (time.Duration, error) {
	timeout := os.Getenv("UPLOAD_ATTEMPT_TIMEOUT")
	if timeout == "" {
		return DefaultUploadAttemptTimeout, nil
	}

	parsed, err := time.ParseDuration(timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid UPLOAD_ATTEMPT_TIMEOUT value: %s, must be a valid duration string", timeout)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("UPLOAD_ATTEMPT_TIMEOUT must not be negative")
	}
	return parsed, nil
}

// GetEnvMaxConcurrency returns the in-flight upload limit from environment variables
func GetEnvMaxConcurrency() (int, error) {
	limit := os.Getenv("MAX_CONCURRENCY")
	if limit == "" {
		return DefaultMaxConcurrency, nil
	}

	n, err := strconv.Atoi(limit)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_CONCURRENCY value: %s, must be an integer", limit)
	}
	if n < 0 {
		return 0, fmt.Errorf("MAX_CONCURRENCY must be greater than or equal to 0")
	}
	return n, nil
}

// GetEnvMaxBatchBytes returns the request body limit of the batch API
func GetEnvMaxBatchBytes() (int64, error) {
	limit := os.Getenv("MAX_BATCH_BYTES")
	if limit == "" {
		return DefaultMaxBatchBytes, nil
	}

	n, err := strconv.ParseInt(limit, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_BATCH_BYTES value: %s, must be an integer", limit)
	}
	if n <= 0 {
		return 0, fmt.Errorf("MAX_BATCH_BYTES must be greater than 0")
	}
	return n, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvS3Endpoint returns the optional S3 endpoint override
func GetEnvS3Endpoint() (string, error) {
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		return "", nil
	}

	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid S3_ENDPOINT value: %s, must be a valid URL", endpoint)
	}
	return endpoint, nil
}

// GetEnvS3PresignExpiry returns how long presigned URLs stay valid
func GetEnvS3PresignExpiry() (time.Duration, error) {
	expiry := os.Getenv("S3_PRESIGN_EXPIRY")
	if expiry == "" {
		return DefaultS3PresignExpiry, nil
	}

	parsed, err := time.ParseDuration(expiry)
	if err != nil {
		return 0, fmt.Errorf("invalid S3_PRESIGN_EXPIRY value: %s, must be a valid duration string", expiry)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("S3_PRESIGN_EXPIRY must be greater than 0")
	}
	return parsed, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %w", err)
	}
	return level, nil
}

// GetEnvLogColoring returns whether log prefixes are colored
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", false)
}

func getEnvBool(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}

	if v == "true" {
		return true, nil
	} else if v == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", name, v)
}

func getEnvString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
