package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MemoryAPI selects the in-process implementation of the remote API.
const MemoryAPI = "memory"

type Config struct {
	// HTTP Server
	Port              string
	PostRatePerMinute int

	// Remote API
	APIBaseURL     string
	FetchTimeout   time.Duration
	MemorySeedFile string

	// Response cache
	ResponseCacheTTL  time.Duration
	ResponseCacheSize int

	// Display
	DisplayTimezone string

	// Failure journal
	JournalDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Logging
	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		PostRatePerMinute: getEnvInt("POST_RATE_PER_MINUTE", 60),

		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:5000"),
		FetchTimeout:   getEnvDuration("FETCH_TIMEOUT", 7*time.Second),
		MemorySeedFile: getEnv("MEMORY_SEED_FILE", ""),

		ResponseCacheTTL:  getEnvDuration("RESPONSE_CACHE_TTL", 30*time.Second),
		ResponseCacheSize: getEnvInt("RESPONSE_CACHE_SIZE", 128),

		DisplayTimezone: getEnv("DISPLAY_TIMEZONE", "UTC"),

		JournalDBPath: getEnv("JOURNAL_DB_PATH", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "accusim"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "transactions_recorded"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// UsesMemoryAPI reports whether the remote API is served in-process.
func (c *Config) UsesMemoryAPI() bool {
	return c.APIBaseURL == MemoryAPI
}

// Location resolves DisplayTimezone; Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate remote API base URL
	if c.APIBaseURL == "" {
		errors = append(errors, "API base URL cannot be empty")
	} else if !c.UsesMemoryAPI() {
		if parsedURL, err := url.Parse(c.APIBaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
		} else if parsedURL.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid API base URL '%s': missing host", c.APIBaseURL))
		}
	}

	if c.MemorySeedFile != "" {
		if _, err := os.Stat(c.MemorySeedFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("memory seed file does not exist: %s", c.MemorySeedFile))
		}
	}

	if c.FetchTimeout < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid fetch timeout %v: must be at least 100ms", c.FetchTimeout))
	} else if c.FetchTimeout > 2*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid fetch timeout %v: must be at most 2 minutes", c.FetchTimeout))
	}

	// Validate response cache
	if c.ResponseCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid response cache TTL %v: must not be negative", c.ResponseCacheTTL))
	}
	if c.ResponseCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid response cache size %d: must be at least 1", c.ResponseCacheSize))
	} else if c.ResponseCacheSize > 10000 {
		errors = append(errors, fmt.Sprintf("invalid response cache size %d: must be at most 10000", c.ResponseCacheSize))
	}

	if c.PostRatePerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid POST rate %d: must be at least 1 per minute", c.PostRatePerMinute))
	}

	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid display timezone '%s': %v", c.DisplayTimezone, err))
	}

	// Validate journal path if enabled
	if c.JournalDBPath != "" {
		dir := filepath.Dir(c.JournalDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create journal database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
