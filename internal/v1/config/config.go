// Package config validates environment configuration at startup. Every
// variable is checked up front so a misconfigured process dies with one
// complete report instead of failing piecemeal at runtime.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	Port string

	// Capacity bounds, all optional with defaults
	MaxClients      int
	MaxRooms        int
	ClientTimeout   time.Duration
	IngressCapacity int

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	AllowedOrigins  []string
	DevelopmentMode bool

	// Rate limits, ulule formatted ("100-M" is 100 per minute)
	RateLimitWsIP string
	RateLimitAPI  string

	// Tracing
	OtelEnabled       bool
	OtelCollectorAddr string
}

// ValidateEnv validates all environment variables and returns a Config.
// Problems are accumulated so the error names every bad variable at once.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: MAX_CLIENTS (defaults to 1024)
	cfg.MaxClients = parseIntInRange("MAX_CLIENTS", 1024, 1, 65536, &errors)

	// Optional: MAX_ROOMS (defaults to 256)
	cfg.MaxRooms = parseIntInRange("MAX_ROOMS", 256, 1, 10000, &errors)

	// Optional: CLIENT_TIMEOUT_SEC (defaults to 300, minimum 30)
	timeoutSec := parseIntInRange("CLIENT_TIMEOUT_SEC", 300, 30, 86400, &errors)
	cfg.ClientTimeout = time.Duration(timeoutSec) * time.Second

	// Optional: INGRESS_CAPACITY (defaults to 1024)
	cfg.IngressCapacity = parseIntInRange("INGRESS_CAPACITY", 1024, 1, 1<<20, &errors)

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Optional: ALLOWED_ORIGINS (comma-separated, defaults to localhost dev origin)
	cfg.AllowedOrigins = splitOrigins(getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000"))

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	// Rate limits
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitAPI = getEnvOrDefault("RATE_LIMIT_API", "1000-M")

	// Tracing
	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	if cfg.OtelEnabled {
		cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OtelCollectorAddr == "" {
			cfg.OtelCollectorAddr = "localhost:4317"
			slog.Warn("OTEL_COLLECTOR_ADDR not set, using default", "addr", cfg.OtelCollectorAddr)
		} else if !isValidHostPort(cfg.OtelCollectorAddr) {
			errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
		}
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// parseIntInRange reads an integer variable, appending to errs when it is
// not a number or falls outside [min, max]. Unset returns the default.
func parseIntInRange(key string, def, min, max int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		*errs = append(*errs, fmt.Sprintf("%s must be a number between %d and %d (got '%s')", key, min, max, raw))
		return def
	}
	return v
}

// splitOrigins parses a comma-separated origin list, trimming whitespace and
// dropping empty entries.
func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration.
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"max_clients", cfg.MaxClients,
		"max_rooms", cfg.MaxRooms,
		"client_timeout", cfg.ClientTimeout.String(),
		"ingress_capacity", cfg.IngressCapacity,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"allowed_origins", strings.Join(cfg.AllowedOrigins, ","),
		"development_mode", cfg.DevelopmentMode,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
		"otel_enabled", cfg.OtelEnabled,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
