// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	CORSOrigins         []string

	// Storage settings.
	DBEngine    string // "sqlite" or "postgres"
	DatabaseURL string // postgres only
	SQLitePath  string

	// Session settings. Empty key paths generate an ephemeral key pair.
	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	SessionTTL        time.Duration
	APIKeyHash        string // argon2id hash of the console API key
	APIKey            string // plaintext alternative, hashed at startup

	// Policy settings.
	PolicyFile                 string
	PolicyWatch                bool
	PolicyCPUThreshold         float64
	PolicyAccuracyThreshold    float64
	PolicyHealthCheckThreshold int

	// Audit and context settings.
	AuditBufferSize    int
	AuditFlushInterval time.Duration
	SummaryCacheTTL    time.Duration

	// Advisor settings.
	Advisor      string // "none" or "gemini"
	GeminiAPIKey string
	AdvisorModel string

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// Load reads configuration from environment variables with defaults.
// Malformed values are collected and reported together.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		DatabaseURL:       envStr("DATABASE_URL", ""),
		DBEngine:          strings.ToLower(envStr("SAT18_DB_ENGINE", "sqlite")),
		SQLitePath:        envStr("SAT18_SQLITE_PATH", "data/sat18.db"),
		JWTPrivateKeyPath: envStr("SAT18_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("SAT18_JWT_PUBLIC_KEY", ""),
		APIKeyHash:        envStr("SAT18_API_KEY_HASH", ""),
		APIKey:            envStr("SAT18_API_KEY", ""),
		PolicyFile:        envStr("SAT18_POLICY_FILE", ""),
		Advisor:           strings.ToLower(envStr("SAT18_ADVISOR", "none")),
		GeminiAPIKey:      envStr("GEMINI_API_KEY", ""),
		AdvisorModel:      envStr("SAT18_ADVISOR_MODEL", "gemini-2.5-flash"),
		CORSOrigins:       envList("SAT18_CORS_ORIGINS"),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "sat18"),
		LogLevel:          envStr("SAT18_LOG_LEVEL", "info"),
	}

	var err error
	cfg.Port, err = envInt("SAT18_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("SAT18_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("SAT18_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	bodyBytes, err := envInt("SAT18_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	collect(err)
	cfg.MaxRequestBodyBytes = int64(bodyBytes)
	cfg.SessionTTL, err = envDuration("SAT18_SESSION_TTL", 15*time.Minute)
	collect(err)
	cfg.PolicyWatch, err = envBool("SAT18_POLICY_WATCH", true)
	collect(err)
	cfg.PolicyCPUThreshold, err = envFloat("SAT18_POLICY_CPU_THRESHOLD", 85)
	collect(err)
	cfg.PolicyAccuracyThreshold, err = envFloat("SAT18_POLICY_ACCURACY_THRESHOLD", 0.8)
	collect(err)
	cfg.PolicyHealthCheckThreshold, err = envInt("SAT18_POLICY_HEALTHCHECK_THRESHOLD", 1)
	collect(err)
	cfg.AuditBufferSize, err = envInt("SAT18_AUDIT_BUFFER_SIZE", 1000)
	collect(err)
	cfg.AuditFlushInterval, err = envDuration("SAT18_AUDIT_FLUSH_INTERVAL", time.Second)
	collect(err)
	cfg.SummaryCacheTTL, err = envDuration("SAT18_SUMMARY_CACHE_TTL", 30*time.Second)
	collect(err)
	cfg.RateLimitEnabled, err = envBool("SAT18_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("SAT18_RATE_LIMIT_RPS", 10)
	collect(err)
	cfg.RateLimitBurst, err = envInt("SAT18_RATE_LIMIT_BURST", 20)
	collect(err)
	cfg.OTELInsecure, err = envBool("SAT18_OTEL_INSECURE", false)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.DBEngine {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("config: SAT18_SQLITE_PATH is required for the sqlite engine")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: SAT18_DB_ENGINE must be sqlite or postgres, got %q", c.DBEngine)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: SAT18_PORT must be between 1 and 65535")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SAT18_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: SAT18_SESSION_TTL must be positive")
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		return fmt.Errorf("config: SAT18_JWT_PRIVATE_KEY and SAT18_JWT_PUBLIC_KEY must be set together")
	}
	if c.PolicyCPUThreshold < 0 || c.PolicyCPUThreshold > 100 {
		return fmt.Errorf("config: SAT18_POLICY_CPU_THRESHOLD must be within [0, 100]")
	}
	if c.PolicyAccuracyThreshold < 0 || c.PolicyAccuracyThreshold > 1 {
		return fmt.Errorf("config: SAT18_POLICY_ACCURACY_THRESHOLD must be within [0, 1]")
	}
	if c.PolicyHealthCheckThreshold < 0 {
		return fmt.Errorf("config: SAT18_POLICY_HEALTHCHECK_THRESHOLD must not be negative")
	}
	if c.AuditBufferSize <= 0 {
		return fmt.Errorf("config: SAT18_AUDIT_BUFFER_SIZE must be positive")
	}
	switch c.Advisor {
	case "none", "":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("config: GEMINI_API_KEY is required when SAT18_ADVISOR=gemini")
		}
	default:
		return fmt.Errorf("config: SAT18_ADVISOR must be none or gemini, got %q", c.Advisor)
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: rate limit RPS and burst must be positive when enabled")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envList splits a comma-separated variable, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
