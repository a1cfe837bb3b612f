// Package config loads the service configuration from environment
// variables, with defaults chosen so a bare `go run ./cmd/server` comes up
// working. Parse failures on optional values fall back to defaults;
// validation rejects only states the server cannot run in.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the allowed browser origins. Empty means allow-all.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls the hardening-header middleware.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// RunnerConfig points at the code-execution collaborator. An empty endpoint
// disables execution.
type RunnerConfig struct {
	Endpoint string        // RUNNER_ENDPOINT (e.g. "http://runner:9000/execute")
	Token    string        // RUNNER_TOKEN (bearer auth, optional)
	Timeout  time.Duration // RUNNER_TIMEOUT per execution request
}

// WSConfig tunes collaboration WebSocket sessions.
type WSConfig struct {
	WriteTimeout    time.Duration // WS_WRITE_TIMEOUT per outbound frame
	PingInterval    time.Duration // WS_PING_INTERVAL keepalive cadence
	MaxMessageBytes int64         // WS_MAX_MESSAGE_BYTES inbound frame cap
}

// OTELConfig configures OpenTelemetry trace export.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config is the complete application configuration.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / docs
	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	// Storage
	DBPath            string // shared document store
	LocalDBPath       string // node-local state (bookmarks, session marker)
	TeardownEphemeral bool   // remove presence/typing/chat when a file is deleted

	// Collaborators
	Runner RunnerConfig
	WS     WSConfig

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration

	// Observability
	OTEL OTELConfig
}

// MustLoad is Load for main(): it panics on validation failure.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and normalization, and
// validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              envStr("PORT", "8080"),
		ReadTimeout:       envDur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      envDur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       envDur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    envInt("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(envStr("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(envStr("LOG_LEVEL", "info")),
		LogPretty:      envBool("LOG_PRETTY", false),
		SwaggerEnabled: envBool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(envStr("API_BASE_PATH", "/api/v1")),

		DBPath:            envStr("DB_PATH", "store.db"),
		LocalDBPath:       envStr("LOCAL_DB_PATH", "local.db"),
		TeardownEphemeral: envBool("TEARDOWN_EPHEMERAL", true),

		Runner: RunnerConfig{
			Endpoint: envStr("RUNNER_ENDPOINT", ""),
			Token:    envStr("RUNNER_TOKEN", ""),
			Timeout:  envDur("RUNNER_TIMEOUT", 30*time.Second),
		},
		WS: WSConfig{
			WriteTimeout:    envDur("WS_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:    envDur("WS_PING_INTERVAL", 20*time.Second),
			MaxMessageBytes: int64(envInt("WS_MAX_MESSAGE_BYTES", 1<<20)),
		},

		RateRPS:   envFloat("RATE_RPS", 5.0),
		RateBurst: envInt("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(envStr("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: envBool("ENABLE_HSTS", false),
			HSTSMaxAge: envDur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: envDur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			Endpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: envStr("OTEL_SERVICE_NAME", "collab-backend"),
			SampleRatio: envFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	return cfg, cfg.validate()
}

// validate checks the states the server cannot start in. Messages name the
// offending environment variable.
func (c Config) validate() error {
	validLevel := false
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
		validLevel = true
	}

	checks := []struct {
		bad bool
		msg string
	}{
		{!validLevel, "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"},
		{strings.TrimSpace(c.Port) == "", "PORT must not be empty"},
		{c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
			"timeouts must be positive durations"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty"},
		{strings.TrimSpace(c.LocalDBPath) == "", "LOCAL_DB_PATH must not be empty"},
		{c.Runner.Timeout <= 0, "RUNNER_TIMEOUT must be > 0"},
		{c.WS.WriteTimeout <= 0 || c.WS.PingInterval <= 0, "websocket timeouts must be positive durations"},
		{c.WS.MaxMessageBytes <= 0, "WS_MAX_MESSAGE_BYTES must be > 0"},
		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0"},
		{c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	for _, check := range checks {
		if check.bad {
			return errors.New(check.msg)
		}
	}
	return nil
}

// Env helpers: unset or unparsable values yield the default.

func envStr(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envInt(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func envDur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// splitCSV splits a comma-separated list, trimming entries and dropping
// blanks. Empty input yields nil.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath guarantees a leading '/' and strips any trailing '/'
// (except for the bare root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
