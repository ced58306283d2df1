// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers the Discord connection,
// the welcome channel being reconciled, the operator HTTP server, logging,
// the SQLite path and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/welcome-tracker/internal/domain"
)

// ErrMissingToken is returned by RequireToken when DISCORD_TOKEN is unset.
var ErrMissingToken = errors.New("DISCORD_TOKEN must be set")

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DiscordConfig identifies the bot, the guild and the welcome channel.
type DiscordConfig struct {
	Token            string // DISCORD_TOKEN
	GuildID          string // GUILD_ID
	WelcomeChannelID string // WELCOME_CHANNEL_ID
	CutoffID         string // MESSAGE_CUTOFF_ID, oldest message ever evaluated

	RequireMarker    bool // REQUIRE_WELCOME_MARKER
	RegisterCommands bool // REGISTER_COMMANDS
	RefreshOnStart   bool // REFRESH_ON_START
}

// ReconcileConfig tunes scanning and reporting.
type ReconcileConfig struct {
	PageSize        int           // PAGE_SIZE, 1..100
	UnwelcomedLimit int           // UNWELCOMED_LIMIT, 1..100
	LinkHost        string        // LINK_HOST
	RefreshInterval time.Duration // REFRESH_INTERVAL, 0 disables the scheduler
	ScanTimeout     time.Duration // SCAN_TIMEOUT, 0 means unbounded
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Storage
	DBPath string // SQLite path

	Discord   DiscordConfig
	Reconcile ReconcileConfig

	// Rate limiting of the manual refresh endpoint
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBPath: getenv("DB_PATH", "data.sqlite"),

		Discord: DiscordConfig{
			Token:            strings.TrimSpace(getenv("DISCORD_TOKEN", "")),
			GuildID:          getenv("GUILD_ID", ""),
			WelcomeChannelID: getenv("WELCOME_CHANNEL_ID", ""),
			CutoffID:         getenv("MESSAGE_CUTOFF_ID", ""),
			RequireMarker:    getbool("REQUIRE_WELCOME_MARKER", false),
			RegisterCommands: getbool("REGISTER_COMMANDS", true),
			RefreshOnStart:   getbool("REFRESH_ON_START", true),
		},
		Reconcile: ReconcileConfig{
			PageSize:        getint("PAGE_SIZE", 100),
			UnwelcomedLimit: getint("UNWELCOMED_LIMIT", 20),
			LinkHost:        strings.TrimSpace(getenv("LINK_HOST", "discord.com")),
			RefreshInterval: getdur("REFRESH_INTERVAL", 0),
			ScanTimeout:     getdur("SCAN_TIMEOUT", 10*time.Minute),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 0.2),
		RateBurst: getint("RATE_BURST", 2),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "welcome-tracker"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	var err error
	if cfg.Discord.GuildID, err = requireID("GUILD_ID", cfg.Discord.GuildID); err != nil {
		return cfg, err
	}
	if cfg.Discord.WelcomeChannelID, err = requireID("WELCOME_CHANNEL_ID", cfg.Discord.WelcomeChannelID); err != nil {
		return cfg, err
	}
	if cfg.Discord.CutoffID, err = requireID("MESSAGE_CUTOFF_ID", cfg.Discord.CutoffID); err != nil {
		return cfg, err
	}
	if cfg.Reconcile.PageSize < 1 || cfg.Reconcile.PageSize > 100 {
		return cfg, errors.New("PAGE_SIZE must be between 1 and 100")
	}
	if cfg.Reconcile.UnwelcomedLimit < 1 || cfg.Reconcile.UnwelcomedLimit > 100 {
		return cfg, errors.New("UNWELCOMED_LIMIT must be between 1 and 100")
	}
	if cfg.Reconcile.LinkHost == "" || strings.ContainsAny(cfg.Reconcile.LinkHost, "/ ") {
		return cfg, errors.New("LINK_HOST must be a bare host name")
	}
	if cfg.Reconcile.RefreshInterval < 0 || cfg.Reconcile.ScanTimeout < 0 {
		return cfg, errors.New("REFRESH_INTERVAL and SCAN_TIMEOUT must be >= 0")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// RequireToken reports ErrMissingToken when no bot token is configured.
// Commands that only read the local store do not need one.
func (c Config) RequireToken() error {
	if c.Discord.Token == "" {
		return ErrMissingToken
	}
	return nil
}

// ---- helpers ----

func requireID(key, v string) (string, error) {
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s must be set", key)
	}
	id, err := domain.ParseMessageID(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return id, nil
}

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
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

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
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
