// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"presto-notebook/internal/service/interpreter"
)

// DevJWTSecret is used when JWT_SECRET is unset outside production.
const DevJWTSecret = "dev-secret-change-in-production"

// PrestoConfig holds the engine connection and paragraph execution settings.
type PrestoConfig struct {
	URL      string // engine URL; duckdb://<path> selects the local engine
	Catalog  string
	Schema   string
	User     string
	Password string

	NotebookRowsMax int           // rows shown inline before spilling
	SpillRowsMax    int           // rows written to a spill file
	RowsMax         int           // largest accepted limit value
	ResultPath      string        // spill directory
	ResultExpire    time.Duration // spill file retention

	ACLEnabled    bool
	ACLPolicyFile string
	Concurrency   int
}

// LocalEngine reports whether URL selects the embedded DuckDB engine.
func (p *PrestoConfig) LocalEngine() bool {
	return strings.HasPrefix(p.URL, "duckdb://")
}

// LocalPath returns the DuckDB database path of a duckdb:// URL. An empty
// path means an in-memory database.
func (p *PrestoConfig) LocalPath() string {
	return strings.TrimPrefix(p.URL, "duckdb://")
}

// Config holds the configuration for the interpreter host.
type Config struct {
	Presto PrestoConfig

	ListenAddr       string // HTTP listen address (default ":8080")
	TLSCertFile      string // TLS certificate file path (optional)
	TLSKeyFile       string // TLS private key file path (optional)
	RunHistoryDBPath string // SQLite run-history file
	JWTSecret        string // HS256 secret for bearer tokens
	LogLevel         string // log level: debug, info, warn, error (default "info")
	Env              string // environment: "development" (default) or "production"

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 50)
	RateLimitBurst int     // burst capacity (default 100)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// InterpreterOptions projects the settings the interpreter consumes.
func (c *Config) InterpreterOptions() interpreter.Options {
	p := c.Presto
	return interpreter.Options{
		MaxInlineRows:   p.NotebookRowsMax,
		MaxSpillRows:    p.SpillRowsMax,
		MaxLimit:        p.RowsMax,
		ResultDir:       p.ResultPath,
		ResultRetention: p.ResultExpire,
		ACLEnabled:      p.ACLEnabled,
		Concurrency:     p.Concurrency,
		Session: interpreter.SessionConfig{
			Server:  p.URL,
			User:    p.User,
			Catalog: p.Catalog,
			Schema:  p.Schema,
		},
	}
}

// LoadFromEnv loads configuration from environment variables. Malformed
// numbers fall back to their defaults and are reported in Warnings.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:       envDefault("LISTEN_ADDR", ":8080"),
		TLSCertFile:      os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:       os.Getenv("TLS_KEY_FILE"),
		RunHistoryDBPath: envDefault("RUN_HISTORY_DB_PATH", "presto_notebook.sqlite"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		LogLevel:         envDefault("LOG_LEVEL", "info"),
		Env:              os.Getenv("ENV"),
	}
	w := &cfg.Warnings

	cfg.Presto = PrestoConfig{
		URL:             envDefault("PRESTO_URL", "http://localhost:9090"),
		Catalog:         envDefault("PRESTO_CATALOG", "hive"),
		Schema:          envDefault("PRESTO_SCHEMA", "default"),
		User:            envDefault("PRESTO_USER", "Presto"),
		Password:        os.Getenv("PRESTO_PASSWORD"),
		NotebookRowsMax: parseIntEnv(w, "PRESTO_NOTEBOOK_ROWS_MAX", interpreter.DefaultMaxInlineRows),
		SpillRowsMax:    parseIntEnv(w, "PRESTO_SPILL_ROWS_MAX", interpreter.DefaultMaxSpillRows),
		RowsMax:         parseIntEnv(w, "PRESTO_ROWS_MAX", interpreter.DefaultMaxLimit),
		ResultPath:      envDefault("PRESTO_RESULT_PATH", defaultResultPath()),
		ResultExpire:    time.Duration(parseIntEnv(w, "PRESTO_RESULT_EXPIRE", 2)) * 24 * time.Hour,
		ACLEnabled:      parseBoolEnvDefault("PRESTO_ACL_ENABLE", true),
		ACLPolicyFile:   envDefault("PRESTO_ACL_POLICY_FILE", "conf/presto-acl.yaml"),
		Concurrency:     parseIntEnv(w, "PRESTO_CONCURRENCY", interpreter.DefaultConcurrency),
	}

	cfg.RateLimitRPS = parseFloatEnv(w, "RATE_LIMIT_RPS", 50)
	cfg.RateLimitBurst = parseIntEnv(w, "RATE_LIMIT_BURST", 100)

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("both TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if !cfg.Presto.LocalEngine() && !strings.HasPrefix(cfg.Presto.URL, "http://") && !strings.HasPrefix(cfg.Presto.URL, "https://") {
		return nil, fmt.Errorf("PRESTO_URL %q must use http, https or duckdb scheme", cfg.Presto.URL)
	}

	if cfg.IsProduction() {
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = DevJWTSecret
		*w = append(*w, "JWT_SECRET not set, using insecure development secret")
	}
	if !cfg.Presto.ACLEnabled {
		*w = append(*w, "PRESTO_ACL_ENABLE=false, statements run without table authorization")
	}

	return cfg, nil
}

func defaultResultPath() string {
	name := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = filepath.Base(u.Username)
	}
	return filepath.Join(os.TempDir(), "presto-notebook-"+name)
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseIntEnv(warnings *[]string, key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("%s=%q is not a positive integer, using %d", key, v, def))
		return def
	}
	return n
}

func parseFloatEnv(warnings *[]string, key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("%s=%q is not a positive number, using %g", key, v, def))
		return def
	}
	return f
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
