package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, populated from the environment.
type Config struct {
	Port        int    // PORT - listen port (default 3000)
	DatabaseURL string // DATABASE_URL - bolt database file; required

	RequireHMAC  bool // REQUIRE_HMAC - enable HMAC verification (default on)
	RequireAuth  bool // REQUIRE_AUTH - enable API-key check (default: inverse of HMAC)
	RequireHTTPS bool // REQUIRE_HTTPS - reject non-TLS requests
	TrustProxy   bool // TRUST_PROXY - honor X-Forwarded-* for IP and scheme

	AllowedIPs         []string // ALLOWED_IPS - comma-separated allowlist
	IPAllowlistEnabled bool     // IP_ALLOWLIST_ENABLED - default: on iff ALLOWED_IPS set

	HMACWindow      time.Duration // HMAC_WINDOW_MS - freshness window (default 300000)
	RateLimitWindow time.Duration // RATE_LIMIT_WINDOW_MS - default 60000
	RateLimitMax    int           // RATE_LIMIT_MAX - default 120
	BodyLimit       int64         // BODY_LIMIT - max request body bytes (default 200 KiB)

	AdminBasePath          string // ADMIN_BASE_PATH - admin mount (generated if absent)
	AdminBootstrapUser     string // ADMIN_BOOTSTRAP_USER - first admin username (default "admin")
	AdminBootstrapPassword string // ADMIN_BOOTSTRAP_PASSWORD - generated if absent
	AdminSessionSecret     string // ADMIN_SESSION_SECRET - generated if absent

	APNSMaxListeners int // APNS_MAX_LISTENERS - per-provider in-flight push cap (default 75)

	LogLevel string // LOG_LEVEL - debug/info/warn/error (default info)
	LogJSON  bool   // LOG_JSON - JSON log output (default on)
}

const (
	defaultPort            = 3000
	defaultHMACWindowMS    = 300000
	defaultRateWindowMS    = 60000
	defaultRateLimitMax    = 120
	defaultBodyLimit       = 200 * 1024
	defaultMaxListeners    = 75
	defaultBootstrapUser   = "admin"
)

// Load reads the configuration from the environment. A .env file in the
// working directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   envInt("PORT", defaultPort),
		DatabaseURL:            strings.TrimPrefix(os.Getenv("DATABASE_URL"), "file:"),
		RequireHMAC:            envBool("REQUIRE_HMAC", true),
		RequireHTTPS:           envBool("REQUIRE_HTTPS", false),
		TrustProxy:             envBool("TRUST_PROXY", false),
		AllowedIPs:             envList("ALLOWED_IPS"),
		HMACWindow:             time.Duration(envInt("HMAC_WINDOW_MS", defaultHMACWindowMS)) * time.Millisecond,
		RateLimitWindow:        time.Duration(envInt("RATE_LIMIT_WINDOW_MS", defaultRateWindowMS)) * time.Millisecond,
		RateLimitMax:           envInt("RATE_LIMIT_MAX", defaultRateLimitMax),
		BodyLimit:              int64(envInt("BODY_LIMIT", defaultBodyLimit)),
		AdminBasePath:          os.Getenv("ADMIN_BASE_PATH"),
		AdminBootstrapUser:     envStr("ADMIN_BOOTSTRAP_USER", defaultBootstrapUser),
		AdminBootstrapPassword: os.Getenv("ADMIN_BOOTSTRAP_PASSWORD"),
		AdminSessionSecret:     os.Getenv("ADMIN_SESSION_SECRET"),
		APNSMaxListeners:       envInt("APNS_MAX_LISTENERS", defaultMaxListeners),
		LogLevel:               envStr("LOG_LEVEL", "info"),
		LogJSON:                envBool("LOG_JSON", true),
	}

	// API-key auth defaults to on only when HMAC is off, so a bare install
	// always has at least one credential check.
	cfg.RequireAuth = envBool("REQUIRE_AUTH", !cfg.RequireHMAC)
	cfg.IPAllowlistEnabled = envBool("IP_ALLOWLIST_ENABLED", len(cfg.AllowedIPs) > 0)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT must be in 1..65535, got %d", cfg.Port)
	}
	if cfg.RateLimitMax <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}
	if cfg.BodyLimit <= 0 {
		return nil, fmt.Errorf("BODY_LIMIT must be positive")
	}
	if cfg.APNSMaxListeners <= 0 {
		return nil, fmt.Errorf("APNS_MAX_LISTENERS must be positive")
	}

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
