// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string // account-service

	// Public origin the account pages are served from; relative page URLs resolve against it.
	PublicOrigin string

	// Identity servers pages may point at: origins, or origin/realms/<realm>
	AllowedOrigins []string

	// OIDC client used by the account console (token refresh + login redirect)
	ClientID         string
	TokenMinValidity time.Duration

	// Session cache
	RedisURL    string
	CachePrefix string
	CacheTTL    time.Duration

	// Profile save hard timeout
	UpdateTimeout time.Duration

	// Verify bearer signatures against the realm JWKS before relaying them
	VerifyTokens bool
	JWKSTTL      time.Duration

	// Mock/preview page context (YAML or JSON); served when the tenant cannot be resolved
	FixturesPath  string
	ForceFixtures bool // preview mode: never touch the network
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:              env("KCS_ENV", "dev"),
		HTTPAddr:         env("KCS_HTTP_ADDR", ":8090"),
		PublicOrigin:     env("PUBLIC_ORIGIN", "http://localhost"),
		ClientID:         env("ACCOUNT_CLIENT_ID", "account-console"),
		TokenMinValidity: envDur("TOKEN_MIN_VALIDITY_SEC", 5) * time.Second,
		RedisURL:         env("REDIS_URL", ""),
		CachePrefix:      env("CACHE_PREFIX", "keycloak-account"),
		CacheTTL:         envDur("CACHE_TTL_SEC", 300) * time.Second,
		UpdateTimeout:    envDur("UPDATE_TIMEOUT_SEC", 30) * time.Second,
		VerifyTokens:     envBool("VERIFY_TOKENS", false),
		JWKSTTL:          envDur("JWKS_TTL_SEC", 6*3600) * time.Second,
		FixturesPath:     env("FIXTURES_PATH", ""),
		ForceFixtures:    envBool("FORCE_FIXTURES", false),
	}
	cfg.AllowedOrigins = envList("KCS_ALLOWED_ORIGINS", cfg.PublicOrigin)
	if cfg.RedisURL == "" {
		log.Println("[WARN] REDIS_URL not set, using in-memory session cache")
	}
	if !cfg.VerifyTokens {
		log.Println("[WARN] VERIFY_TOKENS off, shared session cache disabled")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envList(k, def string) []string {
	v := env(k, def)
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
