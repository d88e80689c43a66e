package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	PublicURL string
	LogLevel  string

	DBDriver string
	DBDSN    string

	// Tool signing key (published at /.well-known/jwks.json).
	SigningKeyPath string

	// Admin credentials for the platform registration API.
	AdminUser     string
	AdminPassHash string // bcrypt

	// When set, an issuer that matches no registered platform resolves to
	// the sole active platform. Single-tenant convenience; off by default.
	AllowPlatformFallback bool

	// Lifetime of pending state/nonce entries minted at login initiation.
	LoginTTL time.Duration

	// TTL for cached remote platform key sets.
	KeyCacheTTL time.Duration

	CORSOrigins []string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	pub := envOr("PUBLIC_URL", "http://localhost:8080")
	return Config{
		HTTPAddr:  addr,
		PublicURL: strings.TrimSuffix(pub, "/"),
		LogLevel:  envOr("LOG_LEVEL", "info"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		SigningKeyPath: envOr("SIGNING_KEY_PATH", "./data/tool_private_key.pem"),

		AdminUser:     envOr("ADMIN_USER", "admin"),
		AdminPassHash: envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),

		AllowPlatformFallback: envBool("ALLOW_PLATFORM_FALLBACK", false),

		LoginTTL:    envDuration("LOGIN_TTL", 10*time.Minute),
		KeyCacheTTL: envDuration("KEY_CACHE_TTL", 5*time.Minute),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000"),
	}
}

// LaunchURL is the default redirect_uri handed to platforms.
func (c Config) LaunchURL() string {
	return c.PublicURL + "/lti/launch"
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
