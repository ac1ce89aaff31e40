// Package config loads the server configuration from environment variables.
//
// Load is called exactly once, in main. The resulting *Config is passed down
// explicitly; nothing else in the module reads the environment.
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/civicfix/internal/apperror"
)

// Config is the complete, validated server configuration.
type Config struct {
	Port    int
	Version string

	LogLevel slog.Level

	// SecretKey signs the service's own session tokens.
	SecretKey string

	// DatabaseURL is normalised: postgres:// is rewritten to postgresql://.
	DatabaseURL string
	Pool        PoolConfig

	Identity IdentityConfig
	Storage  StorageConfig
	GitHub   GitHubConfig

	CORSOrigins []string

	// TrustedProxies are the peers allowed to name the client address in
	// X-Forwarded-For / X-Real-IP. Empty means the headers are ignored.
	TrustedProxies []netip.Prefix

	// RedisURL selects the shared rate limiter. Empty means in-process limits.
	RedisURL string
	// NATSURL enables domain events. Empty means events are dropped.
	NATSURL string

	LoginRateLimit  int // attempts per minute per client
	UploadRateLimit int // uploads per minute per user

	RequestTimeout time.Duration
	MaxRequests    int
	MaxUploadBytes int64
}

// PoolConfig tunes the database connection pool.
type PoolConfig struct {
	Size           int           // connections kept idle
	MaxOverflow    int           // extra connections allowed above Size
	Recycle        time.Duration // max lifetime of a connection
	Timeout        time.Duration // max wait for a connection, applied per call
	PrePing        bool          // ping a connection before handing it out
	ConnectTimeout time.Duration
	Keepalive      time.Duration
}

// MaxOpen is the hard cap on open connections.
func (p PoolConfig) MaxOpen() int {
	return p.Size + p.MaxOverflow
}

// IdentityConfig describes tokens issued by the external identity provider.
type IdentityConfig struct {
	Secret   string
	Issuer   string // empty accepts any non-empty issuer
	Audience string
}

// StorageConfig points at an S3-compatible object store.
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	PublicURL       string
	Timeout         time.Duration
}

// GitHubConfig enables the optional GitHub OAuth login.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// Load reads the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom builds a Config using getenv as the source. Every missing or
// malformed variable is collected and reported in a single error.
func LoadFrom(getenv func(string) string) (*Config, error) {
	e := &envReader{getenv: getenv}

	cfg := &Config{
		Port:        e.int("PORT", 8080),
		Version:     e.string("APP_VERSION", "1.0.0"),
		LogLevel:    e.level("LOG_LEVEL", slog.LevelInfo),
		SecretKey:   e.required("SECRET_KEY"),
		DatabaseURL: normaliseDatabaseURL(e.required("DATABASE_URL")),
		Pool: PoolConfig{
			Size:           e.int("DB_POOL_SIZE", 10),
			MaxOverflow:    e.int("DB_MAX_OVERFLOW", 0),
			Recycle:        e.duration("DB_POOL_RECYCLE", 300*time.Second),
			Timeout:        e.duration("DB_POOL_TIMEOUT", 20*time.Second),
			PrePing:        e.bool("DB_POOL_PRE_PING", true),
			ConnectTimeout: e.duration("DB_CONNECT_TIMEOUT", 10*time.Second),
			Keepalive:      e.duration("DB_KEEPALIVE", 30*time.Second),
		},
		Identity: IdentityConfig{
			Secret:   e.required("JWT_SECRET"),
			Issuer:   e.string("IDENTITY_ISSUER", ""),
			Audience: e.string("IDENTITY_AUDIENCE", "authenticated"),
		},
		GitHub: GitHubConfig{
			ClientID:     e.string("GITHUB_CLIENT_ID", ""),
			ClientSecret: e.string("GITHUB_CLIENT_SECRET", ""),
			CallbackURL:  e.string("GITHUB_CALLBACK_URL", ""),
		},
		CORSOrigins:     splitList(e.string("CORS_ORIGINS", "*")),
		TrustedProxies:  e.prefixes("TRUSTED_PROXIES"),
		RedisURL:        e.string("REDIS_URL", ""),
		NATSURL:         e.string("NATS_URL", ""),
		LoginRateLimit:  e.int("LOGIN_RATE_LIMIT", 10),
		UploadRateLimit: e.int("UPLOAD_RATE_LIMIT", 30),
		RequestTimeout:  e.duration("REQUEST_TIMEOUT", 60*time.Second),
		MaxRequests:     e.int("MAX_REQUESTS", 0),
		MaxUploadBytes:  int64(e.int("MAX_UPLOAD_BYTES", 16<<20)),
	}

	endpoint := strings.TrimRight(e.required("STORAGE_URL"), "/")
	bucket := e.required("STORAGE_BUCKET")
	keyID, secret := e.storageKey("STORAGE_KEY")
	cfg.Storage = StorageConfig{
		Endpoint:        endpoint,
		AccessKeyID:     keyID,
		SecretAccessKey: secret,
		Bucket:          bucket,
		Region:          e.string("STORAGE_REGION", "us-east-1"),
		PublicURL:       strings.TrimRight(e.string("STORAGE_PUBLIC_URL", endpoint+"/"+bucket), "/"),
		Timeout:         e.duration("STORAGE_TIMEOUT", 30*time.Second),
	}
	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = fmt.Sprintf("http://localhost:%d/api/v1/auth/github/callback", cfg.Port)
	}

	if cfg.SecretKey != "" && len(cfg.SecretKey) < 16 {
		e.problem("SECRET_KEY must be at least 16 characters")
	}
	if cfg.Pool.Size < 1 {
		e.problem("DB_POOL_SIZE must be at least 1")
	}
	if cfg.Pool.MaxOverflow < 0 {
		e.problem("DB_MAX_OVERFLOW must not be negative")
	}

	if len(e.problems) > 0 {
		return nil, apperror.Config(e.problems)
	}
	return cfg, nil
}

// normaliseDatabaseURL rewrites the legacy postgres:// scheme that some
// hosting providers still hand out.
func normaliseDatabaseURL(raw string) string {
	if strings.HasPrefix(raw, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(raw, "postgres://")
	}
	return raw
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envReader collects problems instead of failing on the first one.
type envReader struct {
	getenv   func(string) string
	problems []string
}

func (e *envReader) problem(msg string) {
	e.problems = append(e.problems, msg)
}

func (e *envReader) required(key string) string {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		e.problem(key + " is required")
	}
	return v
}

func (e *envReader) string(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.problem(fmt.Sprintf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

// duration accepts Go durations ("90s", "5m") or a bare number of seconds.
func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.problem(fmt.Sprintf("%s must be a duration, got %q", key, v))
		return def
	}
	return d
}

func (e *envReader) bool(key string, def bool) bool {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.problem(fmt.Sprintf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func (e *envReader) level(key string, def slog.Level) slog.Level {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		e.problem(fmt.Sprintf("%s must be debug, info, warn or error, got %q", key, v))
		return def
	}
	return lvl
}

// prefixes parses a comma-separated list of CIDRs or bare IPs.
func (e *envReader) prefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, part := range splitList(e.string(key, "")) {
		if p, err := netip.ParsePrefix(part); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(part); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		e.problem(fmt.Sprintf("%s entries must be IP addresses or CIDRs, got %q", key, part))
	}
	return out
}

// storageKey splits "<access-key-id>:<secret-access-key>".
func (e *envReader) storageKey(key string) (string, string) {
	v := e.required(key)
	if v == "" {
		return "", ""
	}
	id, secret, ok := strings.Cut(v, ":")
	if !ok || id == "" || secret == "" {
		e.problem(key + " must have the form <access-key-id>:<secret-access-key>")
		return "", ""
	}
	return id, secret
}
