// Package config loads service settings from AUDITDESK_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Supported KV backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// Config is the complete runtime configuration.
type Config struct {
	Addr     string `env:"ADDR"      envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":9090"`

	KVBackend     string `env:"KV_BACKEND"     envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`
	PGDSN         string `env:"PG_DSN"`
	BoltPath      string `env:"BOLT_PATH"      envDefault:"auditdesk.db"`
	BlobPath      string `env:"BLOB_PATH"`

	AuthSecret     string   `env:"AUTH_SECRET"`
	AllowedDomains []string `env:"ALLOWED_DOMAINS" envDefault:"corp.com" envSeparator:","`
	PublicURL      string   `env:"PUBLIC_URL"`

	EmailAPIURL string `env:"EMAIL_API_URL"`
	EmailAPIKey string `env:"EMAIL_API_KEY"`
	EmailFrom   string `env:"EMAIL_FROM" envDefault:"auditdesk@corp.com"`

	ArchiveURL   string `env:"ARCHIVE_URL"`
	ArchiveToken string `env:"ARCHIVE_TOKEN"`

	OutboundTimeout time.Duration `env:"OUTBOUND_TIMEOUT" envDefault:"15s"`
	OTPTTL          time.Duration `env:"OTP_TTL"          envDefault:"10m"`
	SessionTTL      time.Duration `env:"SESSION_TTL"      envDefault:"1h"`
	SignedURLTTL    time.Duration `env:"SIGNED_URL_TTL"   envDefault:"1h"`

	OutboxWorkers    int      `env:"OUTBOX_WORKERS"   envDefault:"4"`
	LogLevel         string   `env:"LOG_LEVEL"        envDefault:"info"`
	CORSOrigins      []string `env:"CORS_ORIGINS"     envSeparator:","`
	MaxUploadBytes   int64    `env:"MAX_UPLOAD_BYTES" envDefault:"26214400"`
	OTPRatePerMin    int      `env:"OTP_RATE_PER_MIN" envDefault:"5"`
	GlobalRatePerMin int      `env:"RATE_PER_MIN"     envDefault:"600"`
}

const envPrefix = "AUDITDESK_"

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: envPrefix})
}

// LoadFrom parses an explicit variable set; for tests and tooling.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: envPrefix, Environment: vars})
}

// LoadStorage parses the process environment but only checks the storage
// settings. Offline tools that never sign tokens use it.
func LoadStorage() (Config, error) {
	cfg, err := decode(env.Options{Prefix: envPrefix})
	if err != nil {
		return Config{}, err
	}
	if err := errors.Join(cfg.storageErrors()...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parse(opts env.Options) (Config, error) {
	cfg, err := decode(opts)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.KVBackend = strings.ToLower(strings.TrimSpace(cfg.KVBackend))
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AuthSecret) == "" {
		errs = append(errs, errors.New("AUDITDESK_AUTH_SECRET is required"))
	}
	errs = append(errs, c.storageErrors()...)
	if c.OutboxWorkers <= 0 {
		errs = append(errs, errors.New("AUDITDESK_OUTBOX_WORKERS must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("AUDITDESK_MAX_UPLOAD_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) storageErrors() []error {
	var errs []error
	switch c.KVBackend {
	case BackendMemory, BackendBolt:
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("AUDITDESK_REDIS_ADDR is required for the redis backend"))
		}
	case BackendPostgres:
		if strings.TrimSpace(c.PGDSN) == "" {
			errs = append(errs, errors.New("AUDITDESK_PG_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUDITDESK_KV_BACKEND %q", c.KVBackend))
	}
	return errs
}
