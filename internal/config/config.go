// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authcore configuration.
//
// Sources are layered, each overriding the previous one: built-in defaults,
// an optional YAML file, environment variables, and command-line flags the
// user actually set.
package config

import (
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authcore/internal/auth"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the complete authcore configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Auth          AuthConfig          `koanf:"auth"`
	Hasher        HasherConfig        `koanf:"hasher"`
	Database      DatabaseConfig      `koanf:"database"`
	RateLimit     RateLimitConfig     `koanf:"rate_limit"`
	Log           LogConfig           `koanf:"log"`
	Observability ObservabilityConfig `koanf:"observability"`
	Maintenance   MaintenanceConfig   `koanf:"maintenance"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `koanf:"host" env:"LISTEN_HOST"`
	Port int    `koanf:"port" env:"PORT"`
	// BaseURL prefixes links in verification and reset notifications.
	BaseURL      string        `koanf:"base_url" env:"BASE_URL"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// CORSOrigins are glob patterns, e.g. "https://*.example.com".
	CORSOrigins []string `koanf:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AuthConfig configures token signing and operation limits.
type AuthConfig struct {
	JWTSecret        string        `koanf:"jwt_secret" env:"JWT_SECRET"`
	Issuer           string        `koanf:"issuer" env:"JWT_ISSUER"`
	SessionTTL       time.Duration `koanf:"session_ttl"`
	VerifyEmailTTL   time.Duration `koanf:"verify_email_ttl"`
	ResetPasswordTTL time.Duration `koanf:"reset_password_ttl"`
	OperationTimeout time.Duration `koanf:"operation_timeout"`
}

// HasherConfig sets the Argon2id work factor.
type HasherConfig struct {
	Time      uint32 `koanf:"time"`
	MemoryKiB uint32 `koanf:"memory_kib"`
	Threads   uint8  `koanf:"threads"`
}

// Params converts the config to hasher parameters.
func (c HasherConfig) Params() auth.Argon2Params {
	return auth.Argon2Params{Time: c.Time, MemoryKiB: c.MemoryKiB, Threads: c.Threads}
}

// DatabaseConfig selects and tunes the credential store.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver" env:"DATABASE_DRIVER"`
	URL             string        `koanf:"url" env:"DATABASE_URL"`
	MaxConns        int32         `koanf:"max_conns"`
	AutoMigrate     bool          `koanf:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Enabled bool `koanf:"enabled" env:"RATE_LIMIT_ENABLED"`
	// Burst is the bucket capacity.
	Burst int `koanf:"burst"`
	// Rate is tokens restored per second.
	Rate float64 `koanf:"rate"`
	// IdleTTL evicts buckets untouched for this long.
	IdleTTL time.Duration `koanf:"idle_ttl"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" env:"LOG_LEVEL"`
	Format string `koanf:"format" env:"LOG_FORMAT"`
}

// ObservabilityConfig sets the side listeners. An empty address disables
// the listener.
type ObservabilityConfig struct {
	MetricsAddr string `koanf:"metrics_addr" env:"METRICS_ADDR"`
	ControlAddr string `koanf:"control_addr" env:"CONTROL_ADDR"`
	// TracingEndpoint is an OTLP/HTTP collector URL. Empty disables span
	// export.
	TracingEndpoint  string  `koanf:"tracing_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceSampleRatio float64 `koanf:"trace_sample_ratio"`
}

// MaintenanceConfig sets background loop intervals.
type MaintenanceConfig struct {
	// PurgeInterval is how often expired action tokens are deleted.
	PurgeInterval time.Duration `koanf:"purge_interval"`
	// RevocationRefresh is how often session watermarks are reloaded from
	// the store, so revocations made by other replicas take effect.
	RevocationRefresh time.Duration `koanf:"revocation_refresh"`
}

// Default returns the built-in configuration.
func Default() Config {
	hp := auth.DefaultArgon2Params()
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			BaseURL:      "http://localhost:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:           "authcore",
			SessionTTL:       auth.SessionTokenExpiry,
			VerifyEmailTTL:   auth.VerifyEmailTokenExpiry,
			ResetPasswordTTL: auth.ResetPasswordTokenExpiry,
			OperationTimeout: auth.DefaultOperationTimeout,
		},
		Hasher: HasherConfig{Time: hp.Time, MemoryKiB: hp.MemoryKiB, Threads: hp.Threads},
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			MaxConns:        10,
			AutoMigrate:     true,
			ConnectAttempts: 5,
			ConnectBackoff:  500 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Burst:   10,
			Rate:    1,
			IdleTTL: 10 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Observability: ObservabilityConfig{
			MetricsAddr:      "127.0.0.1:9100",
			ControlAddr:      "127.0.0.1:9101",
			TraceSampleRatio: 1,
		},
		Maintenance: MaintenanceConfig{
			PurgeInterval:     time.Hour,
			RevocationRefresh: 30 * time.Second,
		},
	}
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"host":         "server.host",
	"port":         "server.port",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"database-url": "database.url",
	"driver":       "database.driver",
	"metrics-addr": "observability.metrics_addr",
	"control-addr": "observability.control_addr",
}

// BindFlags registers the flags Load understands. Defaults shown in help
// text come from Default().
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to YAML config file")
	fs.String("host", d.Server.Host, "HTTP listen host")
	fs.Int("port", d.Server.Port, "HTTP listen port")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("driver", d.Database.Driver, "credential store driver (postgres, memory)")
	fs.String("metrics-addr", d.Observability.MetricsAddr, "metrics and health check address")
	fs.String("control-addr", d.Observability.ControlAddr, "gRPC control address")
}

// Load builds the configuration. path may be empty; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}

	if fs != nil {
		k := koanf.New(".")
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		add("auth.jwt_secret must be at least " + strconv.Itoa(auth.MinSecretLength) + " bytes")
	}
	if c.Auth.Issuer == "" {
		add("auth.issuer is required")
	}
	for name, d := range map[string]time.Duration{
		"auth.session_ttl":        c.Auth.SessionTTL,
		"auth.verify_email_ttl":   c.Auth.VerifyEmailTTL,
		"auth.reset_password_ttl": c.Auth.ResetPasswordTTL,
		"auth.operation_timeout":  c.Auth.OperationTimeout,
	} {
		if d <= 0 {
			add(name + " must be positive")
		}
	}
	if err := c.Hasher.Params().Validate(); err != nil {
		add("hasher: " + err.Error())
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535")
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			add("database.url is required for the postgres driver")
		}
	case DriverMemory:
	default:
		add("database.driver must be postgres or memory")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		add("log.format must be json or text")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Burst < 1 || c.RateLimit.Rate <= 0) {
		add("rate_limit.burst and rate_limit.rate must be positive")
	}
	if r := c.Observability.TraceSampleRatio; r < 0 || r > 1 {
		add("observability.trace_sample_ratio must be between 0 and 1")
	}
	if c.Maintenance.PurgeInterval <= 0 || c.Maintenance.RevocationRefresh <= 0 {
		add("maintenance intervals must be positive")
	}

	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return oops.Code("CONFIG_INVALID").
		With("problems", problems).
		Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}
