// Package config holds proposalgate's typed configuration, its defaults, and
// the viper binding used by the CLI.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/proposalgate/proposalgate/internal/codec"
	"github.com/proposalgate/proposalgate/internal/directory"
	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/notify"
	"github.com/proposalgate/proposalgate/internal/service"
	"github.com/proposalgate/proposalgate/internal/store"
	"github.com/proposalgate/proposalgate/internal/sweeper"
)

// Config is the complete runtime configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Codec      CodecConfig      `mapstructure:"codec"`
	Issuance   IssuanceConfig   `mapstructure:"issuance"`
	Validation ValidationConfig `mapstructure:"validation"`
	Sessions   SessionsConfig   `mapstructure:"sessions"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Directory  DirectoryConfig  `mapstructure:"directory"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	MCP        MCPConfig        `mapstructure:"mcp"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins        []string      `mapstructure:"cors_origins"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	// Replicas is the number of server instances sharing the store.
	Replicas int `mapstructure:"replicas"`
}

// StoreConfig selects the credential and session store.
type StoreConfig struct {
	Driver        string           `mapstructure:"driver"`
	DSN           string           `mapstructure:"dsn"`
	DataDir       string           `mapstructure:"data_dir"`
	Pool          store.PoolConfig `mapstructure:"pool"`
	RedisAddr     string           `mapstructure:"redis_addr"`
	RedisPassword string           `mapstructure:"redis_password"`
	RedisDB       int              `mapstructure:"redis_db"`
	RedisPrefix   string           `mapstructure:"redis_prefix"`
}

type CodecConfig struct {
	Strategy      string `mapstructure:"strategy"`
	SigningSecret string `mapstructure:"signing_secret"`
	Issuer        string `mapstructure:"issuer"`
}

type IssuanceConfig struct {
	DefaultDuration          time.Duration `mapstructure:"default_duration"`
	MinDuration              time.Duration `mapstructure:"min_duration"`
	MaxDuration              time.Duration `mapstructure:"max_duration"`
	ClampDuration            bool          `mapstructure:"clamp_duration"`
	RequireApprovedRecipient bool          `mapstructure:"require_approved_recipient"`
	SingleUse                bool          `mapstructure:"single_use"`
	BaseURL                  string        `mapstructure:"base_url"`
	QueryParam               string        `mapstructure:"query_param"`
	DefaultScope             string        `mapstructure:"default_scope"`
	NotifyTimeout            time.Duration `mapstructure:"notify_timeout"`
}

type ValidationConfig struct {
	RecheckEligibility bool `mapstructure:"recheck_eligibility"`
}

type SessionsConfig struct {
	TTL                time.Duration `mapstructure:"ttl"`
	ExtensionIncrement time.Duration `mapstructure:"extension_increment"`
	MaxExtensions      int           `mapstructure:"max_extensions"`
	BindToCredential   bool          `mapstructure:"bind_to_credential"`
}

// SweepConfig controls the background sweeper. A zero interval disables it.
type SweepConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type DirectoryConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	File          string `mapstructure:"file"`
	ResourceTable string `mapstructure:"resource_table"`
	ContactTable  string `mapstructure:"contact_table"`
}

type NotifyConfig struct {
	Driver       string `mapstructure:"driver"`
	SMTPAddr     string `mapstructure:"smtp_addr"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	From         string `mapstructure:"from"`
}

// AuthConfig controls staff bearer tokens.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MCPConfig controls the MCP server.
type MCPConfig struct {
	Transport string `mapstructure:"transport"`
	Port      int    `mapstructure:"port"`
}

// defaults is the single source of default values, keyed by viper key.
// Durations are written as strings so the generated YAML stays readable.
var defaults = []struct {
	key   string
	value any
}{
	{"server.host", "0.0.0.0"},
	{"server.port", 8080},
	{"server.shutdown_timeout", "30s"},
	{"server.cors_origins", []string{"*"}},
	{"server.rate_limit_per_minute", 60},
	{"server.replicas", 1},

	{"store.driver", store.DriverSQLite},
	{"store.dsn", ""},
	{"store.data_dir", "./data"},
	{"store.pool.max_open_conns", 25},
	{"store.pool.max_idle_conns", 5},
	{"store.pool.conn_max_lifetime", "5m"},
	{"store.pool.conn_max_idle_time", "1m"},
	{"store.redis_addr", "localhost:6379"},
	{"store.redis_password", ""},
	{"store.redis_db", 0},
	{"store.redis_prefix", "proposalgate"},

	{"codec.strategy", string(codec.StrategyOpaque)},
	{"codec.signing_secret", ""},
	{"codec.issuer", "proposalgate"},

	{"issuance.default_duration", "20m"},
	{"issuance.min_duration", "1m"},
	{"issuance.max_duration", "168h"},
	{"issuance.clamp_duration", true},
	{"issuance.require_approved_recipient", false},
	{"issuance.single_use", true},
	{"issuance.base_url", "http://localhost:3000/proposal/view"},
	{"issuance.query_param", "t"},
	{"issuance.default_scope", "view"},
	{"issuance.notify_timeout", "30s"},

	{"validation.recheck_eligibility", false},

	{"sessions.ttl", "20m"},
	{"sessions.extension_increment", "10m"},
	{"sessions.max_extensions", 5},
	{"sessions.bind_to_credential", false},

	{"sweep.interval", "5m"},
	{"sweep.retention", "24h"},
	{"sweep.timeout", "1m"},

	{"directory.driver", directory.DriverNone},
	{"directory.dsn", ""},
	{"directory.file", ""},
	{"directory.resource_table", "proposals"},
	{"directory.contact_table", "pre_approved_users"},

	{"notify.driver", notify.DriverLog},
	{"notify.smtp_addr", ""},
	{"notify.smtp_user", ""},
	{"notify.smtp_password", ""},
	{"notify.from", "Proposals <proposals@localhost>"},

	{"auth.jwt_secret", ""},
	{"auth.jwt_expiry", "1h"},

	{"logging.level", "info"},
	{"logging.format", "text"},

	{"mcp.transport", "stdio"},
	{"mcp.port", 8081},
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	for _, d := range defaults {
		v.SetDefault(d.key, d.value)
	}
}

// Default returns the configuration with no file, flags or environment.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return cfg
}

// Load decodes v into a Config. Defaults must already be registered.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. Every error wraps ErrInvalid.
func (c *Config) Validate() error {
	strategy, err := codec.ParseStrategy(c.Codec.Strategy)
	if err != nil {
		return invalid("codec.strategy: %v", err)
	}
	if strategy == codec.StrategySigned {
		if c.Codec.SigningSecret == "" {
			return invalid("codec.signing_secret is required for the signed strategy")
		}
		if c.Issuance.SingleUse {
			return invalid("issuance.single_use cannot be enforced by the signed strategy; set it to false")
		}
	}
	if strings.EqualFold(c.Store.Driver, store.DriverMemory) && c.Server.Replicas > 1 && strategy != codec.StrategySigned {
		return invalid("store.driver memory is not shared between %d replicas", c.Server.Replicas)
	}

	iss := c.Issuance
	if iss.MinDuration <= 0 || iss.MaxDuration < iss.MinDuration {
		return invalid("issuance durations: need 0 < min_duration <= max_duration")
	}
	if iss.DefaultDuration < iss.MinDuration || iss.DefaultDuration > iss.MaxDuration {
		return invalid("issuance.default_duration %s outside [%s, %s]", iss.DefaultDuration, iss.MinDuration, iss.MaxDuration)
	}
	if _, err := model.ParseScope(iss.DefaultScope); err != nil {
		return invalid("issuance.default_scope: %v", err)
	}
	if iss.QueryParam == "" {
		return invalid("issuance.query_param is required")
	}
	if u, err := url.Parse(iss.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("issuance.base_url must be an absolute URL")
	}

	if c.Sessions.TTL <= 0 || c.Sessions.ExtensionIncrement <= 0 || c.Sessions.MaxExtensions < 0 {
		return invalid("sessions: ttl and extension_increment must be positive, max_extensions non-negative")
	}
	if c.Sweep.Interval < 0 || c.Sweep.Retention < 0 {
		return invalid("sweep: interval and retention must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return invalid("server.rate_limit_per_minute must not be negative")
	}
	if c.Validation.RecheckEligibility && strings.EqualFold(c.Directory.Driver, directory.DriverNone) {
		return invalid("validation.recheck_eligibility needs a directory")
	}
	if c.Issuance.RequireApprovedRecipient && strings.EqualFold(c.Directory.Driver, directory.DriverNone) {
		return invalid("issuance.require_approved_recipient needs a directory")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Strategy returns the parsed codec strategy. Call Validate first.
func (c *Config) Strategy() codec.Strategy {
	s, _ := codec.ParseStrategy(c.Codec.Strategy)
	return s
}

// StoreOptions maps the store section onto store.Options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver:        c.Store.Driver,
		DSN:           c.Store.DSN,
		DataDir:       c.Store.DataDir,
		Pool:          c.Store.Pool,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		RedisPrefix:   c.Store.RedisPrefix,
	}
}

func (c *Config) DirectoryOptions() directory.Options {
	return directory.Options{
		Driver:        c.Directory.Driver,
		DSN:           c.Directory.DSN,
		File:          c.Directory.File,
		ResourceTable: c.Directory.ResourceTable,
		ContactTable:  c.Directory.ContactTable,
	}
}

func (c *Config) NotifyOptions() notify.Options {
	return notify.Options{
		Driver:   c.Notify.Driver,
		SMTPAddr: c.Notify.SMTPAddr,
		Username: c.Notify.SMTPUser,
		Password: c.Notify.SMTPPassword,
		From:     c.Notify.From,
	}
}

// IssuanceConfig maps the issuance section onto the service policy.
func (c *Config) IssuanceConfig() service.IssuanceConfig {
	scope, _ := model.ParseScope(c.Issuance.DefaultScope)
	return service.IssuanceConfig{
		Strategy:                 c.Strategy(),
		DefaultDuration:          c.Issuance.DefaultDuration,
		MinDuration:              c.Issuance.MinDuration,
		MaxDuration:              c.Issuance.MaxDuration,
		ClampDuration:            c.Issuance.ClampDuration,
		RequireApprovedRecipient: c.Issuance.RequireApprovedRecipient,
		SingleUse:                c.Issuance.SingleUse,
		BaseURL:                  c.Issuance.BaseURL,
		QueryParam:               c.Issuance.QueryParam,
		DefaultScope:             scope,
		NotifyTimeout:            c.Issuance.NotifyTimeout,
	}
}

func (c *Config) ValidatorConfig() service.ValidatorConfig {
	return service.ValidatorConfig{
		Strategy:           c.Strategy(),
		RecheckEligibility: c.Validation.RecheckEligibility,
	}
}

func (c *Config) SessionConfig() service.SessionConfig {
	return service.SessionConfig{
		TTL:                c.Sessions.TTL,
		ExtensionIncrement: c.Sessions.ExtensionIncrement,
		MaxExtensions:      c.Sessions.MaxExtensions,
		BindToCredential:   c.Sessions.BindToCredential,
	}
}

func (c *Config) SweeperConfig() sweeper.Config {
	return sweeper.Config{
		Interval:  c.Sweep.Interval,
		Retention: c.Sweep.Retention,
		Timeout:   c.Sweep.Timeout,
	}
}
