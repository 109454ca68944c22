// Package config provides Viper-based configuration loading for the chat service.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server operation modes.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// ServerConfig holds top-level service settings.
type ServerConfig struct {
	// Mode is the deployment mode: "production" or "development".
	// Development mode relaxes room authorization and permits
	// self-declared identities in the handshake.
	Mode string `mapstructure:"mode"`
}

// Production reports whether the service runs in production mode.
func (s ServerConfig) Production() bool {
	return s.Mode == ModeProduction
}

// HTTPConfig holds the HTTP/websocket listener settings.
type HTTPConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// HandshakeTimeout bounds the wait for the first auth frame on a
	// fresh websocket connection.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// WriteTimeout is the per-frame write deadline for websocket sends.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// RedisConfig holds shared-store connection settings.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// ChatConfig holds message and retention limits.
type ChatConfig struct {
	// MaxMessageLength is the maximum accepted message length in runes;
	// longer messages are truncated before trimming.
	MaxMessageLength int `mapstructure:"max_message_length"`
	// RateLimitPerSecond is the per-identity send ceiling within one
	// rate window.
	RateLimitPerSecond int `mapstructure:"rate_limit_per_second"`
	// RateWindow is the fixed rate-limit window length.
	RateWindow time.Duration `mapstructure:"rate_window"`
	// HistoryLimit is the number of messages replayed on join.
	HistoryLimit int `mapstructure:"history_limit"`
	// RoomTTL is the sliding retention window for room metadata,
	// message streams, and membership sets.
	RoomTTL time.Duration `mapstructure:"room_ttl"`
}

// AuthConfig holds identity verification settings.
type AuthConfig struct {
	// JWTSecret is the HS256 key shared with the identity service.
	// Empty means the verifier starts degraded: token logins are
	// refused but self-declared identities still work when allowed.
	JWTSecret string `mapstructure:"jwt_secret"`
	// JWTIssuer, when non-empty, is required to match the token issuer.
	JWTIssuer string `mapstructure:"jwt_issuer"`
	// AllowSelfDeclared permits the unverified identityId/username
	// handshake. Must be false in production.
	AllowSelfDeclared bool `mapstructure:"allow_self_declared"`
}

// UpstreamConfig holds collaborator service endpoints.
type UpstreamConfig struct {
	// ProfileURL is the base URL of the user profile service.
	ProfileURL string `mapstructure:"profile_url"`
	// MatchmakingURL is the base URL of the matchmaking service.
	MatchmakingURL string `mapstructure:"matchmaking_url"`
	// Timeout bounds every upstream HTTP call.
	Timeout time.Duration `mapstructure:"timeout"`
	// ProfileCacheTTL is how long resolved profiles stay cached.
	ProfileCacheTTL time.Duration `mapstructure:"profile_cache_ttl"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateHTTP(c.HTTP); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRedis(c.Redis); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateChat(c.Chat); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAuth(c.Server, c.Auth); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateUpstream(c.Upstream); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	validModes := map[string]bool{ModeProduction: true, ModeDevelopment: true}
	if !validModes[s.Mode] {
		return fmt.Errorf("server.mode must be one of [production, development], got %q", s.Mode)
	}
	return nil
}

func validateHTTP(h HTTPConfig) error {
	var errs []string
	if h.Port < 1 || h.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be 1-65535, got %d", h.Port))
	}
	if h.HandshakeTimeout <= 0 {
		errs = append(errs, "http.handshake_timeout must be positive")
	}
	if h.WriteTimeout <= 0 {
		errs = append(errs, "http.write_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRedis(r RedisConfig) error {
	var errs []string
	if r.Addr == "" {
		errs = append(errs, "redis.addr must not be empty")
	}
	if r.DB < 0 {
		errs = append(errs, fmt.Sprintf("redis.db must be >= 0, got %d", r.DB))
	}
	if r.DialTimeout < 0 {
		errs = append(errs, "redis.dial_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateChat(c ChatConfig) error {
	var errs []string
	if c.MaxMessageLength < 1 {
		errs = append(errs, fmt.Sprintf("chat.max_message_length must be >= 1, got %d", c.MaxMessageLength))
	}
	if c.RateLimitPerSecond < 1 {
		errs = append(errs, fmt.Sprintf("chat.rate_limit_per_second must be >= 1, got %d", c.RateLimitPerSecond))
	}
	if c.RateWindow <= 0 {
		errs = append(errs, "chat.rate_window must be positive")
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, fmt.Sprintf("chat.history_limit must be >= 0, got %d", c.HistoryLimit))
	}
	if c.RoomTTL <= 0 {
		errs = append(errs, "chat.room_ttl must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAuth(s ServerConfig, a AuthConfig) error {
	var errs []string
	if s.Mode == ModeProduction && a.AllowSelfDeclared {
		errs = append(errs, "auth.allow_self_declared must be false in production")
	}
	if s.Mode == ModeProduction && a.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret must be set in production")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateUpstream(u UpstreamConfig) error {
	var errs []string
	if err := validateBaseURL("upstream.profile_url", u.ProfileURL); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBaseURL("upstream.matchmaking_url", u.MatchmakingURL); err != nil {
		errs = append(errs, err.Error())
	}
	if u.Timeout <= 0 {
		errs = append(errs, "upstream.timeout must be positive")
	}
	if u.ProfileCacheTTL < 0 {
		errs = append(errs, "upstream.profile_cache_ttl must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBaseURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return fmt.Errorf("%s is not a valid URL: %v", name, err)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with CHAT_ prefix
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", ModeDevelopment)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 3001)
	v.SetDefault("http.handshake_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")

	v.SetDefault("chat.max_message_length", 1000)
	v.SetDefault("chat.rate_limit_per_second", 5)
	v.SetDefault("chat.rate_window", "1s")
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.room_ttl", "4h")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")
	v.SetDefault("auth.allow_self_declared", true)

	v.SetDefault("upstream.profile_url", "http://localhost:8080/api/profiles")
	v.SetDefault("upstream.matchmaking_url", "http://localhost:8082/api/matchmaking")
	v.SetDefault("upstream.timeout", "5s")
	v.SetDefault("upstream.profile_cache_ttl", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
