// Package models - Service configuration and operational settings.
// This file defines configuration structures for all service components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, store, rate limiting, etc.)
// - Environment-friendly defaults that work out of the box
// - Comprehensive validation to catch misconfigurations early
// - Support for multiple deployment scenarios (development, production, cloud)
// - Extensible design for future enhancements
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Bucket store type constants
const (
	StoreTypeRedis    = "redis"
	StoreTypePostgres = "postgres"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Store: Shared bucket store backend (Redis or Postgres)
// - RateLimit: Admission policies and fallback behavior
// - Logging: Structured logging and output configuration
// - Metrics: Monitoring and observability exposition
// - Observability: Service identity and tracing
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Store         StoreConfig         `yaml:"store" json:"store"`                 // Shared bucket store backend
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`       // Admission control policies
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing and service identity
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StoreConfig struct {
	Type      string         `yaml:"type" json:"type"`
	KeyPrefix string         `yaml:"key_prefix" json:"key_prefix"`
	OpTimeout time.Duration  `yaml:"op_timeout" json:"op_timeout"`
	Redis     RedisConfig    `yaml:"redis" json:"redis"`
	Postgres  PostgresConfig `yaml:"postgres" json:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxConns        int           `yaml:"max_conns" json:"max_conns"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// RateLimitConfig describes the default token bucket policy, per-route
// overrides, and the degraded-mode partitioning.
//
// Route overrides inherit any zero field from the default policy, so a
// route entry may set only max_requests and burst and pick up the
// shared window.
type RateLimitConfig struct {
	Enabled       bool                         `yaml:"enabled" json:"enabled"`
	UserHeader    string                       `yaml:"user_header" json:"user_header"`
	Window        time.Duration                `yaml:"window" json:"window"`
	MaxRequests   int                          `yaml:"max_requests" json:"max_requests"`
	Burst         int                          `yaml:"burst" json:"burst"`
	InstanceCount int                          `yaml:"instance_count" json:"instance_count"`
	Routes        map[string]RoutePolicyConfig `yaml:"routes" json:"routes"`
}

type RoutePolicyConfig struct {
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Burst       int           `yaml:"burst" json:"burst"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - 30-second timeouts: Balance between user experience and resource protection
// - Redis store on localhost: The common single-region deployment
// - 2-second store timeout: A slow limiter hop must never stall requests
// - 100 requests + 20 burst per 60s: Conservative default admission policy
// - Demo route policies mirror the storefront endpoints this service fronts
// - Instance count 1: Single-instance deployments need no partitioning
// - Structured JSON logging: Better for log aggregation and analysis
// - Metrics enabled by default for monitoring
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
		},
		Store: StoreConfig{
			Type:      StoreTypeRedis,
			KeyPrefix: "ratelimit:",
			OpTimeout: 2 * time.Second,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
			Postgres: PostgresConfig{
				MaxConns:        10,
				CleanupInterval: time.Minute,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			UserHeader:    "X-User-ID",
			Window:        60 * time.Second,
			MaxRequests:   100,
			Burst:         20,
			InstanceCount: 1,
			Routes: map[string]RoutePolicyConfig{
				"/products": {MaxRequests: 100, Burst: 20},
				"/cart":     {MaxRequests: 50, Burst: 10},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "gatekeeper",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StoreConfig) Validate() error {
	validTypes := []string{StoreTypeRedis, StoreTypePostgres}
	found := false
	for _, vt := range validTypes {
		if stc.Type == vt {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid store type: %s", stc.Type)
	}

	if stc.OpTimeout <= 0 {
		return errors.New("store op timeout must be positive")
	}

	if stc.Type == StoreTypeRedis && stc.Redis.Addr == "" {
		return errors.New("Redis address is required for redis store")
	}

	if stc.Type == StoreTypePostgres && stc.Postgres.DSN == "" {
		return errors.New("database DSN is required for postgres store")
	}

	if stc.Redis.PoolSize < 0 {
		return errors.New("Redis pool size cannot be negative")
	}

	if stc.Postgres.MaxConns < 0 {
		return errors.New("Postgres max conns cannot be negative")
	}

	return nil
}

func (rlc *RateLimitConfig) Validate() error {
	if !rlc.Enabled {
		return nil
	}

	if rlc.UserHeader == "" {
		return errors.New("user header cannot be empty")
	}

	if rlc.Window <= 0 {
		return errors.New("window must be positive")
	}

	if rlc.MaxRequests <= 0 {
		return errors.New("max requests must be positive")
	}

	if rlc.Burst < 0 {
		return errors.New("burst cannot be negative")
	}

	if rlc.InstanceCount < 1 {
		return errors.New("instance count must be at least 1")
	}

	for route, policy := range rlc.Routes {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("route %q must start with /", route)
		}
		if policy.Window < 0 {
			return fmt.Errorf("route %s: window cannot be negative", route)
		}
		if policy.MaxRequests < 0 {
			return fmt.Errorf("route %s: max requests cannot be negative", route)
		}
		if policy.Burst < 0 {
			return fmt.Errorf("route %s: burst cannot be negative", route)
		}
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	validExporters := []string{"stdout", "otlp"}
	found := false
	for _, ve := range validExporters {
		if oc.Tracing.Exporter == ve {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.Exporter == "otlp" && oc.Tracing.OTLPEndpoint == "" {
		return errors.New("OTLP endpoint is required for otlp exporter")
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
