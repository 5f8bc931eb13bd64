// Package config provides configuration management for the ouracs control plane.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/consolidation"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/objective"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/scheduler"
)

// Config holds all configuration for the application.
type Config struct {
	Server        ServerConfig               `mapstructure:"server"`
	Database      DatabaseConfig             `mapstructure:"database"`
	Etcd          EtcdConfig                 `mapstructure:"etcd"`
	Redis         RedisConfig                `mapstructure:"redis"`
	Auth          AuthConfig                 `mapstructure:"auth"`
	Optimizer     OptimizerConfig            `mapstructure:"optimizer"`
	Power         objective.LinearPowerModel `mapstructure:"power"`
	Consolidation consolidation.Config       `mapstructure:"consolidation"`
	DRS           DRSConfig                  `mapstructure:"drs"`
	Inventory     InventoryConfig            `mapstructure:"inventory"`
	State         StateConfig                `mapstructure:"state"`
	Metrics       MetricsConfig              `mapstructure:"metrics"`
	Tracing       TracingConfig              `mapstructure:"tracing"`
	Logging       LoggingConfig              `mapstructure:"logging"`
	CORS          CORSConfig                 `mapstructure:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the PostgreSQL connection URL used by migrations.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration. When enabled, etcd provides the
// per-datacenter locks and leader election.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Prefix      string        `mapstructure:"prefix"`
	// SessionTTL is the lease TTL in seconds backing locks and election.
	SessionTTL int `mapstructure:"session_ttl"`
}

// RedisConfig holds Redis configuration. When enabled, Redis carries the
// event stream between instances.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	Issuer      string        `mapstructure:"issuer"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// OptimizerConfig holds the colony, threshold and selection settings.
type OptimizerConfig struct {
	Variant          string        `mapstructure:"variant"`
	Generations      int           `mapstructure:"generations"`
	Ants             int           `mapstructure:"ants"`
	Q0               float64       `mapstructure:"q0"`
	Beta             float64       `mapstructure:"beta"`
	LocalDecay       float64       `mapstructure:"local_decay"`
	GlobalDecay      float64       `mapstructure:"global_decay"`
	ArchiveSize      int           `mapstructure:"archive_size"`
	OverUtilization  float64       `mapstructure:"over_utilization"`
	UnderUtilization float64       `mapstructure:"under_utilization"`
	Selection        string        `mapstructure:"selection"`
	Deadline         time.Duration `mapstructure:"deadline"`
	Parallel         bool          `mapstructure:"parallel"`
	Workers          int           `mapstructure:"workers"`
	Seed             uint64        `mapstructure:"seed"`
}

// Scheduler returns the engine part of the configuration.
func (c OptimizerConfig) Scheduler() scheduler.Config {
	return scheduler.Config{
		Variant:     c.Variant,
		Generations: c.Generations,
		Ants:        c.Ants,
		Q0:          c.Q0,
		Beta:        c.Beta,
		LocalDecay:  c.LocalDecay,
		GlobalDecay: c.GlobalDecay,
		ArchiveSize: c.ArchiveSize,
		Parallel:    c.Parallel,
		Workers:     c.Workers,
	}
}

// Thresholds returns the utilization thresholds.
func (c OptimizerConfig) Thresholds() resource.Thresholds {
	return resource.Thresholds{Over: c.OverUtilization, Under: c.UnderUtilization}
}

// Service returns the orchestration part of the configuration.
func (c OptimizerConfig) Service() optimizer.Config {
	return optimizer.Config{Selection: c.Selection, Deadline: c.Deadline, Seed: c.Seed}
}

// DRSConfig holds the periodic consolidation loop configuration.
type DRSConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// AutomationLevel is "manual" (record plans) or "full" (also execute).
	AutomationLevel string        `mapstructure:"automation_level"`
	Interval        time.Duration `mapstructure:"interval"`
	Datacenters     []string      `mapstructure:"datacenters"`
	PlanRetention   time.Duration `mapstructure:"plan_retention"`
}

// InventoryConfig points at the inventory snapshot file.
type InventoryConfig struct {
	Path string `mapstructure:"path"`
}

// StateConfig selects where warm-start state lives.
type StateConfig struct {
	// Backend is one of memory, redis, postgres or etcd.
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// MetricsConfig holds Prometheus configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("OURACS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the optimizer cannot run with.
func (c *Config) Validate() error {
	if err := c.Optimizer.Scheduler().Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Thresholds().Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Service().Validate(); err != nil {
		return err
	}
	if err := c.Power.Validate(); err != nil {
		return err
	}
	if err := c.Consolidation.Validate(); err != nil {
		return err
	}

	switch c.State.Backend {
	case "memory", "redis", "postgres", "etcd":
	default:
		return &domain.ConfigError{Field: "state.backend", Reason: fmt.Sprintf("unknown backend %q", c.State.Backend)}
	}
	if c.State.Backend == "redis" && !c.Redis.Enabled {
		return &domain.ConfigError{Field: "state.backend", Reason: "redis backend needs redis.enabled"}
	}
	if c.State.Backend == "postgres" && !c.Database.Enabled {
		return &domain.ConfigError{Field: "state.backend", Reason: "postgres backend needs database.enabled"}
	}
	if c.State.Backend == "etcd" && !c.Etcd.Enabled {
		return &domain.ConfigError{Field: "state.backend", Reason: "etcd backend needs etcd.enabled"}
	}

	switch c.DRS.AutomationLevel {
	case "manual", "full":
	default:
		return &domain.ConfigError{Field: "drs.automation_level", Reason: fmt.Sprintf("must be manual or full, got %q", c.DRS.AutomationLevel)}
	}
	if c.DRS.Enabled && c.DRS.Interval <= 0 {
		return &domain.ConfigError{Field: "drs.interval", Reason: "must be positive"}
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return &domain.ConfigError{Field: "auth.jwt_secret", Reason: "required when auth is enabled"}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return &domain.ConfigError{Field: "tracing.sample_ratio", Reason: "must be in [0,1]"}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "ouracs")
	v.SetDefault("database.user", "ouracs")
	v.SetDefault("database.password", "ouracs")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.prefix", "/ouracs")
	v.SetDefault("etcd.session_ttl", 15)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "ouracs:events")

	// Auth
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.issuer", "ouracs")
	v.SetDefault("auth.token_expiry", "24h")

	// Optimizer
	sc := scheduler.DefaultConfig()
	th := resource.DefaultThresholds()
	oc := optimizer.DefaultConfig()
	v.SetDefault("optimizer.variant", sc.Variant)
	v.SetDefault("optimizer.generations", sc.Generations)
	v.SetDefault("optimizer.ants", sc.Ants)
	v.SetDefault("optimizer.q0", sc.Q0)
	v.SetDefault("optimizer.beta", sc.Beta)
	v.SetDefault("optimizer.local_decay", sc.LocalDecay)
	v.SetDefault("optimizer.global_decay", sc.GlobalDecay)
	v.SetDefault("optimizer.archive_size", sc.ArchiveSize)
	v.SetDefault("optimizer.over_utilization", th.Over)
	v.SetDefault("optimizer.under_utilization", th.Under)
	v.SetDefault("optimizer.selection", oc.Selection)
	v.SetDefault("optimizer.deadline", oc.Deadline)
	v.SetDefault("optimizer.parallel", sc.Parallel)
	v.SetDefault("optimizer.workers", 0)
	v.SetDefault("optimizer.seed", 0)

	// Power
	pm := objective.DefaultLinearPowerModel()
	v.SetDefault("power.idle_watts", pm.IdleWatts)
	v.SetDefault("power.max_watts", pm.MaxWatts)
	v.SetDefault("power.carbon_intensity", pm.CarbonIntensity)
	v.SetDefault("power.energy_price", pm.EnergyPrice)

	// Consolidation
	cc := consolidation.DefaultConfig()
	v.SetDefault("consolidation.evacuate_underloaded", cc.EvacuateUnderloaded)
	v.SetDefault("consolidation.max_evacuated_hosts", cc.MaxEvacuatedHosts)

	// DRS
	v.SetDefault("drs.enabled", false)
	v.SetDefault("drs.automation_level", "manual")
	v.SetDefault("drs.interval", "5m")
	v.SetDefault("drs.datacenters", []string{})
	v.SetDefault("drs.plan_retention", "168h")

	// Inventory
	v.SetDefault("inventory.path", "./configs/inventory.yaml")

	// State
	v.SetDefault("state.backend", "memory")
	v.SetDefault("state.ttl", "0s")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Tracing
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", true)
}
