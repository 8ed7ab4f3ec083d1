// Package config handles configuration loading and validation for the
// pool: identity settings, network binds, the PPLNS persistence
// path, the downstream oracle, and every ambient subsystem (Redis,
// webhooks, profiling, logging).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/aleo-pool/zkpool/internal/notify"
)

// Config holds all configuration for the pool.
type Config struct {
	Pool       PoolConfig           `mapstructure:"pool"`
	Stratum    StratumConfig        `mapstructure:"stratum"`
	Protocol   ProtocolConfig       `mapstructure:"protocol"`
	NonceCache NonceCacheConfig     `mapstructure:"nonce_cache"`
	Redis      RedisConfig          `mapstructure:"redis"`
	Oracle     OracleConfig         `mapstructure:"oracle"`
	PPLNS      PPLNSConfig          `mapstructure:"pplns"`
	API        APIConfig            `mapstructure:"api"`
	Webhook    notify.WebhookConfig `mapstructure:"webhook"`
	Profiling  ProfilingConfig      `mapstructure:"profiling"`
	Log        LogConfig            `mapstructure:"log"`
}

// PoolConfig defines pool identity settings.
type PoolConfig struct {
	Name     string `mapstructure:"name"`
	Address  string `mapstructure:"address"`
	StateDir string `mapstructure:"state_dir"`
}

// StatePath is the full path to the PPLNS persistence file.
func (p PoolConfig) StatePath() string {
	return filepath.Join(p.StateDir, "state")
}

// StratumConfig defines the prover-facing TCP listener.
type StratumConfig struct {
	Bind              string        `mapstructure:"bind"`
	SolutionTarget    uint64        `mapstructure:"solution_target"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	AuthorizeTimeout  time.Duration `mapstructure:"authorize_timeout"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`

	// EpochInterval paces the built-in placeholder job source (see
	// cmd/zkpool's placeholderJobSource) that advances the epoch and
	// fans out mining.notify until a real chain-backed job source is
	// wired in its place.
	EpochInterval time.Duration `mapstructure:"epoch_interval"`
}

// ProtocolConfig defines the wire protocol name and the supported
// closed semver range provers must present at mining.subscribe.
type ProtocolConfig struct {
	Name       string `mapstructure:"name"`
	MinVersion string `mapstructure:"min_version"`
	MaxVersion string `mapstructure:"max_version"`
}

// NonceCacheConfig defines the accept-once dedup set's target capacity.
type NonceCacheConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// RedisConfig defines Redis connection settings for the payout store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OracleConfig defines the downstream node's solution-confirmation
// endpoint(s).
type OracleConfig struct {
	URLs    []string      `mapstructure:"urls"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PPLNSConfig defines the initial PPLNS window size.
type PPLNSConfig struct {
	WindowN uint64 `mapstructure:"window_n"`
}

// APIConfig defines the read-only stats HTTP server settings.
type APIConfig struct {
	Bind       string        `mapstructure:"bind"`
	StatsCache time.Duration `mapstructure:"stats_cache"`
}

// ProfilingConfig defines the pprof debug server settings.
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/zkpool")
	}

	v.SetEnvPrefix("ZKPOOL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Pool.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("error resolving home directory: %w", err)
		}
		cfg.Pool.StateDir = filepath.Join(home, ".zkpool")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.name", "ZK Pool")

	v.SetDefault("stratum.bind", "0.0.0.0:3333")
	v.SetDefault("stratum.solution_target", 0)
	v.SetDefault("stratum.handshake_timeout", "10s")
	v.SetDefault("stratum.authorize_timeout", "10s")
	v.SetDefault("stratum.inactivity_timeout", "180s")
	v.SetDefault("stratum.epoch_interval", "30s")

	v.SetDefault("protocol.name", "AleoStratum")
	v.SetDefault("protocol.min_version", "2.0.0")
	v.SetDefault("protocol.max_version", "2.0.0")

	v.SetDefault("nonce_cache.capacity", 10*1024*1024)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("oracle.urls", []string{"http://127.0.0.1:8001"})
	v.SetDefault("oracle.timeout", "10s")

	v.SetDefault("pplns.window_n", 0)

	v.SetDefault("api.bind", "0.0.0.0:8080")
	v.SetDefault("api.stats_cache", "10s")

	v.SetDefault("webhook.enabled", false)

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.bind", "127.0.0.1:6060")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Pool.Address == "" {
		return fmt.Errorf("pool.address is required")
	}
	if c.Stratum.Bind == "" {
		return fmt.Errorf("stratum.bind is required")
	}
	if c.Protocol.Name == "" {
		return fmt.Errorf("protocol.name is required")
	}
	if c.Protocol.MinVersion == "" || c.Protocol.MaxVersion == "" {
		return fmt.Errorf("protocol.min_version and protocol.max_version are required")
	}
	if c.NonceCache.Capacity < 0 {
		return fmt.Errorf("nonce_cache.capacity must be >= 0")
	}
	if len(c.Oracle.URLs) == 0 {
		return fmt.Errorf("oracle.urls must name at least one endpoint")
	}
	return nil
}
