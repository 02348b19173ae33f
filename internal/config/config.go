// Package config loads CLI configuration from an optional config file, an
// optional .env file and IRONWIRE_* environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jmcleod/ironwire/internal/util"
)

// EnvPrefix is prepended to every environment variable, so the key
// "data_dir" is read from IRONWIRE_DATA_DIR.
const EnvPrefix = "IRONWIRE"

// Storage backends accepted by StoreBackend.
const (
	BackendBolt     = "bbolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Realtime socket flavours accepted by RealtimeDialer.
const (
	DialerMQTT      = "mqtt"
	DialerWebSocket = "websocket"
)

// Config holds everything the CLI needs to build a client and serve the
// control API.
type Config struct {
	// Addr is the control API listen address.
	Addr string `mapstructure:"addr"`
	// APIToken, when set, is required as a bearer token on API routes.
	APIToken string `mapstructure:"api_token"`
	TLSCert  string `mapstructure:"tls_cert"`
	TLSKey   string `mapstructure:"tls_key"`

	DataDir         string `mapstructure:"data_dir"`
	StoreBackend    string `mapstructure:"store_backend"`
	StorePassphrase string `mapstructure:"store_passphrase"`
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	// KDFProfile selects the Argon2id cost for the store passphrase.
	KDFProfile string `mapstructure:"kdf_profile"`

	// RedisAddr enables the Redis GET response cache when set.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// KafkaBrokers enables relaying realtime events to KafkaTopic.
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	BaseURL           string        `mapstructure:"base_url"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	ProxyURL          string        `mapstructure:"proxy_url"`
	DeviceSeed        string        `mapstructure:"device_seed"`
	RealtimeDialer    string        `mapstructure:"realtime_dialer"`
	RealtimeEndpoints []string      `mapstructure:"realtime_endpoints"`
	RealtimeOnLogin   bool          `mapstructure:"realtime_on_login"`
	RealtimeMaxRetry  int           `mapstructure:"realtime_max_reconnects"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	MetricsEnable bool   `mapstructure:"metrics"`
}

// SetDefaults registers every key with its default. Keys without a
// default are invisible to AutomaticEnv during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:8086")
	v.SetDefault("api_token", "")
	v.SetDefault("tls_cert", "")
	v.SetDefault("tls_key", "")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("store_backend", BackendBolt)
	v.SetDefault("store_passphrase", "")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("kdf_profile", util.KDFProfileModerate)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_topic", "ironwire-events")
	v.SetDefault("base_url", "https://i.instagram.com")
	v.SetDefault("http_timeout", 30*time.Second)
	v.SetDefault("proxy_url", "")
	v.SetDefault("device_seed", "")
	v.SetDefault("realtime_dialer", DialerMQTT)
	v.SetDefault("realtime_endpoints", []string{})
	v.SetDefault("realtime_on_login", true)
	v.SetDefault("realtime_max_reconnects", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("metrics", false)
}

// New returns a Viper instance with defaults and environment binding
// configured. Callers bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env (if present) into the environment, then the config file
// at path (if non-empty), and decodes and validates the result. Values set
// in the environment override the file; bound flags override both.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.RealtimeEndpoints = splitList(cfg.RealtimeEndpoints)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr must be set")
	}
	switch c.StoreBackend {
	case BackendBolt, BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("config: postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store_backend %q", c.StoreBackend)
	}
	if _, err := util.Argon2idProfile(c.KDFProfile); err != nil {
		return fmt.Errorf("config: kdf_profile: %w", err)
	}
	switch c.RealtimeDialer {
	case DialerMQTT, DialerWebSocket:
	default:
		return fmt.Errorf("config: unknown realtime_dialer %q", c.RealtimeDialer)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("config: tls_cert and tls_key must be set together")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("config: http_timeout must be positive")
	}
	if c.RealtimeMaxRetry < 0 {
		return errors.New("config: realtime_max_reconnects must not be negative")
	}
	return nil
}

// KafkaEnabled reports whether realtime events should be relayed to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

// splitList flattens comma-separated entries, which is how lists arrive
// from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
