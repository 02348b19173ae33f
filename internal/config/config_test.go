package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test from an empty directory so a developer's .env
// never leaks in.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8086", cfg.Addr)
	assert.Equal(t, BackendBolt, cfg.StoreBackend)
	assert.Equal(t, "moderate", cfg.KDFProfile)
	assert.Equal(t, DialerMQTT, cfg.RealtimeDialer)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.True(t, cfg.RealtimeOnLogin)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("IRONWIRE_ADDR", ":9999")
	t.Setenv("IRONWIRE_STORE_BACKEND", "sqlite")
	t.Setenv("IRONWIRE_HTTP_TIMEOUT", "5s")
	t.Setenv("IRONWIRE_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("IRONWIRE_REALTIME_ON_LOGIN", "false")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.False(t, cfg.RealtimeOnLogin)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("IRONWIRE_DEVICE_SEED=from-dotenv\n"), 0o600))
	// godotenv never overrides variables that are already set; register
	// cleanup for the one it sets.
	t.Setenv("IRONWIRE_DEVICE_SEED", "")
	os.Unsetenv("IRONWIRE_DEVICE_SEED")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.DeviceSeed)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "ironwire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store_backend: memory
realtime_dialer: websocket
realtime_endpoints:
  - wss://a.test/mqtt
  - wss://b.test/mqtt
log_level: debug
`), 0o600))
	t.Setenv("IRONWIRE_LOG_LEVEL", "warn")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, DialerWebSocket, cfg.RealtimeDialer)
	assert.Equal(t, []string{"wss://a.test/mqtt", "wss://b.test/mqtt"}, cfg.RealtimeEndpoints)
	assert.Equal(t, "warn", cfg.LogLevel, "environment overrides the file")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	chdirTemp(t)
	_, err := Load(New(), "/nonexistent/ironwire.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Addr:           ":8086",
			StoreBackend:   BackendBolt,
			KDFProfile:     "moderate",
			RealtimeDialer: DialerMQTT,
			HTTPTimeout:    time.Second,
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"empty addr":          func(c *Config) { c.Addr = "" },
		"unknown backend":     func(c *Config) { c.StoreBackend = "mongo" },
		"postgres no dsn":     func(c *Config) { c.StoreBackend = BackendPostgres },
		"unknown kdf":         func(c *Config) { c.KDFProfile = "extreme" },
		"unknown dialer":      func(c *Config) { c.RealtimeDialer = "carrier-pigeon" },
		"cert without key":    func(c *Config) { c.TLSCert = "cert.pem" },
		"zero http timeout":   func(c *Config) { c.HTTPTimeout = 0 },
		"negative reconnects": func(c *Config) { c.RealtimeMaxRetry = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.StoreBackend = BackendPostgres
	c.PostgresDSN = "postgres://localhost/ironwire"
	assert.NoError(t, c.Validate())
}
