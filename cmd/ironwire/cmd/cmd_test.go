package cmd

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironwire/internal/config"
	"github.com/jmcleod/ironwire/internal/util"
	"github.com/jmcleod/ironwire/state"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	return &config.Config{
		Addr:            "127.0.0.1:0",
		DataDir:         t.TempDir(),
		StoreBackend:    backend,
		StorePassphrase: "correct horse battery staple",
		KDFProfile:      util.KDFProfileInteractive,
		BaseURL:         "https://api.test",
		HTTPTimeout:     time.Second,
		RealtimeDialer:  config.DialerMQTT,
		LogLevel:        "debug",
	}
}

func TestOpenStoreBackends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendBolt, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)
			store, closeStore, err := openStore(t.Context(), cfg, slog.Default())
			require.NoError(t, err)
			defer closeStore()

			st := state.New(state.WithSeed("cmd-test"))
			rev, err := store.Save(t.Context(), "alice", st)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), rev)

			ids, err := store.List(t.Context())
			require.NoError(t, err)
			assert.Equal(t, []string{"alice"}, ids)
		})
	}
}

func TestOpenStoreRequiresPassphrase(t *testing.T) {
	cfg := testConfig(t, config.BackendBolt)
	cfg.StorePassphrase = ""
	_, _, err := openStore(t.Context(), cfg, slog.Default())
	assert.ErrorIs(t, err, errNoPassphrase)

	cfg = testConfig(t, config.BackendMemory)
	cfg.StorePassphrase = ""
	_, closeStore, err := openStore(t.Context(), cfg, slog.Default())
	require.NoError(t, err, "the memory backend uses an ephemeral key")
	closeStore()
}

func TestNewAppWiresClient(t *testing.T) {
	logger = slog.Default()
	cfg := testConfig(t, config.BackendMemory)
	cfg.RealtimeDialer = config.DialerWebSocket
	cfg.RealtimeEndpoints = []string{"wss://broker.test/mqtt"}

	a, err := newApp(t.Context(), cfg, "alice")
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.NotNil(t, a.store)
	assert.Equal(t, "idle", a.client.Realtime().State().String())
	assert.False(t, a.client.State().HasValidSession())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, &buf)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	l = newLogger(&config.Config{LogLevel: "nonsense"}, &buf)
	l.Debug("hidden")
	l.Info("shown")
	assert.Equal(t, 1, strings.Count(buf.String(), "msg="))
}

func TestPrompt(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("bob\r\nsecret"))
	var out bytes.Buffer

	got, err := prompt(in, &out, "Username: ")
	require.NoError(t, err)
	assert.Equal(t, "bob", got)

	got, err = prompt(in, &out, "Password: ")
	require.NoError(t, err, "a final line without newline is accepted")
	assert.Equal(t, "secret", got)
	assert.Equal(t, "Username: Password: ", out.String())

	_, err = prompt(in, &out, "More: ")
	assert.Error(t, err)
}

func TestSecretFrom(t *testing.T) {
	t.Setenv(exportPassphraseEnv, "")
	_, err := secretFrom("", exportPassphraseEnv)
	assert.Error(t, err)

	t.Setenv(exportPassphraseEnv, "from-env")
	got, err := secretFrom("", exportPassphraseEnv)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	got, err = secretFrom("from-flag", exportPassphraseEnv)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", got)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:8086"))
	assert.True(t, isLoopback("localhost:8086"))
	assert.True(t, isLoopback("[::1]:8086"))
	assert.False(t, isLoopback(":8086"))
	assert.False(t, isLoopback("0.0.0.0:8086"))
	assert.False(t, isLoopback("bogus"))
}

func TestCachePrefix(t *testing.T) {
	assert.Equal(t, "ironwire:cache:default", cachePrefix(""))
	assert.Equal(t, "ironwire:cache:alice", cachePrefix("alice"))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "ironwire "+Version+"\n", out.String())
}
