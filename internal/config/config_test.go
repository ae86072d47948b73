package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:3000", cfg.Server.Addr())
	assert.False(t, cfg.Admin.Enabled())
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
server:
  port: 8080
  shutdown_timeout: 3s
websocket:
  send_queue_size: 16
  allowed_origins: ["https://chat.example.com"]
logging:
  level: debug
  format: text
redis:
  addr: localhost:6379
`)

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 16, cfg.WebSocket.SendQueueSize)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Redis.Enabled())
	// untouched defaults survive
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
}

func TestLoadJSONFile(t *testing.T) {
	path := writeFile(t, "relay.json", `{"server": {"port": 9000}, "store": {"driver": "memory"}}`)

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadJSONDurations(t *testing.T) {
	path := writeFile(t, "relay.json", `{
	"server": {"port": 9000, "read_timeout": "30s", "shutdown_timeout": "1m30s"},
	"websocket": {"ping_interval": "15s", "allowed_origins": ["https://chat.example.com"]},
	"store": {"driver": "memory", "history": 50, "mongo": {"max_pool_size": 20}},
	"redis": {"addr": "localhost:6379", "ttl": "2m"}
}`)

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 90*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, 50, cfg.Store.History)
	assert.Equal(t, uint64(20), cfg.Store.Mongo.MaxPoolSize)
	assert.Equal(t, 2*time.Minute, cfg.Redis.TTL)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeFile(t, "relay.json", `{"server": {"port": `)

	_, err := Load(LoadOptions{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse JSON config")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "relay.yaml", "server:\n  port: 8080\n")
	t.Setenv("CHATRELAY_SERVER_PORT", "9090")
	t.Setenv("CHATRELAY_LOG_FORMAT", "pretty")
	t.Setenv("CHATRELAY_ADMIN_SECRET", "s3cret")
	t.Setenv("CHATRELAY_ADMIN_EMAIL", "admin@example.com")
	t.Setenv("CHATRELAY_STORE_MONGO_DATABASE", "relay")
	t.Setenv("CHATRELAY_WS_ALLOWED_ORIGINS", "http://a,http://b")

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "pretty", cfg.Logging.Format)
	assert.True(t, cfg.Admin.Enabled())
	assert.Equal(t, "relay", cfg.Store.Mongo.Database)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.WebSocket.AllowedOrigins)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, "relay.toml", "port = 1")

	_, err := Load(LoadOptions{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file format")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative read timeout", func(c *Config) { c.Server.ReadTimeout = -1 }, "server.read_timeout"},
		{"empty queue", func(c *Config) { c.WebSocket.SendQueueSize = 0 }, "websocket.send_queue_size"},
		{"ping too slow", func(c *Config) { c.WebSocket.PingInterval = time.Hour }, "websocket.ping_interval"},
		{"negative history", func(c *Config) { c.Store.History = -1 }, "store.history"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"mongo without uri", func(c *Config) { c.Store.Driver = StoreDriverMongo }, "store.mongo.uri"},
		{"admin without email", func(c *Config) { c.Admin.Secret = "x" }, "admin.email"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}
