package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, "broker:\n  host: broker.example.com\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "broker.example.com", cfg.Broker.Host)
	assert.Equal(t, 1883, cfg.Broker.Port)
	assert.True(t, cfg.Session.Clean)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.GetRetryInterval())
	assert.Equal(t, 30*time.Second, cfg.GetConnectTimeout())
	assert.Equal(t, "broker.example.com:1883", cfg.Address())
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfigFile(t, `
broker:
  host: 10.0.0.5
  port: 8883
  client_id: sensor-gateway
  connect_timeout: 10
auth:
  username: gateway
  password: hunter2
session:
  clean: false
  keep_alive: 60
  reconnect: true
delivery:
  retry_interval: 2
  max_retries: 3
store:
  backend: sqlite
  path: /var/lib/mqwire/pending.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sensor-gateway", cfg.Broker.ClientID)
	assert.Equal(t, "gateway", cfg.Auth.Username)
	assert.False(t, cfg.Session.Clean)
	assert.True(t, cfg.Session.Reconnect)
	assert.Equal(t, 60*time.Second, cfg.GetKeepAlive())
	assert.Equal(t, 2*time.Second, cfg.GetRetryInterval())
	assert.Equal(t, "sqlite", cfg.Store.Backend)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MQWIRE_BROKER_HOST", "override.example.com")
	t.Setenv("MQWIRE_AUTH_USERNAME", "env-user")
	t.Setenv("MQWIRE_AUTH_PASSWORD", "env-pass")

	path := writeConfigFile(t, "broker:\n  host: file.example.com\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "override.example.com", cfg.Broker.Host)
	assert.Equal(t, "env-user", cfg.Auth.Username)
	assert.Equal(t, "env-pass", cfg.Auth.Password)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{{
		name:   "defaults are valid",
		mutate: func(*Config) {},
		valid:  true,
	}, {
		name: "bad port",
		mutate: func(c *Config) {
			c.Broker.Port = 123456
		},
	}, {
		name: "password without username",
		mutate: func(c *Config) {
			c.Auth.Password = "secret"
		},
	}, {
		name: "unknown store backend",
		mutate: func(c *Config) {
			c.Store.Backend = "etcd"
		},
	}, {
		name: "sqlite without path",
		mutate: func(c *Config) {
			c.Store.Backend = "sqlite"
		},
	}, {
		name: "mongodb without uri",
		mutate: func(c *Config) {
			c.Store.Backend = "mongodb"
			c.Store.Database = "mqwire"
			c.Broker.ClientID = "client-1"
		},
	}, {
		name: "mongodb fully specified",
		mutate: func(c *Config) {
			c.Store.Backend = "mongodb"
			c.Store.URI = "mongodb://localhost:27017"
			c.Store.Database = "mqwire"
			c.Broker.ClientID = "client-1"
		},
		valid: true,
	}, {
		name: "zero retry interval",
		mutate: func(c *Config) {
			c.Delivery.RetryInterval = 0
		},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestClientOptionsFromConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Broker.ClientID = "test-client"
	cfg.Session.Reconnect = true

	opts, err := cfg.ClientOptions()
	require.NoError(t, err)

	require.NotNil(t, opts.ClientID)
	assert.Equal(t, "test-client", *opts.ClientID)
	require.NotNil(t, opts.AutoReconnect)
	assert.True(t, *opts.AutoReconnect)
	assert.NotNil(t, opts.Store)
	assert.NotNil(t, opts.Dialer)
}

func TestConnectOptionsFromConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Session.KeepAlive = 30
	cfg.Auth.Username = "user"
	cfg.Auth.Password = "pass"

	opts := cfg.ConnectOptions()
	require.NotNil(t, opts.KeepAlive)
	assert.Equal(t, uint16(30), *opts.KeepAlive)
	require.NotNil(t, opts.Username)
	assert.Equal(t, "user", *opts.Username)
	require.NotNil(t, opts.Password)
}
