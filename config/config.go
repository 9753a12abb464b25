// Package config loads client configuration from YAML with
// environment variable overrides.
package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/yaml.v3"

	"github.com/mqwire/mqwire/client"
	"github.com/mqwire/mqwire/store"
)

// Config is the root configuration structure. All configuration is
// loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Auth     AuthConfig     `yaml:"auth"`
	Session  SessionConfig  `yaml:"session"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BrokerConfig contains broker connection details.
type BrokerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ClientID       string `yaml:"client_id"`
	ConnectTimeout int    `yaml:"connect_timeout"`
}

// AuthConfig contains broker authentication credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SessionConfig contains session lifecycle settings.
type SessionConfig struct {
	Clean bool `yaml:"clean"`
	// KeepAlive is the ping interval in seconds; 0 disables pings.
	KeepAlive int `yaml:"keep_alive"`
	// MatchReserved lets leading wildcards match "$"-prefixed
	// topics.
	MatchReserved bool `yaml:"match_reserved"`
	Reconnect     bool `yaml:"reconnect"`
}

// DeliveryConfig bounds the QoS > 0 retransmission machinery.
type DeliveryConfig struct {
	// RetryInterval is the wait in seconds before retransmitting an
	// unacknowledged message.
	RetryInterval int `yaml:"retry_interval"`
	// MaxRetries is the retransmission budget per handshake step.
	MaxRetries int `yaml:"max_retries"`
}

// StoreConfig selects the pending-delivery backend.
type StoreConfig struct {
	// Backend is "memory", "sqlite" or "mongodb".
	Backend string `yaml:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
	// URI is the connection string for the mongodb backend.
	URI string `yaml:"uri"`
	// Database is the database name for the mongodb backend.
	Database string `yaml:"database"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern MQWIRE_SECTION_KEY, e.g.
// MQWIRE_BROKER_HOST, MQWIRE_AUTH_PASSWORD.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:           "localhost",
			Port:           1883,
			ConnectTimeout: 30,
		},
		Session: SessionConfig{
			Clean: true,
		},
		Delivery: DeliveryConfig{
			RetryInterval: 5,
			MaxRetries:    5,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MQWIRE_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("MQWIRE_BROKER_CLIENT_ID"); v != "" {
		cfg.Broker.ClientID = v
	}
	if v := os.Getenv("MQWIRE_AUTH_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("MQWIRE_AUTH_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv("MQWIRE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Auth.Password != "" && c.Auth.Username == "" {
		errs = append(errs, "auth.username is required when auth.password is set")
	}
	if c.Delivery.RetryInterval < 1 {
		errs = append(errs, "delivery.retry_interval must be at least 1 second")
	}
	if c.Delivery.MaxRetries < 0 {
		errs = append(errs, "delivery.max_retries must not be negative")
	}
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite backend")
		}
	case "mongodb":
		if c.Store.URI == "" {
			errs = append(errs, "store.uri is required for the mongodb backend")
		}
		if c.Store.Database == "" {
			errs = append(errs, "store.database is required for the mongodb backend")
		}
		if c.Broker.ClientID == "" {
			errs = append(errs, "broker.client_id is required for the mongodb backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend %q is not supported", c.Store.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Address returns the broker address in host:port form.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Broker.Host, fmt.Sprintf("%d", c.Broker.Port))
}

// GetConnectTimeout returns the handshake timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Broker.ConnectTimeout) * time.Second
}

// GetRetryInterval returns the retransmission interval as a Duration.
func (c *Config) GetRetryInterval() time.Duration {
	return time.Duration(c.Delivery.RetryInterval) * time.Second
}

// GetKeepAlive returns the keep-alive interval as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.Session.KeepAlive) * time.Second
}

// BuildStore opens the configured pending-delivery backend.
func (c *Config) BuildStore() (store.Store, error) {
	switch c.Store.Backend {
	case "sqlite":
		return store.NewSQLiteStore(c.Store.Path)
	case "mongodb":
		ctx, cancel := context.WithTimeout(context.Background(), c.GetConnectTimeout())
		defer cancel()
		mongoClient, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(c.Store.URI))
		if err != nil {
			return nil, fmt.Errorf("connecting to mongodb: %w", err)
		}
		return store.NewMongoStore(mongoClient, c.Store.Database, c.Broker.ClientID)
	default:
		return store.NewMemoryStore(), nil
	}
}

// ClientOptions assembles client options from the configuration. The
// pending-delivery store is opened as a side effect; the caller owns
// it through the client.
func (c *Config) ClientOptions() (*client.ClientOptions, error) {
	backing, err := c.BuildStore()
	if err != nil {
		return nil, fmt.Errorf("opening store backend: %w", err)
	}

	opts := client.NewClientOptions()
	if c.Broker.ClientID != "" {
		opts.SetClientID(c.Broker.ClientID)
	}
	opts.SetCleanSession(c.Session.Clean)
	opts.SetAutoReconnect(c.Session.Reconnect)
	opts.SetMatchReserved(c.Session.MatchReserved)
	opts.SetRetryInterval(c.GetRetryInterval())
	opts.SetMaxRetryCount(c.Delivery.MaxRetries)
	opts.SetConnectTimeout(c.GetConnectTimeout())
	opts.SetStore(backing)

	address := c.Address()
	opts.SetDialer(func() (net.Conn, error) {
		return net.DialTimeout("tcp", address, c.GetConnectTimeout())
	})
	return opts, nil
}

// ConnectOptions assembles connect options from the configuration.
func (c *Config) ConnectOptions() *client.ConnectOptions {
	opts := client.NewConnectOptions()
	if c.Session.KeepAlive > 0 {
		opts.SetKeepAlive(c.GetKeepAlive())
	}
	if c.Auth.Username != "" {
		opts.SetUsername(c.Auth.Username)
	}
	if c.Auth.Password != "" {
		opts.SetPassword(c.Auth.Password)
	}
	return opts
}
