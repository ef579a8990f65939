package config

import (
	"time"

	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/pkg/reconnect"
	"github.com/HMasataka/agentws/pkg/transport/websocket"
)

// Config represents the application configuration
type Config struct {
	Client  ClientConfig   `json:"client" yaml:"client"`
	Session SessionConfig  `json:"session" yaml:"session"`
	Server  ServerConfig   `json:"server" yaml:"server"`
	Metrics MetricsConfig  `json:"metrics" yaml:"metrics"`
	Logging logging.Config `json:"logging" yaml:"logging"`
}

// ClientConfig represents the event stream client configuration
type ClientConfig struct {
	// Origin is the page origin the stream URL is derived from.
	Origin string `json:"origin" yaml:"origin"`
	Path   string `json:"path" yaml:"path"`

	// Token overrides the session file. Usually set from the environment.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	Reconnect        ReconnectConfig `json:"reconnect" yaml:"reconnect"`
	HandshakeTimeout Duration        `json:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     Duration        `json:"write_timeout" yaml:"write_timeout"`
	ReadTimeout      Duration        `json:"read_timeout" yaml:"read_timeout"`
	PingInterval     Duration        `json:"ping_interval" yaml:"ping_interval"`
	MaxMessageSize   int64           `json:"max_message_size" yaml:"max_message_size"`
}

// ReconnectConfig represents the backoff policy
type ReconnectConfig struct {
	BaseDelay   Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay    Duration `json:"max_delay" yaml:"max_delay"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts"`
}

// SessionConfig represents the persisted session location
type SessionConfig struct {
	File string `json:"file" yaml:"file"`
}

// ServerConfig represents the development server configuration
type ServerConfig struct {
	Addr            string   `json:"addr" yaml:"addr"`
	MetricsInterval Duration `json:"metrics_interval" yaml:"metrics_interval"`
	LoginPath       string   `json:"login_path" yaml:"login_path"`
	HomePath        string   `json:"home_path" yaml:"home_path"`
}

// MetricsConfig represents the Prometheus endpoint configuration
type MetricsConfig struct {
	// Addr serves /metrics when non-empty.
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns the default configuration
func Default() *Config {
	transport := websocket.DefaultClientOptions()
	policy := reconnect.Default()

	return &Config{
		Client: ClientConfig{
			Origin: "http://localhost:8080",
			Path:   "/ws/agent",
			Reconnect: ReconnectConfig{
				BaseDelay:   Duration(policy.BaseDelay),
				MaxDelay:    Duration(policy.MaxDelay),
				MaxAttempts: policy.MaxAttempts,
			},
			HandshakeTimeout: Duration(transport.HandshakeTimeout),
			WriteTimeout:     Duration(transport.WriteTimeout),
			ReadTimeout:      Duration(transport.ReadTimeout),
			PingInterval:     Duration(transport.PingInterval),
			MaxMessageSize:   transport.MaxMessageSize,
		},
		Session: SessionConfig{
			File: "session.json",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsInterval: Duration(5 * time.Second),
			LoginPath:       "/login",
			HomePath:        "/dashboard",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Client.Origin == "" {
		return NewConfigError("client.origin", "origin is required")
	}

	if _, err := c.Client.Endpoint(); err != nil {
		return NewConfigError("client.origin", err.Error())
	}

	if err := c.Client.Policy().Validate(); err != nil {
		return NewConfigError("client.reconnect", err.Error())
	}

	if c.Client.HandshakeTimeout < 0 || c.Client.WriteTimeout < 0 || c.Client.ReadTimeout < 0 {
		return NewConfigError("client.timeouts", "timeout cannot be negative")
	}

	if c.Client.PingInterval < 0 {
		return NewConfigError("client.ping_interval", "interval cannot be negative")
	}

	if c.Client.MaxMessageSize < 0 {
		return NewConfigError("client.max_message_size", "size cannot be negative")
	}

	if c.Server.MetricsInterval < 0 {
		return NewConfigError("server.metrics_interval", "interval cannot be negative")
	}

	return nil
}

// Endpoint returns the event stream URL
func (c ClientConfig) Endpoint() (string, error) {
	return websocket.Endpoint(c.Origin, c.Path)
}

// Policy returns the reconnect policy
func (c ClientConfig) Policy() reconnect.Policy {
	return reconnect.Policy{
		BaseDelay:   c.Reconnect.BaseDelay.Std(),
		MaxDelay:    c.Reconnect.MaxDelay.Std(),
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}

// TransportOptions returns the websocket client options
func (c ClientConfig) TransportOptions() websocket.ClientOptions {
	opts := websocket.DefaultClientOptions()
	opts.HandshakeTimeout = c.HandshakeTimeout.Std()
	opts.WriteTimeout = c.WriteTimeout.Std()
	opts.ReadTimeout = c.ReadTimeout.Std()
	opts.PingInterval = c.PingInterval.Std()
	opts.MaxMessageSize = c.MaxMessageSize
	return opts
}
