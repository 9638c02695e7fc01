/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables used to configure the connector
	EnvPrefix = "RELAY_"

	// DefaultReconnectDelay is the base delay of the reconnect backoff
	DefaultReconnectDelay = 5 * time.Second
	// DefaultHeartbeatInterval is how often liveness is checked
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultAuthTimeout bounds the wait for the auth response
	DefaultAuthTimeout = 10 * time.Second
	// DefaultHandshakeTimeout bounds the websocket upgrade
	DefaultHandshakeTimeout = 10 * time.Second
)

// Config holds all configuration for the relay connector
type Config struct {
	Relay    RelayConfig    `koanf:"relay"`
	Fallback FallbackConfig `koanf:"fallback"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// RelayConfig holds the streaming session configuration
type RelayConfig struct {
	URL                string        `koanf:"url"`                  // Relay websocket endpoint (ws:// or wss://)
	APIKey             string        `koanf:"api_key"`              // Agent API key, also the fallback signing secret
	AutoReconnect      *bool         `koanf:"auto_reconnect"`       // Reconnect after the session drops; nil means on
	ReconnectDelay     time.Duration `koanf:"reconnect_delay"`      // Base delay of the exponential backoff
	HeartbeatInterval  time.Duration `koanf:"heartbeat_interval"`   // Liveness check interval; timeout is 3x
	AuthTimeout        time.Duration `koanf:"auth_timeout"`         // How long to wait for the auth response
	HandshakeTimeout   time.Duration `koanf:"handshake_timeout"`    // Websocket upgrade timeout
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"` // Skip TLS certificate verification

	// MaxReconnectAttempts bounds consecutive reconnect attempts. Nil means unbounded.
	MaxReconnectAttempts *int `koanf:"max_reconnect_attempts"`
}

// FallbackConfig holds the HTTP fallback delivery endpoint configuration
type FallbackConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"` // Public URL the relay posts to, informational
	Port     int    `koanf:"port"`
	Path     string `koanf:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

// MetricsConfig holds Prometheus metrics server configuration
type MetricsConfig struct {
	// Enabled indicates whether the metrics server should be started
	Enabled bool `koanf:"enabled"`

	// Port is the port for the metrics HTTP server
	Port int `koanf:"port"`
}

// LoadConfig loads configuration from file, environment variables, and defaults
// Priority: Environment variables > Config file > Defaults
// An empty configPath skips the file.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load environment variables with prefix
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into Config struct with DecodeHook for duration strings
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envKey maps RELAY_* environment variables onto config keys
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)

	// Custom mappings for the common relay variables
	switch s {
	case "url":
		return "relay.url"
	case "api_key":
		return "relay.api_key"
	case "auto_reconnect":
		return "relay.auto_reconnect"
	case "reconnect_delay":
		return "relay.reconnect_delay"
	case "max_reconnect_attempts":
		return "relay.max_reconnect_attempts"
	case "heartbeat_interval":
		return "relay.heartbeat_interval"
	case "insecure_skip_verify":
		return "relay.insecure_skip_verify"
	default:
		// Step 1: Convert double underscore "__" into a temporary placeholder
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		// Step 2: Convert single "_" into "."
		s = strings.ReplaceAll(s, "_", ".")
		// Step 3: Convert placeholder back into literal "_"
		s = strings.ReplaceAll(s, "%UNDERSCORE%", "_")
		return s
	}
}

// defaultConfig returns a Config struct with default configuration values
func defaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			AutoReconnect:     Bool(true),
			ReconnectDelay:    DefaultReconnectDelay,
			HeartbeatInterval: DefaultHeartbeatInterval,
			AuthTimeout:       DefaultAuthTimeout,
			HandshakeTimeout:  DefaultHandshakeTimeout,
		},
		Fallback: FallbackConfig{
			Enabled: false,
			Port:    8090,
			Path:    "/webhooks/relay",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9091,
		},
	}
}

// Default returns the default configuration. Relay URL and API key still
// have to be filled in before it validates.
func Default() *Config {
	return defaultConfig()
}

// Bool returns a pointer to b, for optional config fields
func Bool(b bool) *bool {
	return &b
}

// AutoReconnectEnabled reports whether the client reconnects after a session
// ends. Unset means enabled.
func (r *RelayConfig) AutoReconnectEnabled() bool {
	return r.AutoReconnect == nil || *r.AutoReconnect
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Relay.Validate(); err != nil {
		return err
	}
	if err := c.validateFallbackConfig(); err != nil {
		return err
	}
	if err := c.validateLoggingConfig(); err != nil {
		return err
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got: %d", c.Metrics.Port)
	}
	return nil
}

// Validate validates the relay section
func (r *RelayConfig) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("relay.url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay.url must use ws or wss scheme, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("relay.url must include a host")
	}

	if r.APIKey == "" {
		return fmt.Errorf("relay.api_key is required")
	}

	if r.ReconnectDelay <= 0 {
		return fmt.Errorf("relay.reconnect_delay must be positive, got: %s", r.ReconnectDelay)
	}
	if r.HeartbeatInterval <= 0 {
		return fmt.Errorf("relay.heartbeat_interval must be positive, got: %s", r.HeartbeatInterval)
	}
	if r.AuthTimeout <= 0 {
		return fmt.Errorf("relay.auth_timeout must be positive, got: %s", r.AuthTimeout)
	}
	if r.HandshakeTimeout <= 0 {
		return fmt.Errorf("relay.handshake_timeout must be positive, got: %s", r.HandshakeTimeout)
	}
	if r.MaxReconnectAttempts != nil && *r.MaxReconnectAttempts < 0 {
		return fmt.Errorf("relay.max_reconnect_attempts must be >= 0, got: %d", *r.MaxReconnectAttempts)
	}
	return nil
}

func (c *Config) validateFallbackConfig() error {
	if !c.Fallback.Enabled {
		return nil
	}
	if c.Fallback.Port < 1 || c.Fallback.Port > 65535 {
		return fmt.Errorf("fallback.port must be between 1 and 65535, got: %d", c.Fallback.Port)
	}
	if !strings.HasPrefix(c.Fallback.Path, "/") {
		return fmt.Errorf("fallback.path must start with '/', got: %q", c.Fallback.Path)
	}
	if c.Fallback.Endpoint != "" {
		u, err := url.Parse(c.Fallback.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("fallback.endpoint must be an http(s) URL, got: %q", c.Fallback.Endpoint)
		}
	}
	return nil
}

func (c *Config) validateLoggingConfig() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got: %q", c.Logging.Format)
	}
	return nil
}
