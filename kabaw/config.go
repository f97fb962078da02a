package kabaw

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults used by DefaultConfig.
const (
	DefaultURL              = "ws://localhost:8080/ws"
	DefaultChannel          = "general"
	DefaultMaxMessageLength = 1000
)

// Config controls how the SDK connects.
type Config struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Channel  string `yaml:"channel"`

	// Transport selects the websocket implementation: "coder" or "gorilla".
	Transport string `yaml:"transport"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"` // 0 disables; the server detects idle peers
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ReadLimit        int64         `yaml:"read_limit"` // max inbound frame size in bytes, 0 keeps the library default

	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"` // base delay, doubled per attempt
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectTries int           `yaml:"max_reconnect_tries"`

	// MaxMessageLength caps outbound content in code points. 0 disables the cap.
	MaxMessageLength int `yaml:"max_message_length"`

	// Dialer overrides Transport when set.
	Dialer Dialer `yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	policy := DefaultReconnectPolicy()
	return Config{
		URL:               DefaultURL,
		Channel:           DefaultChannel,
		Transport:         TransportCoder,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		AutoReconnect:     true,
		ReconnectInterval: policy.BaseDelay,
		MaxReconnectDelay: policy.MaxDelay,
		MaxReconnectTries: policy.MaxAttempts,
		MaxMessageLength:  DefaultMaxMessageLength,
	}
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return invalidConfig(errors.New("url is required"))
	}
	switch c.Transport {
	case "", TransportCoder, TransportGorilla:
	default:
		return invalidConfig(fmt.Errorf("transport must be %q or %q, got %q", TransportCoder, TransportGorilla, c.Transport))
	}
	if c.HandshakeTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return invalidConfig(errors.New("timeouts must be >= 0"))
	}
	if c.ReadLimit < 0 {
		return invalidConfig(errors.New("read_limit must be >= 0"))
	}
	if c.AutoReconnect {
		if c.ReconnectInterval <= 0 {
			return invalidConfig(errors.New("reconnect_interval must be > 0"))
		}
		if c.MaxReconnectDelay < c.ReconnectInterval {
			return invalidConfig(fmt.Errorf("max_reconnect_delay (%s) cannot be less than reconnect_interval (%s)", c.MaxReconnectDelay, c.ReconnectInterval))
		}
		if c.MaxReconnectTries < 1 {
			return invalidConfig(errors.New("max_reconnect_tries must be >= 1"))
		}
	}
	if c.MaxMessageLength < 0 {
		return invalidConfig(errors.New("max_message_length must be >= 0"))
	}
	return nil
}

// ReconnectPolicy derives the reconnect policy from the config.
func (c *Config) ReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   c.ReconnectInterval,
		MaxDelay:    c.MaxReconnectDelay,
		MaxAttempts: c.MaxReconnectTries,
		Disabled:    !c.AutoReconnect,
	}
}

// Params returns the identity sent on every connect.
func (c *Config) Params() ConnectionParams {
	return ConnectionParams{Endpoint: c.URL, Username: c.Username, Channel: c.Channel}
}

// LoadConfig reads a YAML config file on top of DefaultConfig, expanding
// ${VAR} references from the environment, and validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML on top of DefaultConfig without validating.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config yaml: %w", err)
	}
	return cfg, nil
}

func invalidConfig(err error) error {
	return WrapError(ErrorInvalidConfig, "invalid config", err)
}
