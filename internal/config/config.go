package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the bridge
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	HomeAssistant HomeAssistantConfig `mapstructure:"home_assistant"`
	Integration   IntegrationConfig   `mapstructure:"integration"`

	// settingsFile is where user settings from the setup flow are persisted.
	settingsFile string
}

// ServerConfig holds the WebSocket listener configuration
type ServerConfig struct {
	Host string    `mapstructure:"host"`
	Port int       `mapstructure:"port"`
	TLS  TLSConfig `mapstructure:"tls"`
}

// TLSConfig holds the optional TLS listener configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Port     int    `mapstructure:"port"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HomeAssistantConfig holds the Home Assistant connection configuration
type HomeAssistantConfig struct {
	URL                 string          `mapstructure:"url"`
	Token               string          `mapstructure:"token"`
	ConnectionTimeout   int             `mapstructure:"connection_timeout"`
	RequestTimeout      int             `mapstructure:"request_timeout"`
	DisconnectInStandby bool            `mapstructure:"disconnect_in_standby"`
	MaxFrameSizeKB      int             `mapstructure:"max_frame_size_kb"`
	Heartbeat           HeartbeatConfig `mapstructure:"heartbeat"`
	Reconnect           ReconnectConfig `mapstructure:"reconnect"`
}

// HeartbeatConfig holds the Home Assistant connection liveness settings,
// both in seconds.
type HeartbeatConfig struct {
	Interval int `mapstructure:"interval"`
	Timeout  int `mapstructure:"timeout"`
}

const (
	defaultHeartbeatInterval = 20
	defaultHeartbeatTimeout  = 40
)

// Normalized returns the heartbeat settings with invalid combinations
// replaced by the defaults. The timeout must exceed the interval and the
// interval must be at least 5 seconds.
func (h HeartbeatConfig) Normalized() HeartbeatConfig {
	if h.Interval < 5 || h.Timeout <= h.Interval {
		return HeartbeatConfig{
			Interval: defaultHeartbeatInterval,
			Timeout:  defaultHeartbeatTimeout,
		}
	}
	return h
}

// IntervalDuration returns the ping interval as a duration.
func (h HeartbeatConfig) IntervalDuration() time.Duration {
	return time.Duration(h.Interval) * time.Second
}

// TimeoutDuration returns the liveness timeout as a duration.
func (h HeartbeatConfig) TimeoutDuration() time.Duration {
	return time.Duration(h.Timeout) * time.Second
}

// ReconnectConfig holds the Home Assistant reconnection backoff settings.
// Attempts 0 means retry forever.
type ReconnectConfig struct {
	Attempts      int     `mapstructure:"attempts"`
	DurationMS    int     `mapstructure:"duration_ms"`
	DurationMaxMS int     `mapstructure:"duration_max_ms"`
	BackoffFactor float64 `mapstructure:"backoff_factor"`
}

// IntegrationConfig holds driver identity and setup flow configuration
type IntegrationConfig struct {
	DriverID     string `mapstructure:"driver_id"`
	Name         string `mapstructure:"name"`
	Version      string `mapstructure:"version"`
	Icon         string `mapstructure:"icon"`
	Developer    string `mapstructure:"developer"`
	DeveloperURL string `mapstructure:"developer_url"`
	SetupTimeout int    `mapstructure:"setup_timeout"`
	AuthToken    string `mapstructure:"auth_token"`
	DisableMDNS  bool   `mapstructure:"disable_mdns"`
}

// userSettings is the subset of the configuration that the setup flow may
// change and persist across restarts.
type userSettings struct {
	HomeAssistant struct {
		URL                 string `yaml:"url"`
		Token               string `yaml:"token"`
		ConnectionTimeout   int    `yaml:"connection_timeout,omitempty"`
		MaxFrameSizeKB      int    `yaml:"max_frame_size_kb,omitempty"`
		DisconnectInStandby *bool  `yaml:"disconnect_in_standby,omitempty"`
	} `yaml:"home_assistant"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/uc-bridge")

	viper.SetEnvPrefix("UCBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.settingsFile = settingsPath()
	config.applyUserSettings()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.tls.enabled", false)
	viper.SetDefault("server.tls.port", 9443)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	viper.SetDefault("home_assistant.url", "ws://homeassistant.local:8123/api/websocket")
	viper.SetDefault("home_assistant.connection_timeout", 5)
	viper.SetDefault("home_assistant.request_timeout", 5)
	viper.SetDefault("home_assistant.disconnect_in_standby", false)
	viper.SetDefault("home_assistant.max_frame_size_kb", 5120)
	viper.SetDefault("home_assistant.heartbeat.interval", defaultHeartbeatInterval)
	viper.SetDefault("home_assistant.heartbeat.timeout", defaultHeartbeatTimeout)
	viper.SetDefault("home_assistant.reconnect.attempts", 0)
	viper.SetDefault("home_assistant.reconnect.duration_ms", 1000)
	viper.SetDefault("home_assistant.reconnect.duration_max_ms", 30000)
	viper.SetDefault("home_assistant.reconnect.backoff_factor", 1.5)

	viper.SetDefault("integration.driver_id", "hass")
	viper.SetDefault("integration.name", "Home Assistant Bridge")
	viper.SetDefault("integration.version", "0.1.0")
	viper.SetDefault("integration.setup_timeout", 300)
	viper.SetDefault("integration.disable_mdns", false)
}

// settingsPath resolves the user settings file location. UCBRIDGE_DATA_DIR
// overrides the directory, the default is the working directory.
func settingsPath() string {
	dir := os.Getenv("UCBRIDGE_DATA_DIR")
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "user_settings.yaml")
}

// applyUserSettings overlays persisted setup flow settings onto the loaded
// configuration. A missing file is not an error.
func (c *Config) applyUserSettings() {
	data, err := os.ReadFile(c.settingsFile)
	if err != nil {
		return
	}
	var settings userSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return
	}
	if settings.HomeAssistant.URL != "" {
		c.HomeAssistant.URL = settings.HomeAssistant.URL
	}
	if settings.HomeAssistant.Token != "" {
		c.HomeAssistant.Token = settings.HomeAssistant.Token
	}
	if settings.HomeAssistant.ConnectionTimeout > 0 {
		c.HomeAssistant.ConnectionTimeout = settings.HomeAssistant.ConnectionTimeout
	}
	if settings.HomeAssistant.MaxFrameSizeKB > 0 {
		c.HomeAssistant.MaxFrameSizeKB = settings.HomeAssistant.MaxFrameSizeKB
	}
	if settings.HomeAssistant.DisconnectInStandby != nil {
		c.HomeAssistant.DisconnectInStandby = *settings.HomeAssistant.DisconnectInStandby
	}
}

// SaveUserSettings persists the current Home Assistant connection settings
// so they survive restarts.
func (c *Config) SaveUserSettings() error {
	var settings userSettings
	settings.HomeAssistant.URL = c.HomeAssistant.URL
	settings.HomeAssistant.Token = c.HomeAssistant.Token
	settings.HomeAssistant.ConnectionTimeout = c.HomeAssistant.ConnectionTimeout
	settings.HomeAssistant.MaxFrameSizeKB = c.HomeAssistant.MaxFrameSizeKB
	disconnect := c.HomeAssistant.DisconnectInStandby
	settings.HomeAssistant.DisconnectInStandby = &disconnect

	data, err := yaml.Marshal(&settings)
	if err != nil {
		return fmt.Errorf("error marshaling user settings: %w", err)
	}
	if err := os.WriteFile(c.settingsFile, data, 0o600); err != nil {
		return fmt.Errorf("error writing user settings: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("tls enabled but cert_file or key_file missing")
		}
	}
	if c.HomeAssistant.URL != "" {
		if err := ValidateHomeAssistantURL(c.HomeAssistant.URL); err != nil {
			return err
		}
	}
	if c.HomeAssistant.Reconnect.BackoffFactor < 1 {
		return fmt.Errorf("invalid backoff factor: %v", c.HomeAssistant.Reconnect.BackoffFactor)
	}
	return nil
}

// ValidateHomeAssistantURL checks that raw is a usable WebSocket endpoint.
func ValidateHomeAssistantURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid home assistant url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("invalid home assistant url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("home assistant url has no host")
	}
	return nil
}

// ConnectionTimeoutDuration returns the WebSocket dial timeout.
func (c *HomeAssistantConfig) ConnectionTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectionTimeout) * time.Second
}

// RequestTimeoutDuration returns the per-request response timeout.
func (c *HomeAssistantConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// SetupTimeoutDuration returns the setup flow inactivity timeout. The
// UC_SETUP_TIMEOUT environment variable overrides the configured value.
func (c *IntegrationConfig) SetupTimeoutDuration() time.Duration {
	if env := os.Getenv("UC_SETUP_TIMEOUT"); env != "" {
		var secs int
		if _, err := fmt.Sscanf(env, "%d", &secs); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	secs := c.SetupTimeout
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}
