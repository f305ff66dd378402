// Package config provides configuration management for hmi-emu.
// It supports environment variables, config files (YAML/JSON), command line
// flags bound by the caller, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all configuration for hmi-emu.
type Config struct {
	// Modbus device connection and poll loop
	Modbus ModbusConfig `mapstructure:"modbus"`

	// Parameter specification source
	Parameters ParametersConfig `mapstructure:"parameters"`

	// Snapshot log
	Snapshot SnapshotConfig `mapstructure:"snapshot"`

	// MQTT UI collaborator
	MQTT MQTTConfig `mapstructure:"mqtt"`

	// HTTP server configuration
	HTTP HTTPConfig `mapstructure:"http"`

	// API configuration (authentication, request limits)
	API APIConfig `mapstructure:"api"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// ModbusConfig holds the device connection and poll timing.
type ModbusConfig struct {
	// Address is host:port, or a tcp://, rtuovertcp:// or udp:// URL.
	Address        string        `mapstructure:"address"`
	UnitID         uint8         `mapstructure:"unit_id"`
	Timeout        time.Duration `mapstructure:"timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	// Jitter adds a random delay in [0, Jitter) after each cycle.
	Jitter               time.Duration `mapstructure:"jitter"`
	MaxParametersPerRead uint16        `mapstructure:"max_parameters_per_read"`
	MaxGap               uint16        `mapstructure:"max_gap"`
}

// ParametersConfig locates the parameter specification file.
type ParametersConfig struct {
	File string `mapstructure:"file"`
}

// SnapshotConfig holds snapshot log configuration.
type SnapshotConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Prefix  string `mapstructure:"prefix"`
	// Fsync forces every record to stable storage, not just the OS.
	Fsync bool `mapstructure:"fsync"`
}

// MQTTConfig holds MQTT client configuration.
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	CleanSession   bool          `mapstructure:"clean_session"`
	QoS            byte          `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	// Circuit breaker around publishing
	CBFailureThreshold uint32        `mapstructure:"cb_failure_threshold"`
	CBTimeout          time.Duration `mapstructure:"cb_timeout"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// APIConfig holds API security configuration.
type APIConfig struct {
	// AuthEnabled requires an API key for requests that queue device writes
	AuthEnabled bool   `mapstructure:"auth_enabled"`
	APIKey      string `mapstructure:"api_key"`

	// MaxRequestBodySize is the maximum allowed request body size in bytes
	MaxRequestBodySize int64 `mapstructure:"max_request_body_size"`

	// AllowedOrigins lists CORS origins; empty allows any origin
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration into a Config using v, which may already carry
// bound command line flags. When the key "config" names a file, that file
// must exist; otherwise config.yaml is searched for and is optional.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/hmi-emu")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			// Config file not found, will use defaults and env vars
		}
	}

	v.SetEnvPrefix("HMI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Modbus
	v.SetDefault("modbus.address", "192.168.50.230:1313")
	v.SetDefault("modbus.unit_id", 1)
	v.SetDefault("modbus.timeout", 5*time.Second)
	v.SetDefault("modbus.idle_timeout", time.Minute)
	v.SetDefault("modbus.reconnect_delay", time.Second)
	v.SetDefault("modbus.poll_interval", 500*time.Millisecond)
	v.SetDefault("modbus.jitter", time.Duration(0))
	v.SetDefault("modbus.max_parameters_per_read", 62)
	v.SetDefault("modbus.max_gap", 1)

	// Parameters
	v.SetDefault("parameters.file", "specs.json")

	// Snapshot log
	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.dir", ".")
	v.SetDefault("snapshot.prefix", "hmi-emu")
	v.SetDefault("snapshot.fsync", false)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "hmi-emu")
	v.SetDefault("mqtt.clean_session", true)
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.reconnect_delay", 5*time.Second)
	v.SetDefault("mqtt.publish_timeout", 200*time.Millisecond)
	v.SetDefault("mqtt.topic_prefix", "hmi")
	v.SetDefault("mqtt.cb_failure_threshold", 5)
	v.SetDefault("mqtt.cb_timeout", 30*time.Second)

	// HTTP
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	// API security
	v.SetDefault("api.auth_enabled", false)
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.max_request_body_size", 65536)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)
}

// bindEnvVars binds environment variables to config keys.
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("modbus.address", "MODBUS_ADDRESS")
	_ = v.BindEnv("parameters.file", "SPECS_FILE")

	_ = v.BindEnv("mqtt.broker_url", "MQTT_BROKER_URL")
	_ = v.BindEnv("mqtt.username", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "MQTT_PASSWORD")
	_ = v.BindEnv("mqtt.client_id", "MQTT_CLIENT_ID")

	_ = v.BindEnv("http.port", "HTTP_PORT")
	_ = v.BindEnv("api.api_key", "API_KEY")

	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Modbus.Address) == "" {
		return fmt.Errorf("%w: modbus address is required", domain.ErrInvalidConfig)
	}
	if c.Modbus.ReconnectDelay <= 0 {
		return fmt.Errorf("%w: modbus reconnect delay must be positive", domain.ErrInvalidConfig)
	}
	if c.Modbus.PollInterval <= 0 {
		return fmt.Errorf("%w: modbus poll interval must be positive", domain.ErrInvalidConfig)
	}
	if c.Modbus.Jitter < 0 {
		return fmt.Errorf("%w: modbus jitter must not be negative", domain.ErrInvalidConfig)
	}
	if c.Modbus.MaxParametersPerRead == 0 || c.Modbus.MaxParametersPerRead > 62 {
		return fmt.Errorf("%w: modbus max parameters per read must be in 1..62, got %d",
			domain.ErrInvalidConfig, c.Modbus.MaxParametersPerRead)
	}
	if c.Snapshot.Enabled && c.Snapshot.Prefix == "" {
		return fmt.Errorf("%w: snapshot prefix is required", domain.ErrInvalidConfig)
	}
	if c.MQTT.Enabled {
		if c.MQTT.BrokerURL == "" {
			return fmt.Errorf("%w: MQTT broker URL is required", domain.ErrInvalidConfig)
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: invalid MQTT QoS: %d", domain.ErrInvalidConfig, c.MQTT.QoS)
		}
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("%w: invalid HTTP port: %d", domain.ErrInvalidConfig, c.HTTP.Port)
	}
	if c.API.AuthEnabled && c.API.APIKey == "" {
		return fmt.Errorf("%w: API key is required when auth is enabled", domain.ErrInvalidConfig)
	}
	return nil
}
