package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Gateway shared-secret modes.
const (
	AuthModeToken    = "token"
	AuthModePassword = "password"
	AuthModeNone     = "none"
)

// Rate limiter backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// minDeviceTokenSecretLength is the minimum length of the device token signing secret.
const minDeviceTokenSecretLength = 32

// Config is the root configuration structure for the Gray Logic gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// GatewayConfig identifies this gateway instance in hello acknowledgements.
type GatewayConfig struct {
	Name string `yaml:"name"`
	// Host is reported as server.host; defaults to the OS hostname.
	Host string `yaml:"host"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// When disabled, pairing and audit events are only delivered to WebSocket sessions.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	// UpgradeRate and UpgradeBurst throttle WebSocket upgrades per client IP.
	UpgradeRate  float64 `yaml:"upgrade_rate"`
	UpgradeBurst int     `yaml:"upgrade_burst"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains gateway channel settings.
type WebSocketConfig struct {
	Path             string `yaml:"path"`
	MaxMessageSize   int    `yaml:"max_message_size"`
	MaxBufferedBytes int    `yaml:"max_buffered_bytes"`
	PingInterval     int    `yaml:"ping_interval"`
	PongTimeout      int    `yaml:"pong_timeout"`
	// HandshakeTimeout is how long a client has to send its connect frame (seconds).
	HandshakeTimeout int `yaml:"handshake_timeout"`
	// TickInterval is the period of tick events sent to connected sessions (seconds).
	TickInterval int `yaml:"tick_interval"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig contains the Redis connection used by the distributed rate limiter.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains authentication and pairing policy.
type SecurityConfig struct {
	Auth           AuthConfig        `yaml:"auth"`
	DeviceTokens   DeviceTokenConfig `yaml:"device_tokens"`
	AllowedOrigins []string          `yaml:"allowed_origins"`
	TrustedProxies []string          `yaml:"trusted_proxies"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit"`
	Pairing        PairingConfig     `yaml:"pairing"`
}

// AuthConfig configures the gateway shared secret.
type AuthConfig struct {
	// Mode is one of "token", "password" or "none".
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
	// PasswordHash is an Argon2id PHC string (see `graylogic-gateway hash-password`).
	PasswordHash string `yaml:"password_hash"`
}

// DeviceTokenConfig configures device-bound tokens.
type DeviceTokenConfig struct {
	Secret string `yaml:"secret"`
}

// RateLimitConfig configures the authentication failure limiter.
type RateLimitConfig struct {
	Backend        string `yaml:"backend"`
	MaxAttempts    int    `yaml:"max_attempts"`
	WindowSeconds  int    `yaml:"window_seconds"`
	LockoutSeconds int    `yaml:"lockout_seconds"`
	ExemptLoopback bool   `yaml:"exempt_loopback"`
}

// PairingConfig configures silent pairing policies.
type PairingConfig struct {
	LocalAutoApprove bool   `yaml:"local_auto_approve"`
	LocalRole        string `yaml:"local_role"`
	LANAutoApprove   bool   `yaml:"lan_auto_approve"`
	LANRole          string `yaml:"lan_role"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_GATEWAY_TOKEN
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Name: "graylogic-gateway",
		},
		Database: DatabaseConfig{
			Path:        "./data/gateway.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 18789,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			UpgradeRate:  5,
			UpgradeBurst: 20,
		},
		WebSocket: WebSocketConfig{
			Path:             "/ws",
			MaxMessageSize:   512 * 1024,
			MaxBufferedBytes: 1536 * 1024,
			PingInterval:     30,
			PongTimeout:      10,
			HandshakeTimeout: 10,
			TickInterval:     30,
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			KeyPrefix: "graylogic:ratelimit:",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Auth: AuthConfig{
				Mode: AuthModeToken,
			},
			RateLimit: RateLimitConfig{
				Backend:        RateLimitBackendMemory,
				MaxAttempts:    10,
				WindowSeconds:  60,
				LockoutSeconds: 300,
				ExemptLoopback: true,
			},
			Pairing: PairingConfig{
				LocalAutoApprove: true,
				LocalRole:        "operator",
				LANRole:          "viewer",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_REDIS_ADDRESS"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("GRAYLOGIC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Secrets should always come from the environment in production.
	if v := os.Getenv("GRAYLOGIC_GATEWAY_TOKEN"); v != "" {
		cfg.Security.Auth.Token = v
	}
	if v := os.Getenv("GRAYLOGIC_GATEWAY_PASSWORD_HASH"); v != "" {
		cfg.Security.Auth.PasswordHash = v
	}
	if v := os.Getenv("GRAYLOGIC_DEVICE_TOKEN_SECRET"); v != "" {
		cfg.Security.DeviceTokens.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		errs = append(errs, "websocket.path must start with /")
	}
	if c.WebSocket.HandshakeTimeout <= 0 {
		errs = append(errs, "websocket.handshake_timeout must be positive")
	}

	switch c.Security.Auth.Mode {
	case AuthModeToken:
		if c.Security.Auth.Token == "" {
			errs = append(errs, "security.auth.token is required in token mode (set GRAYLOGIC_GATEWAY_TOKEN)")
		}
	case AuthModePassword:
		if !strings.HasPrefix(c.Security.Auth.PasswordHash, "$argon2id$") {
			errs = append(errs, "security.auth.password_hash must be an argon2id hash in password mode")
		}
	case AuthModeNone:
	default:
		errs = append(errs, fmt.Sprintf("security.auth.mode %q must be token, password or none", c.Security.Auth.Mode))
	}

	// Device tokens are bearer credentials for paired devices; a weak secret
	// would let anyone mint one.
	if len(c.Security.DeviceTokens.Secret) < minDeviceTokenSecretLength {
		errs = append(errs, "security.device_tokens.secret must be at least 32 characters (set GRAYLOGIC_DEVICE_TOKEN_SECRET)")
	}

	for _, proxy := range c.Security.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				errs = append(errs, fmt.Sprintf("security.trusted_proxies entry %q is not an IP or CIDR", proxy))
			}
		}
	}

	switch c.Security.RateLimit.Backend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		errs = append(errs, "security.rate_limit.backend must be memory or redis")
	}
	if c.Security.RateLimit.MaxAttempts < 1 {
		errs = append(errs, "security.rate_limit.max_attempts must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Window returns the failure counting window.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Lockout returns how long a key stays blocked after too many failures.
func (r RateLimitConfig) Lockout() time.Duration {
	return time.Duration(r.LockoutSeconds) * time.Second
}
