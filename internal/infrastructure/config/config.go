package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Inspection Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Deployment DeploymentConfig `yaml:"deployment"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// DeploymentConfig describes where and how this instance is deployed.
type DeploymentConfig struct {
	Name string `yaml:"name"`

	// BaseURL is the public URL clients use. Its scheme decides whether the
	// session cookie carries the Secure attribute.
	BaseURL string `yaml:"base_url"`

	// DevMode includes internal error details in API error responses.
	DevMode bool `yaml:"dev_mode"`
}

// CookieSecure reports whether session cookies must be marked Secure,
// which is the case when the deployment is served over HTTPS.
func (d DeploymentConfig) CookieSecure() bool {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, "https")
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker settings for security event publishing.
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
// Request is the ambient deadline applied to every request context, which
// bounds principal lookups.
type APITimeoutConfig struct {
	Read    int `yaml:"read"`
	Write   int `yaml:"write"`
	Idle    int `yaml:"idle"`
	Request int `yaml:"request"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// InfluxDBConfig contains InfluxDB settings for auth telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	Session SessionConfig `yaml:"session"`

	// SeedAdminEmail is the login of the administrator created on first
	// start, when the user table is empty.
	SeedAdminEmail string `yaml:"seed_admin_email"`
}

// SessionConfig contains session token settings.
type SessionConfig struct {
	// InitialSecret seeds the signing secret window at startup.
	InitialSecret string `yaml:"initial_secret"`

	// TokenTTL is the lifetime of issued session tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// RefreshThreshold is the remaining lifetime below which tokens are reissued.
	RefreshThreshold time.Duration `yaml:"refresh_threshold"`

	// RotationInterval is how often the signing secret is rotated.
	RotationInterval time.Duration `yaml:"rotation_interval"`

	// CookieName is the session cookie carrying the token.
	CookieName string `yaml:"cookie_name"`

	// HeaderName is the custom header carrying the raw token, both on
	// requests and on refreshed responses.
	HeaderName string `yaml:"header_name"`

	// CookieMaxAge is the Max-Age of the session cookie.
	CookieMaxAge time.Duration `yaml:"cookie_max_age"`
}

// Load resolves configuration from defaults, the YAML file at path and
// INSPECT_* environment variables, in that order, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
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
		Deployment: DeploymentConfig{
			Name:    "inspection-core",
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Path:        "./data/inspection.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "inspection-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:    30,
				Write:   30,
				Idle:    60,
				Request: 15,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Session: SessionConfig{
				TokenTTL:         24 * time.Hour,
				RefreshThreshold: 15 * time.Minute,
				RotationInterval: 24 * time.Hour,
				CookieName:       "inspect_session",
				HeaderName:       "X-Session-Token",
				CookieMaxAge:     24 * time.Hour,
			},
			SeedAdminEmail: "admin@inspection.local",
		},
	}
}

// envOverrides maps environment variables onto config fields. Values that
// fail to parse are ignored and the file value stands.
var envOverrides = map[string]func(cfg *Config, v string){
	"INSPECT_BASE_URL":       func(c *Config, v string) { c.Deployment.BaseURL = v },
	"INSPECT_DEV_MODE":       func(c *Config, v string) { setBool(&c.Deployment.DevMode, v) },
	"INSPECT_DATABASE_PATH":  func(c *Config, v string) { c.Database.Path = v },
	"INSPECT_MQTT_HOST":      func(c *Config, v string) { c.MQTT.Broker.Host = v },
	"INSPECT_MQTT_USERNAME":  func(c *Config, v string) { c.MQTT.Auth.Username = v },
	"INSPECT_MQTT_PASSWORD":  func(c *Config, v string) { c.MQTT.Auth.Password = v },
	"INSPECT_API_HOST":       func(c *Config, v string) { c.API.Host = v },
	"INSPECT_INFLUXDB_TOKEN": func(c *Config, v string) { c.InfluxDB.Token = v },

	// The only place the initial secret should come from in production.
	"INSPECT_SESSION_SECRET":            func(c *Config, v string) { c.Security.Session.InitialSecret = v },
	"INSPECT_SESSION_ROTATION_INTERVAL": func(c *Config, v string) { setDuration(&c.Security.Session.RotationInterval, v) },
	"INSPECT_SESSION_REFRESH_THRESHOLD": func(c *Config, v string) { setDuration(&c.Security.Session.RefreshThreshold, v) },
	"INSPECT_SEED_ADMIN_EMAIL":          func(c *Config, v string) { c.Security.SeedAdminEmail = v },
}

func applyEnvOverrides(cfg *Config) {
	for name, apply := range envOverrides {
		if v := os.Getenv(name); v != "" {
			apply(cfg, v)
		}
	}
}

func setBool(dst *bool, v string) {
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func setDuration(dst *time.Duration, v string) {
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// minSecretLength is the minimum accepted length of the initial signing secret.
const minSecretLength = 32

// Validate checks the configuration for errors and security issues.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Deployment.BaseURL != "" {
		if u, err := url.Parse(c.Deployment.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "deployment.base_url must be an absolute URL")
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	s := c.Security.Session
	if s.InitialSecret == "" {
		errs = append(errs, "security.session.initial_secret is required (set INSPECT_SESSION_SECRET environment variable)")
	} else if len(s.InitialSecret) < minSecretLength {
		errs = append(errs, "security.session.initial_secret must be at least 32 characters for adequate security")
	}
	if s.TokenTTL <= 0 {
		errs = append(errs, "security.session.token_ttl must be positive")
	}
	if s.RefreshThreshold <= 0 || s.RefreshThreshold >= s.TokenTTL {
		errs = append(errs, "security.session.refresh_threshold must be positive and shorter than token_ttl")
	}
	if s.RotationInterval <= 0 {
		errs = append(errs, "security.session.rotation_interval must be positive")
	}
	if s.CookieName == "" || s.HeaderName == "" {
		errs = append(errs, "security.session.cookie_name and header_name are required")
	}

	if c.Security.SeedAdminEmail == "" {
		errs = append(errs, "security.seed_admin_email is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ReadTimeout is the server's read and read-header timeout.
func (a APIConfig) ReadTimeout() time.Duration { return seconds(a.Timeouts.Read) }

// WriteTimeout is the server's write timeout.
func (a APIConfig) WriteTimeout() time.Duration { return seconds(a.Timeouts.Write) }

// IdleTimeout is the keep-alive idle timeout.
func (a APIConfig) IdleTimeout() time.Duration { return seconds(a.Timeouts.Idle) }

// RequestTimeout is the deadline placed on each request context; zero
// disables it.
func (a APIConfig) RequestTimeout() time.Duration { return seconds(a.Timeouts.Request) }
