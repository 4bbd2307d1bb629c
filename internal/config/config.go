// ABOUTME: Configuration loading and parsing for panel-gateway
// ABOUTME: Supports YAML files with environment variable expansion and env-mode validation

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names accepted by the gateway. Anything else prevents startup.
const (
	EnvStaging    = "stg"
	EnvProduction = "prod"
)

// Per-environment base URLs for the ANF authorization service.
var anfBaseURLs = map[string]string{
	EnvStaging:    "http://anf.k8s.staging.keymecloud.com",
	EnvProduction: "https://anf.k8s.production.keymecloud.com",
}

// Config represents the complete panel-gateway configuration.
type Config struct {
	Environment string        `yaml:"environment"`
	Server      ServerConfig  `yaml:"server"`
	Auth        AuthConfig    `yaml:"auth"`
	AWS         AWSConfig     `yaml:"aws"`
	Relay       RelayConfig   `yaml:"relay"`
	Logging     LoggingConfig `yaml:"logging"`
}

// ServerConfig holds listener address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds ANF authorization-service configuration.
type AuthConfig struct {
	// BaseURL overrides the per-environment ANF address. Leave empty in
	// deployments; set it in tests to point at a local stub.
	BaseURL string `yaml:"base_url"`
}

// AWSConfig holds object-storage and secret-store configuration.
type AWSConfig struct {
	Region string `yaml:"region"`

	// CertsBucket is the S3 bucket holding device public certs.
	CertsBucket string `yaml:"certs_bucket"`

	// ServiceKeySecretID is the Secrets Manager id for the cloud-to-device
	// bearer key; ServiceKeyField names the JSON field inside the secret.
	ServiceKeySecretID string `yaml:"service_key_secret_id"`
	ServiceKeyField    string `yaml:"service_key_field"`
}

// RelayConfig holds device-connection timing configuration.
type RelayConfig struct {
	DialTimeout time.Duration `yaml:"-"`
	GateTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DialTimeoutRaw string `yaml:"dial_timeout"`
	GateTimeoutRaw string `yaml:"gate_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills unset fields. The environment may also come from the
// API_ENV variable so the container entrypoint stays a one-liner.
func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = os.Getenv("API_ENV")
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.AWS.CertsBucket == "" {
		c.AWS.CertsBucket = "keyme-calibration"
	}
	if c.AWS.ServiceKeySecretID == "" {
		c.AWS.ServiceKeySecretID = "/prod/key-scanner/env"
	}
	if c.AWS.ServiceKeyField == "" {
		c.AWS.ServiceKeyField = "KEY_SCANNER_API_KEY"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if _, ok := anfBaseURLs[c.Environment]; !ok {
		return fmt.Errorf("environment must be %q or %q, got %q", EnvStaging, EnvProduction, c.Environment)
	}
	return nil
}

// ANFBaseURL returns the authorization-service base address for the
// configured environment, honoring the test override.
func (c *Config) ANFBaseURL() string {
	if c.Auth.BaseURL != "" {
		return c.Auth.BaseURL
	}
	return anfBaseURLs[c.Environment]
}

// Restrictive reports whether the gateway runs in the restrictive deployment
// mode. A staging gateway relaxes per-command authorization (staging ANF does
// not carry the fleet slugs) but must never drive a kiosk that is live in a
// store, so it runs the deployed-kiosk handshake gate instead.
func (c *Config) Restrictive() bool {
	return c.Environment == EnvStaging
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	cfg.Relay.DialTimeout = 10 * time.Second
	cfg.Relay.GateTimeout = 8 * time.Second

	if cfg.Relay.DialTimeoutRaw != "" {
		cfg.Relay.DialTimeout, err = time.ParseDuration(cfg.Relay.DialTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing dial_timeout %q: %w", cfg.Relay.DialTimeoutRaw, err)
		}
	}

	if cfg.Relay.GateTimeoutRaw != "" {
		cfg.Relay.GateTimeout, err = time.ParseDuration(cfg.Relay.GateTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing gate_timeout %q: %w", cfg.Relay.GateTimeoutRaw, err)
		}
	}

	return nil
}
