// Package config provides configuration for the integration hub daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the hub.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Operator is the downstream payments/accounting service.
	Operator OperatorConfig `yaml:"operator"`

	// RGS is the upstream game service that receives normalized webhooks.
	RGS RGSConfig `yaml:"rgs"`

	// Security settings (bearer token, HMAC signatures)
	Security SecurityConfig `yaml:"security"`

	// Client settings for outbound HTTP (retry, backoff, rate limit)
	Client ClientConfig `yaml:"client"`

	// Dispatch settings for the outbox worker
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Wallet business rules
	Wallet WalletConfig `yaml:"wallet"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	// ListenAddr is the host:port the API listens on.
	ListenAddr string `yaml:"listen_addr"`
}

// OperatorConfig holds downstream operator settings.
type OperatorConfig struct {
	// BaseURL is the operator API base, e.g. http://mock-operator:8001.
	BaseURL string `yaml:"base_url"`

	// Timeout is the connect+read timeout for operator calls.
	Timeout time.Duration `yaml:"timeout"`
}

// RGSConfig holds upstream RGS settings.
type RGSConfig struct {
	// WebhookURL is where normalized hub events are delivered.
	WebhookURL string `yaml:"webhook_url"`

	// Timeout is the connect+read timeout for RGS calls.
	Timeout time.Duration `yaml:"timeout"`
}

// SecurityConfig holds authentication settings.
type SecurityConfig struct {
	// HMACSecret signs and verifies X-Signature headers.
	HMACSecret string `yaml:"hmac_secret"`

	// BearerToken protects the API when set. Empty disables the check.
	BearerToken string `yaml:"bearer_token"`

	// TimestampSkewSeconds is the allowed |now - X-Timestamp| window.
	TimestampSkewSeconds int64 `yaml:"timestamp_skew_seconds"`
}

// ClientConfig holds outbound HTTP client settings.
type ClientConfig struct {
	// MaxRetries is the retry budget for 429/5xx responses.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoffSeconds is the initial backoff; it doubles per retry.
	RetryBackoffSeconds float64 `yaml:"retry_backoff_seconds"`

	// RateLimitPerMinute caps outbound requests in a rolling 60s window.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// DispatchConfig holds outbox dispatcher settings.
type DispatchConfig struct {
	// PollInterval is how often the dispatcher drains the outboxes.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WalletConfig holds wallet business rules.
type WalletConfig struct {
	// SupportedCurrencies is the ISO 4217 allowlist.
	SupportedCurrencies []string `yaml:"supported_currencies"`

	// StartingBalanceCents seeds the advisory balance returned on ingress.
	// The hub is not the source of balance truth.
	StartingBalanceCents int64 `yaml:"starting_balance_cents"`

	// ExternalIDSuffix maps hub player ids to operator player ids.
	ExternalIDSuffix string `yaml:"external_id_suffix"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the database and config file.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8080",
		},
		Operator: OperatorConfig{
			BaseURL: "http://mock-operator:8001",
			Timeout: 10 * time.Second,
		},
		RGS: RGSConfig{
			WebhookURL: "http://mock-rgs:8002/webhooks",
			Timeout:    5 * time.Second,
		},
		Security: SecurityConfig{
			HMACSecret:           "change_secret",
			BearerToken:          "",
			TimestampSkewSeconds: 5,
		},
		Client: ClientConfig{
			MaxRetries:          3,
			RetryBackoffSeconds: 1.0,
			RateLimitPerMinute:  60,
		},
		Dispatch: DispatchConfig{
			PollInterval: 2 * time.Second,
		},
		Wallet: WalletConfig{
			SupportedCurrencies:  []string{"USD", "EUR"},
			StartingBalanceCents: 100000,
			ExternalIDSuffix:     "-ext",
		},
		Storage: StorageConfig{
			DataDir: "~/.hub",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// RetryBackoff returns the initial backoff as a duration.
func (c *ClientConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds * float64(time.Second))
}

// CurrencySupported reports whether a currency is on the allowlist.
func (c *WalletConfig) CurrencySupported(currency string) bool {
	for _, cur := range c.SupportedCurrencies {
		if cur == currency {
			return true
		}
	}
	return false
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file in the data directory.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Integration Hub Configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
