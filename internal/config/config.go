// Package config holds the run configuration model and its YAML loading.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTestTimeout applies to test entries that do not set their own.
const DefaultTestTimeout = 5 * time.Minute

// Config is the root run configuration.
type Config struct {
	SuiteName              string       `yaml:"suite_name"`
	ArtifactsDir           string       `yaml:"artifacts_dir"`
	ArtifactsRetentionDays int          `yaml:"artifacts_retention_days"`
	GlobalTimeout          Duration     `yaml:"global_timeout"`
	HistoryDB              string       `yaml:"history_db"`
	Reporting              Reporting    `yaml:"reporting"`
	Tests                  []TestConfig `yaml:"tests"`
}

// Reporting configures the optional result sinks. Tokens and passwords are
// referenced by environment variable name, never stored in the file.
type Reporting struct {
	WebhookURL  string       `yaml:"webhook_url"`
	APIURL      string       `yaml:"api_url"`
	APITokenEnv string       `yaml:"api_token_env"`
	Email       *EmailReport `yaml:"email"`
}

// EmailReport configures SMTP delivery of the text report.
type EmailReport struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
}

// TestConfig is one entry in the ordered test list.
type TestConfig struct {
	Kind       string            `yaml:"kind"`
	Name       string            `yaml:"name"`
	Enabled    *bool             `yaml:"enabled"`
	Timeout    *NullableDuration `yaml:"timeout"`
	DelayAfter Duration          `yaml:"delay_after"`
	SkipDuring []MaintenanceSpec `yaml:"skip_during"`
	Options    map[string]any    `yaml:"options"`
}

// IsEnabled defaults to true when the flag is absent.
func (t TestConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// DisplayName is the configured name, falling back to the kind.
func (t TestConfig) DisplayName() string {
	if strings.TrimSpace(t.Name) != "" {
		return t.Name
	}
	return t.Kind
}

// Load reads, schema-validates and decodes a configuration file, then
// applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes raw configuration bytes.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ArtifactsDir) == "" {
		c.ArtifactsDir = "artifacts"
	}
	if c.ArtifactsRetentionDays == 0 {
		c.ArtifactsRetentionDays = 7
	}
	if c.GlobalTimeout.Duration == 0 {
		c.GlobalTimeout.Duration = time.Hour
	}
	// Delivery uses implicit TLS, so the SMTPS port is the sensible default.
	if c.Reporting.Email != nil && c.Reporting.Email.Port == 0 {
		c.Reporting.Email.Port = 465
	}
}
