// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable read by Load.
const EnvConfig = "PROVISION_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the configuration of the provisioning tools.
type Config struct {
	// Environment selects an override section.
	Environment Environment `yaml:"environment"`

	Paths        PathsConfig        `yaml:"paths"`
	Servers      ServersConfig      `yaml:"servers"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Registration RegistrationConfig `yaml:"registration"`
	Keys         KeysConfig         `yaml:"keys"`
	Logging      LoggingConfig      `yaml:"logging"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths        *PathsConfig        `yaml:"paths,omitempty"`
	Servers      *ServersConfig      `yaml:"servers,omitempty"`
	Gateway      *GatewayConfig      `yaml:"gateway,omitempty"`
	Registration *RegistrationConfig `yaml:"registration,omitempty"`
	Keys         *KeysConfig         `yaml:"keys,omitempty"`
	Logging      *LoggingConfig      `yaml:"logging,omitempty"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// State is the directory holding the account database.
	State string `yaml:"state"`

	// Database is the SQLite account store.
	// Default: ${PROVISION_STATE}/provision.db
	Database string `yaml:"database"`
}

// ServersConfig lists the registration servers.
type ServersConfig struct {
	// List holds servers in "network|host:port" form, tried in order.
	List []string `yaml:"list"`

	// Shuffle randomizes the order once per registration.
	Shuffle bool `yaml:"shuffle"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	// Scheme is "https" or, for local test servers, "http".
	Scheme string `yaml:"scheme"`

	// Timeout bounds each form exchange. Default: 30s
	Timeout string `yaml:"timeout"`
}

// RegistrationConfig configures the Registration workflow.
type RegistrationConfig struct {
	// Challenge is requested when the command line names none:
	// pin, missedcall or callerid.
	Challenge string `yaml:"challenge"`

	// BrandImageSize is the preferred server logo variant: vector,
	// small, medium, large or hd.
	BrandImageSize string `yaml:"brand_image_size"`
}

// KeysConfig configures key export.
type KeysConfig struct {
	// ScryptWorkFactor is the log2 scrypt cost used when sealing
	// exported private keys.
	ScryptWorkFactor int `yaml:"scrypt_work_factor"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text, json, or auto (text on a terminal).
	Format string `yaml:"format"`
}

// Accepted values for enumerated settings.
var (
	Challenges      = []string{"pin", "missedcall", "callerid"}
	BrandImageSizes = []string{"vector", "small", "medium", "large", "hd"}
	LogFormats      = []string{"auto", "text", "json"}
	Schemes         = []string{"https", "http"}
)

// Work factor bounds accepted by Validate.
const (
	MinScryptWorkFactor = 10
	MaxScryptWorkFactor = 22
)

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			State:    filepath.Join(homeDir, ".local", "state", "provision"),
			Database: "${PROVISION_STATE}/provision.db",
		},
		Gateway: GatewayConfig{
			Scheme:  "https",
			Timeout: "30s",
		},
		Registration: RegistrationConfig{
			Challenge:      "pin",
			BrandImageSize: "medium",
		},
		Keys: KeysConfig{
			ScryptWorkFactor: 18,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the file named by PROVISION_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfig)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your provision.yaml config file, or use --config flag", EnvConfig)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path on top of
// Default, applies the environment's overrides and expands path
// variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.Expand()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Gateway: &GatewayConfig{Scheme: "https"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		setIfNonEmpty(&c.Paths.State, overrides.Paths.State)
		setIfNonEmpty(&c.Paths.Database, overrides.Paths.Database)
	}

	if overrides.Servers != nil {
		if len(overrides.Servers.List) > 0 {
			c.Servers.List = overrides.Servers.List
		}
		// Shuffle is a bool, so it is always applied from overrides.
		c.Servers.Shuffle = overrides.Servers.Shuffle
	}

	if overrides.Gateway != nil {
		setIfNonEmpty(&c.Gateway.Scheme, overrides.Gateway.Scheme)
		setIfNonEmpty(&c.Gateway.Timeout, overrides.Gateway.Timeout)
	}

	if overrides.Registration != nil {
		setIfNonEmpty(&c.Registration.Challenge, overrides.Registration.Challenge)
		setIfNonEmpty(&c.Registration.BrandImageSize, overrides.Registration.BrandImageSize)
	}

	if overrides.Keys != nil && overrides.Keys.ScryptWorkFactor != 0 {
		c.Keys.ScryptWorkFactor = overrides.Keys.ScryptWorkFactor
	}

	if overrides.Logging != nil {
		setIfNonEmpty(&c.Logging.Level, overrides.Logging.Level)
		setIfNonEmpty(&c.Logging.Format, overrides.Logging.Format)
	}
}

func setIfNonEmpty(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// Expand expands ${VAR} and ${VAR:-default} patterns in path values.
// LoadFile calls it; callers that edit paths afterwards (for example
// from flags) call it again.
func (c *Config) Expand() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["PROVISION_STATE"] = c.Paths.State
	c.Paths.Database = expandVars(c.Paths.Database, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}

	for _, entry := range c.Servers.List {
		if strings.TrimSpace(entry) == "" {
			errs = append(errs, fmt.Errorf("servers.list contains an empty entry"))
		}
	}

	if !slices.Contains(Schemes, c.Gateway.Scheme) {
		errs = append(errs, fmt.Errorf("gateway.scheme must be one of: %v", Schemes))
	}
	if c.Environment == Production && c.Gateway.Scheme != "https" {
		errs = append(errs, fmt.Errorf("gateway.scheme must be https in production"))
	}
	if _, err := c.GatewayTimeout(); err != nil {
		errs = append(errs, err)
	}

	if !slices.Contains(Challenges, c.Registration.Challenge) {
		errs = append(errs, fmt.Errorf("registration.challenge must be one of: %v", Challenges))
	}
	if !slices.Contains(BrandImageSizes, c.Registration.BrandImageSize) {
		errs = append(errs, fmt.Errorf("registration.brand_image_size must be one of: %v", BrandImageSizes))
	}

	if c.Keys.ScryptWorkFactor < MinScryptWorkFactor || c.Keys.ScryptWorkFactor > MaxScryptWorkFactor {
		errs = append(errs, fmt.Errorf("keys.scrypt_work_factor must be between %d and %d",
			MinScryptWorkFactor, MaxScryptWorkFactor))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains(LogFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", LogFormats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// GatewayTimeout parses gateway.timeout.
func (c *Config) GatewayTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.Gateway.Timeout)
	if err != nil {
		return 0, fmt.Errorf("gateway.timeout: %w", err)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("gateway.timeout must be positive, got %s", c.Gateway.Timeout)
	}
	return timeout, nil
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// EnsurePaths creates the state directory if it does not exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.State, filepath.Dir(c.Paths.Database)} {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
