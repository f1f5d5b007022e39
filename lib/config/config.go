// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Roost components.
//
// Configuration is loaded from a single file specified by:
//   - ROOST_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides. The one exception is the
// cloud provider API token, which may come from the ROOST_HCLOUD_TOKEN
// environment variable so it never has to be written into the config file.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roost-sh/roost/lib/secret"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Roost.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Provider configures the cloud provider client.
	Provider ProviderConfig `yaml:"provider"`

	// ControlPlane configures the HTTP control plane.
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`

	// Storage configures the tenant record database.
	Storage StorageConfig `yaml:"storage"`

	// Secrets configures at-rest encryption of tenant credentials.
	Secrets SecretsConfig `yaml:"secrets"`

	// Workload configures what gets installed on each tenant VM.
	Workload WorkloadConfig `yaml:"workload"`

	// Monitor configures the health sweep.
	Monitor MonitorConfig `yaml:"monitor"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Provider     *ProviderConfig     `yaml:"provider,omitempty"`
	ControlPlane *ControlPlaneConfig `yaml:"control_plane,omitempty"`
	Storage      *StorageConfig      `yaml:"storage,omitempty"`
	Secrets      *SecretsConfig      `yaml:"secrets,omitempty"`
	Workload     *WorkloadConfig     `yaml:"workload,omitempty"`
	Monitor      *MonitorConfig      `yaml:"monitor,omitempty"`
}

// ProviderConfig configures the cloud provider client.
type ProviderConfig struct {
	// TokenFile is the path to a file holding the provider API token.
	// The ROOST_HCLOUD_TOKEN environment variable takes precedence.
	TokenFile string `yaml:"token_file"`

	// ServerType is the provider machine type for tenant VMs.
	// Default: cpx21
	ServerType string `yaml:"server_type"`

	// Image is the OS image for tenant VMs.
	// Default: ubuntu-24.04
	Image string `yaml:"image"`

	// Location is the provider datacenter location.
	Location string `yaml:"location"`

	// FirewallName is the shared firewall attached to every tenant VM.
	// Default: roost-ssh
	FirewallName string `yaml:"firewall_name"`
}

// ControlPlaneConfig configures the HTTP control plane.
type ControlPlaneConfig struct {
	// ListenAddress is the address the control plane binds.
	// Default: 127.0.0.1:8080
	ListenAddress string `yaml:"listen_address"`

	// CallbackBaseURL is the externally reachable base URL booting VMs
	// use to phone home, e.g. https://api.roost.example.
	CallbackBaseURL string `yaml:"callback_base_url"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig configures the tenant record database.
type StorageConfig struct {
	// DatabasePath is the bbolt database file.
	// Default: ${ROOST_ROOT}/roost.db
	DatabasePath string `yaml:"database_path"`
}

// SecretsConfig configures at-rest encryption of tenant credentials.
type SecretsConfig struct {
	// IdentityFile is the path to the age identity used to seal and
	// open tenant credentials. The file must exist and be readable
	// only by the roost daemon.
	IdentityFile string `yaml:"identity_file"`
}

// WorkloadConfig configures what gets installed on each tenant VM.
type WorkloadConfig struct {
	// Repo is the git URL of the workload repository cloned onto each VM.
	Repo string `yaml:"repo"`

	// Package is the npm package installed globally on each VM.
	Package string `yaml:"package"`

	// Username is the unprivileged account the workload runs as.
	// Default: roost
	Username string `yaml:"username"`

	// WorkDir is the working directory created for the workload.
	// Default: /srv/roost/work
	WorkDir string `yaml:"work_dir"`
}

// MonitorConfig configures the health sweep.
type MonitorConfig struct {
	// SweepInterval is how often the monitor checks every active tenant.
	// Default: 60s
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Concurrency bounds how many tenants are checked at once.
	// Default: 5
	Concurrency int `yaml:"concurrency"`

	// OperatorEmail receives circuit-breaker escalation alerts.
	OperatorEmail string `yaml:"operator_email"`

	// WebhookURL, when set, receives notification events as JSON posts
	// instead of log lines.
	WebhookURL string `yaml:"webhook_url"`

	// DownNotifyCooldown is the minimum gap between repeat down
	// notifications for the same tenant.
	// Default: 5m
	DownNotifyCooldown time.Duration `yaml:"down_notify_cooldown"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	return &Config{
		Environment: Development,
		Provider: ProviderConfig{
			ServerType:   "cpx21",
			Image:        "ubuntu-24.04",
			FirewallName: "roost-ssh",
		},
		ControlPlane: ControlPlaneConfig{
			ListenAddress:   "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			DatabasePath: "${ROOST_ROOT:-/var/lib/roost}/roost.db",
		},
		Workload: WorkloadConfig{
			Username: "roost",
			WorkDir:  "/srv/roost/work",
		},
		Monitor: MonitorConfig{
			SweepInterval:      60 * time.Second,
			Concurrency:        5,
			DownNotifyCooldown: 5 * time.Minute,
		},
	}
}

// Load loads configuration from the ROOST_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if ROOST_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("ROOST_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("ROOST_CONFIG environment variable not set; " +
			"set it to the path of your roost.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do
// not override config values (except the provider token, read separately by
// ProviderToken). The only expansion performed is ${HOME} and similar path
// variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

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
	}

	if overrides == nil {
		return
	}

	if overrides.Provider != nil {
		applyString(&c.Provider.TokenFile, overrides.Provider.TokenFile)
		applyString(&c.Provider.ServerType, overrides.Provider.ServerType)
		applyString(&c.Provider.Image, overrides.Provider.Image)
		applyString(&c.Provider.Location, overrides.Provider.Location)
		applyString(&c.Provider.FirewallName, overrides.Provider.FirewallName)
	}

	if overrides.ControlPlane != nil {
		applyString(&c.ControlPlane.ListenAddress, overrides.ControlPlane.ListenAddress)
		applyString(&c.ControlPlane.CallbackBaseURL, overrides.ControlPlane.CallbackBaseURL)
		applyDuration(&c.ControlPlane.ShutdownTimeout, overrides.ControlPlane.ShutdownTimeout)
	}

	if overrides.Storage != nil {
		applyString(&c.Storage.DatabasePath, overrides.Storage.DatabasePath)
	}

	if overrides.Secrets != nil {
		applyString(&c.Secrets.IdentityFile, overrides.Secrets.IdentityFile)
	}

	if overrides.Workload != nil {
		applyString(&c.Workload.Repo, overrides.Workload.Repo)
		applyString(&c.Workload.Package, overrides.Workload.Package)
		applyString(&c.Workload.Username, overrides.Workload.Username)
		applyString(&c.Workload.WorkDir, overrides.Workload.WorkDir)
	}

	if overrides.Monitor != nil {
		applyDuration(&c.Monitor.SweepInterval, overrides.Monitor.SweepInterval)
		if overrides.Monitor.Concurrency != 0 {
			c.Monitor.Concurrency = overrides.Monitor.Concurrency
		}
		applyString(&c.Monitor.OperatorEmail, overrides.Monitor.OperatorEmail)
		applyString(&c.Monitor.WebhookURL, overrides.Monitor.WebhookURL)
		applyDuration(&c.Monitor.DownNotifyCooldown, overrides.Monitor.DownNotifyCooldown)
	}
}

func applyString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func applyDuration(target *time.Duration, value time.Duration) {
	if value != 0 {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Provider.TokenFile = expandVars(c.Provider.TokenFile, vars)
	c.Storage.DatabasePath = expandVars(c.Storage.DatabasePath, vars)
	c.Secrets.IdentityFile = expandVars(c.Secrets.IdentityFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

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

	if os.Getenv("ROOST_HCLOUD_TOKEN") == "" && c.Provider.TokenFile == "" {
		errs = append(errs, fmt.Errorf("provider token is required: set ROOST_HCLOUD_TOKEN or provider.token_file"))
	}

	if c.ControlPlane.CallbackBaseURL == "" {
		errs = append(errs, fmt.Errorf("control_plane.callback_base_url is required"))
	} else if !strings.HasPrefix(c.ControlPlane.CallbackBaseURL, "http://") &&
		!strings.HasPrefix(c.ControlPlane.CallbackBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("control_plane.callback_base_url must be an http(s) URL"))
	}

	if c.Storage.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("storage.database_path is required"))
	}

	if c.Secrets.IdentityFile == "" {
		errs = append(errs, fmt.Errorf("secrets.identity_file is required"))
	}

	if c.Workload.Repo == "" {
		errs = append(errs, fmt.Errorf("workload.repo is required"))
	}
	if c.Workload.Package == "" {
		errs = append(errs, fmt.Errorf("workload.package is required"))
	}

	if c.Monitor.OperatorEmail == "" {
		errs = append(errs, fmt.Errorf("monitor.operator_email is required"))
	}
	if c.Monitor.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("monitor.concurrency must be at least 1"))
	}
	if c.Monitor.SweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("monitor.sweep_interval must be at least 1s"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ProviderToken resolves the cloud provider API token. The
// ROOST_HCLOUD_TOKEN environment variable takes precedence; otherwise the
// token is read from provider.token_file. The token never appears in the
// config struct so it cannot leak through status dumps or logging.
func (c *Config) ProviderToken() (*secret.Buffer, error) {
	if token := os.Getenv("ROOST_HCLOUD_TOKEN"); token != "" {
		return secret.NewFromBytes([]byte(token))
	}
	if c.Provider.TokenFile == "" {
		return nil, fmt.Errorf("provider token not configured: set ROOST_HCLOUD_TOKEN or provider.token_file")
	}
	buffer, err := secret.ReadFromPath(c.Provider.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("reading provider token from %s: %w", c.Provider.TokenFile, err)
	}
	return buffer, nil
}
