// Package config loads herokumcp settings from file and environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config.yaml"
	configDirName  = "herokumcp"
)

const (
	DatabaseModeCLI    = "cli"
	DatabaseModeDirect = "direct"
)

// duration wraps time.Duration for YAML unmarshaling.
type duration struct {
	d time.Duration
}

func (d *duration) unmarshalText(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.d = parsed
	return nil
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	return d.unmarshalText(value.Value)
}

func (d *duration) Duration() time.Duration {
	return d.d
}

// Config for herokumcp. Pointer fields; nil = unset.
type Config struct {
	Timeout             *int                `yaml:"timeout"`
	MaxOutputBytes      *int                `yaml:"max_output_bytes"`
	CatalogDir          *string             `yaml:"catalog_dir"`
	Heroku              *HerokuConfig       `yaml:"heroku"`
	NetworkIntelligence *NetworkIntelConfig `yaml:"network_intelligence"`
	Database            *DatabaseConfig     `yaml:"database"`
	SSH                 *SSHConfig          `yaml:"ssh"`
	Tracing             *TracingConfig      `yaml:"tracing"`
}

type HerokuConfig struct {
	CLI          *string `yaml:"cli"`
	APIToken     *string `yaml:"api_token"`
	DeployEnvVar *string `yaml:"deploy_env_var"`
	Pipeline     *string `yaml:"pipeline"`
}

type NetworkIntelConfig struct {
	URL     *string   `yaml:"url"`
	Timeout *duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	Mode        *string `yaml:"mode"`
	AllowWrites *bool   `yaml:"allow_writes"`
	MaxRows     *int    `yaml:"max_rows"`
}

// SSHConfig points CLI execution at a bastion host. Unset Host means local execution.
type SSHConfig struct {
	Host            *string   `yaml:"host"`
	User            *string   `yaml:"user"`
	Port            *int      `yaml:"port"`
	IdentityFile    *string   `yaml:"identity_file"`
	ConnectTimeout  *duration `yaml:"connect_timeout"`
	Retries         *int      `yaml:"retries"`
	RetryBackoff    *duration `yaml:"retry_backoff"`
	HostKeyChecking *string   `yaml:"host_key_checking"`
	KnownHostsFile  *string   `yaml:"known_hosts_file"`
}

type TracingConfig struct {
	Endpoint    *string `yaml:"endpoint"`
	Protocol    *string `yaml:"protocol"`
	Insecure    *bool   `yaml:"insecure"`
	ServiceName *string `yaml:"service_name"`
}

// LoadFrom loads config from path. Missing files return zero Config, nil.
func LoadFrom(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func Load() (Config, error) {
	return LoadFrom(DefaultPath())
}

func (c *Config) applyEnvOverrides() error {
	if v, ok := os.LookupEnv("HEROKUMCP_TIMEOUT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HEROKUMCP_TIMEOUT: %w", err)
		}
		c.Timeout = &n
	}
	if v, ok := os.LookupEnv("HEROKUMCP_MAX_OUTPUT_BYTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HEROKUMCP_MAX_OUTPUT_BYTES: %w", err)
		}
		c.MaxOutputBytes = &n
	}
	if v, ok := os.LookupEnv("HEROKUMCP_CATALOG_DIR"); ok {
		c.CatalogDir = &v
	}

	if v, ok := os.LookupEnv("HEROKU_API_TOKEN"); ok {
		c.heroku().APIToken = &v
	}
	if v, ok := os.LookupEnv("HEROKUMCP_HEROKU_CLI"); ok {
		c.heroku().CLI = &v
	}
	if v, ok := os.LookupEnv("HEROKUMCP_PIPELINE"); ok {
		c.heroku().Pipeline = &v
	}

	if v, ok := os.LookupEnv("NETWORK_INTELLIGENCE_URL"); ok {
		if c.NetworkIntelligence == nil {
			c.NetworkIntelligence = &NetworkIntelConfig{}
		}
		c.NetworkIntelligence.URL = &v
	}

	if v, ok := os.LookupEnv("HEROKUMCP_DATABASE_MODE"); ok {
		c.database().Mode = &v
	}
	if v, ok := os.LookupEnv("HEROKUMCP_DATABASE_ALLOW_WRITES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse HEROKUMCP_DATABASE_ALLOW_WRITES: %w", err)
		}
		c.database().AllowWrites = &b
	}

	if v, ok := os.LookupEnv("HEROKUMCP_SSH_HOST"); ok {
		if c.SSH == nil {
			c.SSH = &SSHConfig{}
		}
		c.SSH.Host = &v
	}
	if v, ok := os.LookupEnv("HEROKUMCP_SSH_HOST_KEY_CHECKING"); ok {
		if c.SSH == nil {
			c.SSH = &SSHConfig{}
		}
		c.SSH.HostKeyChecking = &v
	}

	if v, ok := os.LookupEnv("HEROKUMCP_TRACING_ENDPOINT"); ok {
		if c.Tracing == nil {
			c.Tracing = &TracingConfig{}
		}
		c.Tracing.Endpoint = &v
	}
	if v, ok := os.LookupEnv("HEROKUMCP_TRACING_PROTOCOL"); ok {
		if c.Tracing == nil {
			c.Tracing = &TracingConfig{}
		}
		c.Tracing.Protocol = &v
	}

	return nil
}

func (c *Config) heroku() *HerokuConfig {
	if c.Heroku == nil {
		c.Heroku = &HerokuConfig{}
	}
	return c.Heroku
}

func (c *Config) database() *DatabaseConfig {
	if c.Database == nil {
		c.Database = &DatabaseConfig{}
	}
	return c.Database
}

func (c *Config) validate() error {
	if c.Timeout != nil && *c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", *c.Timeout)
	}
	if c.Timeout != nil && *c.Timeout > 3600 {
		return fmt.Errorf("timeout must not exceed 3600 seconds, got %d", *c.Timeout)
	}
	if c.MaxOutputBytes != nil && *c.MaxOutputBytes < 0 {
		return fmt.Errorf("max_output_bytes must be non-negative, got %d", *c.MaxOutputBytes)
	}
	if c.MaxOutputBytes != nil && *c.MaxOutputBytes > 16*1024*1024 {
		return fmt.Errorf("max_output_bytes must not exceed 16 MB, got %d", *c.MaxOutputBytes)
	}
	if c.Heroku != nil {
		if c.Heroku.CLI != nil && *c.Heroku.CLI == "" {
			return errors.New("heroku.cli must not be empty")
		}
		if c.Heroku.DeployEnvVar != nil && !validEnvName(*c.Heroku.DeployEnvVar) {
			return fmt.Errorf("heroku.deploy_env_var must be a valid environment variable name, got %q", *c.Heroku.DeployEnvVar)
		}
	}
	if c.NetworkIntelligence != nil {
		if c.NetworkIntelligence.URL != nil {
			u, err := url.Parse(*c.NetworkIntelligence.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("network_intelligence.url must be an absolute http(s) URL, got %q", *c.NetworkIntelligence.URL)
			}
		}
		if c.NetworkIntelligence.Timeout != nil && c.NetworkIntelligence.Timeout.Duration() <= 0 {
			return fmt.Errorf("network_intelligence.timeout must be positive, got %v", c.NetworkIntelligence.Timeout.Duration())
		}
	}
	if c.Database != nil {
		if c.Database.Mode != nil && *c.Database.Mode != DatabaseModeCLI && *c.Database.Mode != DatabaseModeDirect {
			return fmt.Errorf("database.mode must be %q or %q, got %q", DatabaseModeCLI, DatabaseModeDirect, *c.Database.Mode)
		}
		if c.Database.MaxRows != nil && *c.Database.MaxRows <= 0 {
			return fmt.Errorf("database.max_rows must be positive, got %d", *c.Database.MaxRows)
		}
	}
	if c.SSH != nil {
		if c.SSH.Port != nil && (*c.SSH.Port <= 0 || *c.SSH.Port > 65535) {
			return fmt.Errorf("ssh.port must be between 1 and 65535, got %d", *c.SSH.Port)
		}
		if c.SSH.Retries != nil && *c.SSH.Retries < 0 {
			return fmt.Errorf("ssh.retries must be non-negative, got %d", *c.SSH.Retries)
		}
		if c.SSH.ConnectTimeout != nil && c.SSH.ConnectTimeout.Duration() <= 0 {
			return fmt.Errorf("ssh.connect_timeout must be positive, got %v", c.SSH.ConnectTimeout.Duration())
		}
		if c.SSH.RetryBackoff != nil && c.SSH.RetryBackoff.Duration() <= 0 {
			return fmt.Errorf("ssh.retry_backoff must be positive, got %v", c.SSH.RetryBackoff.Duration())
		}
		if c.SSH.HostKeyChecking != nil {
			switch *c.SSH.HostKeyChecking {
			case "accept-new", "strict", "off":
			default:
				return fmt.Errorf("ssh.host_key_checking must be accept-new, strict or off, got %q", *c.SSH.HostKeyChecking)
			}
		}
	}
	if c.Tracing != nil && c.Tracing.Protocol != nil {
		switch *c.Tracing.Protocol {
		case "grpc", "http", "stdout":
		default:
			return fmt.Errorf("tracing.protocol must be grpc, http or stdout, got %q", *c.Tracing.Protocol)
		}
	}
	return nil
}

func validEnvName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// DefaultPath is $XDG_CONFIG_HOME/herokumcp/config.yaml, falling back to ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, configDirName, configFileName)
}
