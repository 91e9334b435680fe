// Package config provides configuration management for holdfast.
//
// Configuration is read once at startup from an optional YAML file plus
// environment-variable overrides, validated, and passed to every component
// as an immutable value. No component reads the process environment after
// startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TransportKind selects how remote devices are reached.
type TransportKind string

const (
	// TransportCLI shells out to the ssh/scp binaries.
	TransportCLI TransportKind = "cli"
	// TransportNative uses the built-in SSH client.
	TransportNative TransportKind = "native"
)

// Device identifies one remote device to collect configuration from.
type Device struct {
	Host string `yaml:"host"`
	User string `yaml:"user"`
}

// Addr returns the user@host form used by the remote transport.
func (d Device) Addr() string {
	return d.User + "@" + d.Host
}

// Repository identifies a borg repository and its unlock passphrase.
type Repository struct {
	URI        string `yaml:"uri"`
	Passphrase string `yaml:"passphrase"`
	Label      string `yaml:"label"`
	Primary    bool   `yaml:"-"`
}

// Retention is the keep-daily/weekly/monthly pruning policy.
type Retention struct {
	Daily   int `yaml:"daily"`
	Weekly  int `yaml:"weekly"`
	Monthly int `yaml:"monthly"`
}

// Replication configures the S3 mirror of the primary repository.
type Replication struct {
	Bucket  string `yaml:"bucket"`
	Profile string `yaml:"profile"`
	// ThresholdGB skips replication when the repository's unique
	// deduplicated size exceeds it. Zero or negative disables the gate.
	ThresholdGB int `yaml:"threshold_gb"`
}

// Pushover configures the operator notification channel.
type Pushover struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	UserKey  string `yaml:"user_key"`
	Priority int    `yaml:"priority"`
}

// Config is the full holdfast configuration.
type Config struct {
	Router     Device        `yaml:"router"`
	Pihole     Device        `yaml:"pihole"`
	SSHKeyPath string        `yaml:"ssh_key_path"`
	Transport  TransportKind `yaml:"transport"`

	PrimaryRepo   Repository `yaml:"primary_repo"`
	SecondaryRepo Repository `yaml:"secondary_repo"`

	Retention   Retention   `yaml:"retention"`
	Replication Replication `yaml:"replication"`
	Pushover    Pushover    `yaml:"pushover"`

	HomeSource   string `yaml:"home_source"`
	EtcSource    string `yaml:"etc_source"`
	ExcludesFile string `yaml:"excludes_file"`
	StagingDir   string `yaml:"staging_dir"`

	DryRun bool `yaml:"dry_run"`
	// DryRunSkipsDownstream controls whether a dry run also suppresses
	// pruning and replication.
	DryRunSkipsDownstream bool `yaml:"dry_run_skips_downstream"`

	LogPath  string `yaml:"log_path"`
	LogLevel string `yaml:"log_level"`

	HistoryDBDir    string `yaml:"history_db_dir"`
	MetricsTextfile string `yaml:"metrics_textfile"`
	Schedule        string `yaml:"schedule"`
}

// DefaultConfigDir returns the default config directory (~/.holdfast).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".holdfast"), nil
}

// DefaultConfigPath returns the default config file path (~/.holdfast/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Load reads the configuration from path, applies environment overrides,
// and fills defaults. If the file does not exist the configuration is built
// from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv overlays the environment variables of the original deployment
// onto the configuration. A set variable always wins over the file.
func (c *Config) applyEnv() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("ROUTER_HOST", &c.Router.Host)
	envStr("PIHOLE_HOST", &c.Pihole.Host)
	envStr("SSH_PRIVATE_KEY_PATH", &c.SSHKeyPath)

	envStr("BORG_REPO", &c.PrimaryRepo.URI)
	envStr("BORG_PASSPHRASE", &c.PrimaryRepo.Passphrase)
	envStr("BORG_EXTDRIVE_REPO", &c.SecondaryRepo.URI)
	envStr("BORG_EXTDRIVE_PASSPHRASE", &c.SecondaryRepo.Passphrase)

	envStr("BORG_S3_BACKUP_BUCKET", &c.Replication.Bucket)
	envStr("BORG_S3_BACKUP_AWS_PROFILE", &c.Replication.Profile)
	if v := os.Getenv("BACKUP_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Replication.ThresholdGB = n
		}
	}

	envStr("PUSHOVER_URL", &c.Pushover.URL)
	envStr("PUSHOVER_TOKEN", &c.Pushover.Token)
	envStr("PUSHOVER_USER_TOKEN", &c.Pushover.UserKey)

	envStr("LOG_PATH", &c.LogPath)
	envStr("LOG_LEVEL", &c.LogLevel)
}

func (c *Config) applyDefaults() {
	if c.Router.User == "" {
		c.Router.User = "root"
	}
	if c.Pihole.User == "" {
		c.Pihole.User = "pi"
	}
	if c.Transport == "" {
		c.Transport = TransportCLI
	}
	if c.PrimaryRepo.Label == "" {
		c.PrimaryRepo.Label = "primary"
	}
	c.PrimaryRepo.Primary = true
	if c.SecondaryRepo.Label == "" {
		c.SecondaryRepo.Label = "extdrive"
	}
	c.SecondaryRepo.Primary = false
	if c.Retention == (Retention{}) {
		c.Retention = Retention{Daily: 1, Weekly: 1, Monthly: 1}
	}
	if c.HomeSource == "" {
		c.HomeSource = "/home"
	}
	if c.EtcSource == "" {
		c.EtcSource = "/etc"
	}
	if c.ExcludesFile == "" {
		c.ExcludesFile = "excludes.txt"
	}
	if c.StagingDir == "" {
		c.StagingDir = "."
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks that every required value is present. All missing values
// are reported in one error so the operator can fix the configuration in a
// single pass. Validation failure halts the process before any side effect.
func (c *Config) Validate() error {
	var missing []string

	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	require("router.host (ROUTER_HOST)", c.Router.Host)
	require("pihole.host (PIHOLE_HOST)", c.Pihole.Host)
	require("ssh_key_path (SSH_PRIVATE_KEY_PATH)", c.SSHKeyPath)
	require("primary_repo.uri (BORG_REPO)", c.PrimaryRepo.URI)
	require("primary_repo.passphrase (BORG_PASSPHRASE)", c.PrimaryRepo.Passphrase)
	require("secondary_repo.uri (BORG_EXTDRIVE_REPO)", c.SecondaryRepo.URI)
	require("secondary_repo.passphrase (BORG_EXTDRIVE_PASSPHRASE)", c.SecondaryRepo.Passphrase)
	require("replication.bucket (BORG_S3_BACKUP_BUCKET)", c.Replication.Bucket)
	require("replication.profile (BORG_S3_BACKUP_AWS_PROFILE)", c.Replication.Profile)
	require("pushover.url (PUSHOVER_URL)", c.Pushover.URL)
	require("pushover.token (PUSHOVER_TOKEN)", c.Pushover.Token)
	require("pushover.user_key (PUSHOVER_USER_TOKEN)", c.Pushover.UserKey)

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Transport != TransportCLI && c.Transport != TransportNative {
		return fmt.Errorf("invalid transport %q: must be %q or %q", c.Transport, TransportCLI, TransportNative)
	}
	if c.Retention.Daily < 0 || c.Retention.Weekly < 0 || c.Retention.Monthly < 0 {
		return errors.New("retention values cannot be negative")
	}

	return nil
}
