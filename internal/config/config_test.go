package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredEnv fills every required variable so individual tests can
// clear the ones they care about.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"ROUTER_HOST":                "openwrt.lan",
		"PIHOLE_HOST":                "pihole.lan",
		"SSH_PRIVATE_KEY_PATH":       "/root/.ssh/id_ed25519",
		"BORG_REPO":                  "/mnt/nas/borg",
		"BORG_PASSPHRASE":            "primary-secret",
		"BORG_EXTDRIVE_REPO":         "/mnt/ext/borg",
		"BORG_EXTDRIVE_PASSPHRASE":   "ext-secret",
		"BORG_S3_BACKUP_BUCKET":      "my-backups",
		"BORG_S3_BACKUP_AWS_PROFILE": "backup",
		"PUSHOVER_URL":               "https://api.pushover.net/1/messages.json",
		"PUSHOVER_TOKEN":             "app-token",
		"PUSHOVER_USER_TOKEN":        "user-key",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "openwrt.lan", cfg.Router.Host)
	assert.Equal(t, "root", cfg.Router.User)
	assert.Equal(t, "pi", cfg.Pihole.User)
	assert.Equal(t, "root@openwrt.lan", cfg.Router.Addr())
	assert.Equal(t, "/mnt/nas/borg", cfg.PrimaryRepo.URI)
	assert.True(t, cfg.PrimaryRepo.Primary)
	assert.False(t, cfg.SecondaryRepo.Primary)
	assert.Equal(t, Retention{Daily: 1, Weekly: 1, Monthly: 1}, cfg.Retention)
	assert.Equal(t, TransportCLI, cfg.Transport)
	assert.Equal(t, "/home", cfg.HomeSource)
	assert.Equal(t, "/etc", cfg.EtcSource)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BORG_REPO", "/override/borg")

	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
router:
  host: file-router.lan
  user: admin
primary_repo:
  uri: /file/borg
  label: nas
retention:
  daily: 7
  weekly: 4
  monthly: 6
transport: native
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// Environment wins over the file for values it sets.
	assert.Equal(t, "/override/borg", cfg.PrimaryRepo.URI)
	// File values survive where the environment is silent.
	assert.Equal(t, "admin", cfg.Router.User)
	assert.Equal(t, "nas", cfg.PrimaryRepo.Label)
	assert.Equal(t, Retention{Daily: 7, Weekly: 4, Monthly: 6}, cfg.Retention)
	assert.Equal(t, TransportNative, cfg.Transport)
	// ROUTER_HOST env var overrides the file host.
	assert.Equal(t, "openwrt.lan", cfg.Router.Host)
}

func TestValidateReportsAllMissing(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BORG_PASSPHRASE", "")
	t.Setenv("PUSHOVER_TOKEN", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BORG_PASSPHRASE")
	assert.Contains(t, err.Error(), "PUSHOVER_TOKEN")
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Run("unknown transport", func(t *testing.T) {
		setRequiredEnv(t)
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
		require.NoError(t, err)
		cfg.Transport = "carrier-pigeon"
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative retention", func(t *testing.T) {
		setRequiredEnv(t)
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
		require.NoError(t, err)
		cfg.Retention.Daily = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestThresholdFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BACKUP_THRESHOLD", "10")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Replication.ThresholdGB)
}
