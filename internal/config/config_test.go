package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bamsammich/unbox/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	configDir := filepath.Join(dir, "unbox")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.Verify)
	assert.Nil(t, cfg.Defaults.Owner)
	assert.Empty(t, cfg.Filter.Exclude)
}

func TestLoad_FullConfig(t *testing.T) {
	writeConfig(t, `
[defaults]
owner = true
perm = true
acls = false
xattrs = true
fflags = false
no_overwrite = true
keep_newer = false
secure_symlinks = true
secure_nodotdot = true
safe_writes = true
verify = true
numeric_owner = false
bwlimit = "100MB"

[filter]
exclude = ["*.tmp", ".git/"]
include = ["keep.tmp"]
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	d := cfg.Defaults
	require.NotNil(t, d.Owner)
	assert.True(t, *d.Owner)
	require.NotNil(t, d.ACLs)
	assert.False(t, *d.ACLs)
	require.NotNil(t, d.NoOverwrite)
	assert.True(t, *d.NoOverwrite)
	require.NotNil(t, d.SecureNoDotDot)
	assert.True(t, *d.SecureNoDotDot)
	require.NotNil(t, d.SafeWrites)
	assert.True(t, *d.SafeWrites)
	require.NotNil(t, d.NumericOwner)
	assert.False(t, *d.NumericOwner)
	require.NotNil(t, d.BWLimit)
	assert.Equal(t, "100MB", *d.BWLimit)

	assert.Equal(t, []string{"*.tmp", ".git/"}, cfg.Filter.Exclude)
	assert.Equal(t, []string{"keep.tmp"}, cfg.Filter.Include)
}

func TestLoad_PartialConfig(t *testing.T) {
	writeConfig(t, `
[defaults]
verify = true
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Defaults.Verify)
	assert.True(t, *cfg.Defaults.Verify)
	// Unset fields should remain nil.
	assert.Nil(t, cfg.Defaults.Perm)
	assert.Nil(t, cfg.Defaults.BWLimit)
}

func TestLoad_InvalidTOML(t *testing.T) {
	writeConfig(t, "invalid [[[")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_UnknownKey(t *testing.T) {
	writeConfig(t, `
[defaults]
verfy = true
`)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaults.verfy")
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/unbox/config.toml", config.Path())
}
