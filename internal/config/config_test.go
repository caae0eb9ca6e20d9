package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "identities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaultLimits(t *testing.T) {
	path := writeConfig(t, `
roles:
  default:
    defaultUrl: "https://example.com"
`)

	ids, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxDepth, ids.Limits.MaxDepth)
	assert.Equal(t, defaultMaxSiblings, ids.Limits.MaxSiblings)
	assert.Equal(t, defaultMaxDescendants, ids.Limits.MaxDescendants)
	assert.Equal(t, "https://example.com", ids.Roles["default"].DefaultURL)
}

func TestLoadHonorsExplicitLimits(t *testing.T) {
	path := writeConfig(t, `
roles:
  admin:
    authPath: "./admin.json"
    authRequired: true
limits:
  maxDepth: 3
  maxSiblings: 5
  maxDescendants: 20
`)

	ids, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, ids.Limits.MaxDepth)
	assert.Equal(t, 5, ids.Limits.MaxSiblings)
	assert.Equal(t, 20, ids.Limits.MaxDescendants)

	admin := ids.Roles["admin"]
	assert.True(t, admin.HasAuthPath())
	assert.True(t, admin.RequiresAuth())
}

func TestRoleConfigAuthDefaults(t *testing.T) {
	var r RoleConfig
	assert.False(t, r.HasAuthPath())
	assert.False(t, r.RequiresAuth())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
