package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustedupdates/tufcore/metadata/signer"
)

func writeTestKeyFile(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))
	return path
}

func TestLoadEditorConfigEmptyPathIsNoop(t *testing.T) {
	cfg, err := loadEditorConfig("")
	require.NoError(t, err)
	assert.NotNil(t, cfg.Roles)
	assert.Empty(t, cfg.Roles)
}

func TestLoadEditorConfigParsesRoles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "roles:\n  targets:\n    keys:\n      - file:///keys/targets.pem\n  snapshot:\n    keys:\n      - file:///keys/snapshot.pem\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0640))

	cfg, err := loadEditorConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"file:///keys/targets.pem"}, cfg.Roles["targets"].Keys)
	assert.Equal(t, []string{"file:///keys/snapshot.pem"}, cfg.Roles["snapshot"].Keys)
}

func TestLoadEditorConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles: [this is not a map"), 0640))

	_, err := loadEditorConfig(path)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestLoadEditorConfigRejectsMissingFile(t *testing.T) {
	_, err := loadEditorConfig(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
}

func TestResolveRoleKeysPrefersExplicitOverConfig(t *testing.T) {
	configKey := writeTestKeyFile(t)
	flagKey := writeTestKeyFile(t)
	cfg := &EditorConfig{Roles: map[string]RoleKeysConfig{
		"targets": {Keys: []string{fmt.Sprintf("file://%s", configKey)}},
	}}
	keys, err := resolveRoleKeys(cfg, "targets", []string{fmt.Sprintf("file://%s", flagKey)})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, flagKey, keys[0].(*signer.LocalFile).Path)
}

func TestResolveRoleKeysFallsBackToConfig(t *testing.T) {
	configKey := writeTestKeyFile(t)
	cfg := &EditorConfig{Roles: map[string]RoleKeysConfig{
		"snapshot": {Keys: []string{fmt.Sprintf("file://%s", configKey)}},
	}}
	keys, err := resolveRoleKeys(cfg, "snapshot", nil)
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestResolveRoleKeysEmptyWithoutFlagOrConfig(t *testing.T) {
	keys, err := resolveRoleKeys(&EditorConfig{Roles: map[string]RoleKeysConfig{}}, "timestamp", nil)
	require.NoError(t, err)
	assert.Nil(t, keys)
}
