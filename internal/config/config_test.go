package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudfold/backup-operator/internal/vault"
)

// staticVault serves "vault-" + key for any lookup, standing in for a real
// secret store in loader tests.
type staticVault struct{}

func (staticVault) Name() string { return "static-test" }

func (staticVault) Fetch(_ context.Context, key string) (string, error) {
	return "vault-" + key, nil
}

func init() {
	vault.Register("static-test", func(map[string]any) (vault.Vault, error) {
		return staticVault{}, nil
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
name: production
enabled: true
storage:
  interface: local
  root: /var/backups
interfaces:
  - interface: local-directories
    enabled: true
    directories:
      - src: /var/www
        dest: backups
        name: www
        retention:
          count: 5
  - interface: ssh-directories
    enabled: false
    ssh_host: 10.0.0.5
    ssh_username: backup
    ssh_private_key: /keys/id_ed25519
    directories:
      - src: /srv/data
        dest: backups
        name: data
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(context.Background(), writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Name)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "local", cfg.Storage.Interface)
	assert.Equal(t, "/var/backups", cfg.Storage.Attrs["root"])

	require.Len(t, cfg.Interfaces, 2)
	assert.Equal(t, "local-directories", cfg.Interfaces[0].Interface)
	assert.True(t, cfg.Interfaces[0].Enabled)
	assert.Equal(t, "ssh-directories", cfg.Interfaces[1].Interface)
	assert.False(t, cfg.Interfaces[1].Enabled)
}

func TestLoad_EnabledDefaultsToFalse(t *testing.T) {
	cfg, err := Load(context.Background(), writeConfig(t, `
name: staging
storage:
  interface: local
  root: /b
interfaces: []
`))
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	cases := map[string]struct {
		content string
		field   string
	}{
		"no name": {
			content: "storage: {interface: local, root: /b}\ninterfaces: []\n",
			field:   "name",
		},
		"no storage": {
			content: "name: x\ninterfaces: []\n",
			field:   "storage",
		},
		"no interfaces": {
			content: "name: x\nstorage: {interface: local, root: /b}\n",
			field:   "interfaces",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), writeConfig(t, tc.content))
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tc.field, fe.Field)
		})
	}
}

func TestLoad_UnknownInterfaces(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		_, err := Load(context.Background(), writeConfig(t, `
name: x
storage: {interface: tape-robot}
interfaces: []
`))
		var ue *UnknownInterfaceError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "storage", ue.Kind)
		assert.Equal(t, "tape-robot", ue.Name)
	})

	t.Run("backup", func(t *testing.T) {
		_, err := Load(context.Background(), writeConfig(t, `
name: x
storage: {interface: local, root: /b}
interfaces:
  - interface: carrier-pigeon
    enabled: true
`))
		var ue *UnknownInterfaceError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "backup", ue.Kind)
	})

	t.Run("vault", func(t *testing.T) {
		_, err := Load(context.Background(), writeConfig(t, `
name: x
vaults:
  - interface: crystal-ball
storage: {interface: local, root: /b}
interfaces: []
`))
		var ue *UnknownInterfaceError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "vault", ue.Kind)
	})
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("BACKUP_ROOT", "/mnt/backups")

	cfg, err := Load(context.Background(), writeConfig(t, `
name: x
storage:
  interface: local
  root: ${BACKUP_ROOT}
interfaces: []
`))
	require.NoError(t, err)
	assert.Equal(t, "/mnt/backups", cfg.Storage.Attrs["root"])
}

// A vault-declared secret shadows a same-named environment variable.
func TestLoad_VaultSecretsWinOverEnv(t *testing.T) {
	t.Setenv("ROOT_DIR", "env-root")

	cfg, err := Load(context.Background(), writeConfig(t, `
name: x
vaults:
  - interface: static-test
    secrets:
      ROOT_DIR: root-dir
storage:
  interface: local
  root: ${ROOT_DIR}
interfaces: []
`))
	require.NoError(t, err)
	assert.Equal(t, "vault-root-dir", cfg.Storage.Attrs["root"])
}

// Every unresolved token is reported in one error, not just the first.
func TestLoad_UnresolvedSecretsCollectAll(t *testing.T) {
	_, err := Load(context.Background(), writeConfig(t, `
name: x
storage:
  interface: local
  root: ${MISSING_B}/${MISSING_A}
interfaces:
  - interface: local-directories
    enabled: true
    directories:
      - src: ${MISSING_A}
        name: res
`))
	var ue *UnresolvedSecretsError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, []string{"MISSING_A", "MISSING_B"}, ue.Tokens)
}

func TestMaskTree_RedactsSensitiveKeys(t *testing.T) {
	tree := map[string]any{
		"account":    "acct",
		"sas_token":  "sv=...",
		"client_id":  "id",
		"attributes": map[string]any{"storage_key": "abc", "root": "/b"},
	}
	masked := maskTree(tree).(map[string]any)
	assert.Equal(t, "acct", masked["account"])
	assert.Equal(t, maskedValue, masked["sas_token"])
	nested := masked["attributes"].(map[string]any)
	assert.Equal(t, maskedValue, nested["storage_key"])
	assert.Equal(t, "/b", nested["root"])
	// Original untouched.
	assert.Equal(t, "sv=...", tree["sas_token"])
}

func TestLoadSettings_Defaults(t *testing.T) {
	os.Unsetenv("BACKUP_GRACEFUL_ERRORS")
	set := LoadSettings()
	assert.True(t, set.GracefulErrors)
}

func TestLoadSettings_Overrides(t *testing.T) {
	t.Setenv("BACKUP_CONFIG_PATH", "/etc/backup.yaml")
	t.Setenv("BACKUP_GRACEFUL_ERRORS", "false")

	set := LoadSettings()
	assert.Equal(t, "/etc/backup.yaml", set.ConfigPath)
	assert.False(t, set.GracefulErrors)
}
