package hook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSettings(t *testing.T, dir string) map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	var settings map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &settings))
	return settings
}

func TestInstallFresh(t *testing.T) {
	dir := t.TempDir()

	installed, err := Install(dir)
	require.NoError(t, err)
	assert.True(t, installed)
	assert.True(t, Installed(dir))

	// Second install is a no-op.
	installed, err = Install(dir)
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestInstallPreservesUserSettings(t *testing.T) {
	dir := t.TempDir()
	existing := `{
		"model": "fancy",
		"hooks": {
			"Stop": [{"hooks": [{"type": "command", "command": "my-notifier"}]}]
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(existing), 0o644))

	installed, err := Install(dir)
	require.NoError(t, err)
	require.True(t, installed)

	settings := readSettings(t, dir)
	assert.Contains(t, string(settings["model"]), "fancy")

	var hooks map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(settings["hooks"], &hooks))
	assert.Contains(t, string(hooks["Stop"]), "my-notifier", "user hook survives")
	assert.Contains(t, string(hooks["Stop"]), hookCommand, "our hook added alongside")
}

func TestUninstallRoundTrip(t *testing.T) {
	dir := t.TempDir()
	existing := `{
		"hooks": {
			"Stop": [{"hooks": [{"type": "command", "command": "my-notifier"}]}]
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(existing), 0o644))

	_, err := Install(dir)
	require.NoError(t, err)
	require.True(t, Installed(dir))

	removed, err := Uninstall(dir)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, Installed(dir))

	// The user's own hook is untouched; ours are gone everywhere.
	settings := readSettings(t, dir)
	var hooks map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(settings["hooks"], &hooks))
	assert.Contains(t, string(hooks["Stop"]), "my-notifier")
	for event, raw := range hooks {
		assert.NotContains(t, string(raw), hookCommand, "event %s", event)
	}

	// Uninstalling again finds nothing.
	removed, err = Uninstall(dir)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestUninstallMissingFile(t *testing.T) {
	removed, err := Uninstall(t.TempDir())
	require.NoError(t, err)
	assert.False(t, removed)
}
