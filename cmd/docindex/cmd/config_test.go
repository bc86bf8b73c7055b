package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/configs"
	"github.com/Aman-CERP/docindex/internal/config"
)

func TestConfigInit_WritesTemplate(t *testing.T) {
	// Given: an empty home
	home := isolateHome(t)

	// When: initialising the user config
	out, err := executeCommand(t, "config", "init")

	// Then: the template is written under XDG_CONFIG_HOME
	require.NoError(t, err)
	path := filepath.Join(home, ".config", "docindex", "config.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, configs.ConfigTemplate, string(data))
	assert.Contains(t, out, "Created configuration")
}

func TestConfigInit_KeepsExistingWithoutForce(t *testing.T) {
	home := isolateHome(t)
	path := filepath.Join(home, ".config", "docindex", "config.yaml")
	writeDoc(t, filepath.Dir(path), "config.yaml", "version: 1\n")

	out, err := executeCommand(t, "config", "init")

	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, _ := os.ReadFile(path)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestConfigInit_ForceBacksUpThenRestore(t *testing.T) {
	// Given: an edited user config
	home := isolateHome(t)
	path := filepath.Join(home, ".config", "docindex", "config.yaml")
	writeDoc(t, filepath.Dir(path), "config.yaml", "version: 1\n")

	// When: forcing init, then restoring
	out, err := executeCommand(t, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backup:")
	data, _ := os.ReadFile(path)
	assert.Equal(t, configs.ConfigTemplate, string(data))

	_, err = executeCommand(t, "config", "restore")
	require.NoError(t, err)

	// Then: the edited file is back
	data, _ = os.ReadFile(path)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestConfigShow_MergesProjectFile(t *testing.T) {
	dir := setupProject(t)

	out, err := executeCommand(t, "config", "show", "--json")

	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.False(t, cfg.OCR.Enabled)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Paths.DataDir)
}

func TestConfigShow_Defaults(t *testing.T) {
	setupProject(t)

	out, err := executeCommand(t, "config", "show", "--defaults")

	require.NoError(t, err)
	assert.Contains(t, out, "provider: ollama")
}
