package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cantrace.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.FileExists(t, path)
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.False(t, cfg.Server.ShowErrorDetails)
	assert.Equal(t, "clear", cfg.Processing.EmptyText)
	assert.Equal(t, filepath.Join(dir, "data", "uploads"), cfg.Storage.UploadsDirectory)
}

func TestLoadConfig_ReadsFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cantrace.yaml")
	content := `
server:
  port: 9100
  show_error_details: true
processing:
  empty_text: keep
  max_sessions: 3
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Server.ShowErrorDetails)
	assert.Equal(t, "keep", cfg.Processing.EmptyText)
	assert.Equal(t, 3, cfg.Processing.MaxSessions)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep their defaults
	assert.Equal(t, 30, cfg.Processing.SessionTimeoutMinutes)
	assert.Equal(t, "0.0.0.0:9100", cfg.GetServerAddr())
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cantrace.yaml")
	t.Setenv("PORT", "9200")
	t.Setenv("DATA_DIR", filepath.Join(dir, "elsewhere"))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "elsewhere", "index"), cfg.Storage.IndexDirectory)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad port":       "server:\n  port: 70000\n",
		"bad empty text": "processing:\n  empty_text: maybe\n",
		"bad level":      "logging:\n  level: loud\n",
		"negative procs": "runtime:\n  go_max_procs: -2\n",
		"not yaml":       "server: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cantrace.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.resolvePaths(dir)

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.Storage.UploadsDirectory)
	assert.DirExists(t, cfg.Storage.IndexDirectory)
}
