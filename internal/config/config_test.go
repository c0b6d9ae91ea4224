package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.ListenAddr, cfg.ListenAddr)
	assert.Equal(t, def.Concurrency, cfg.Concurrency)
	assert.Equal(t, int64(25), cfg.MaxFileSizeMB)
	assert.Equal(t, 5*time.Minute, cfg.ScanCacheTTL)
}

func TestLoadPartialConfigBackfillsDefaults(t *testing.T) {
	dir := t.TempDir()
	content := "concurrency: 8\nconverter_path: /usr/local/bin/extract\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "/usr/local/bin/extract", cfg.ConverterPath)
	assert.Equal(t, DefaultConfig().ListenAddr, cfg.ListenAddr)
	assert.Equal(t, int64(25), cfg.MaxFileSizeMB)
}

func TestLoadMalformedConfigFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{not yaml"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestMaxFileSizeBytes(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(25*1024*1024), cfg.MaxFileSizeBytes())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Concurrency = 5
	cfg.WatchEnabled = true

	require.NoError(t, cfg.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Concurrency)
	assert.True(t, loaded.WatchEnabled)
}

func TestGetDataDirHonorsEnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom-home")
	t.Setenv("UMD_HOME", dir)

	got, err := GetDataDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	info, statErr := os.Stat(dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}
