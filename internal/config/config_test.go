package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroni66/luminAI-sub000/internal/config"
)

func mockXDG(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	oldConfigHome := xdg.ConfigHome
	xdg.ConfigHome = tmpDir

	t.Cleanup(func() {
		xdg.ConfigHome = oldConfigHome
	})

	return tmpDir
}

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()

	appDir := filepath.Join(dir, "lumin")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "downloads.yaml"), []byte(content), 0o644))
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, 3, cfg.MaxConcurrentDownloads)
	assert.Empty(t, cfg.DownloadDir)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoadNoFileReturnsDefaults(t *testing.T) {
	mockXDG(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxConcurrentDownloads)
}

func TestLoadReadsFile(t *testing.T) {
	dir := mockXDG(t)
	writeConfigFile(t, dir, "maxConcurrentDownloads: 5\ndownloadDir: /srv/downloads\n")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxConcurrentDownloads)
	assert.Equal(t, "/srv/downloads", cfg.DownloadDir)
}

func TestLoadClampsConcurrency(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want int
	}{
		{"above range", "maxConcurrentDownloads: 50\n", 10},
		{"below range", "maxConcurrentDownloads: -2\n", 1},
		{"unset uses default", "downloadDir: /tmp\n", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := mockXDG(t)
			writeConfigFile(t, dir, tt.yaml)

			cfg, err := config.Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.MaxConcurrentDownloads)
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := mockXDG(t)
	writeConfigFile(t, dir, "maxConcurrentDownloads: [oops\n")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestDatabasePath(t *testing.T) {
	cfg := config.Config{DataDir: "/var/lib/lumin"}

	assert.Equal(t, filepath.Join("/var/lib/lumin", "downloads.db"), cfg.DatabasePath())
}
