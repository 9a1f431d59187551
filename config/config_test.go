package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SHORTCUT_API_TOKEN", "token")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://api.app.shortcut.com/api/v3", cfg.APIURL)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.DeleteDelay)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "data/shortcut_imported_entities.csv", cfg.ImportedEntitiesCSV)
	assert.Equal(t, "200-M", cfg.RateLimit)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	content := "SHORTCUT_API_URL=https://example.test/api/v3/\nBATCH_SIZE=25\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))
	// godotenv は既存の環境変数を上書きしない
	for _, key := range []string{"SHORTCUT_API_URL", "BATCH_SIZE"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/api/v3", cfg.APIURL)
	assert.Equal(t, 25, cfg.BatchSize)
}

func TestLoadConfigRejectsZeroBatch(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BATCH_SIZE", "0")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidateMissingToken(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.Validate(), ErrMissingToken)
}

func TestLogrusLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"", logrus.InfoLevel},
		{"nope", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.in}
			assert.Equal(t, tt.want, cfg.LogrusLevel())
		})
	}
}
