package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgresql", cfg.Storage.Type)
	assert.Equal(t, "postgres", cfg.Storage.PostgresDriver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 180*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "openai", cfg.Generator.Provider)
	assert.Equal(t, "gpt-4.1-mini", cfg.Generator.Model)
	assert.Equal(t, "https://getlate.dev/api/v1", cfg.Scheduling.BaseURL)
	assert.Equal(t, "Europe/Moscow", cfg.Planner.DefaultTimezone)
	assert.Equal(t, []string{"10:00", "14:00", "18:00"}, cfg.Planner.PostTimes)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LATE_API_TIMEOUT", "5s")
	t.Setenv("PLANNER_POST_TIMES", "09:00,19:30")
	t.Setenv("DEFAULT_TIMEZONE", "America/New_York")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Scheduling.Timeout)
	assert.Equal(t, []string{"09:00", "19:30"}, cfg.Planner.PostTimes)
	assert.Equal(t, "America/New_York", cfg.Planner.DefaultTimezone)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LATE_API_KEY=from-file\nLLM_PROVIDER=gemini\n"), 0600))
	t.Setenv("ENV_FILE", path)
	// godotenv does not override variables that are already set
	t.Setenv("LATE_API_KEY", "")
	os.Unsetenv("LATE_API_KEY")
	t.Setenv("LLM_PROVIDER", "anthropic")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Scheduling.APIKey)
	assert.Equal(t, "anthropic", cfg.Generator.Provider)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	t.Run("timezone", func(t *testing.T) {
		t.Setenv("DEFAULT_TIMEZONE", "Nowhere/City")
		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "DEFAULT_TIMEZONE")
	})

	t.Run("post times", func(t *testing.T) {
		t.Setenv("PLANNER_POST_TIMES", "10:00,noon")
		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "PLANNER_POST_TIMES")
	})
}
