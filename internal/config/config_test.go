package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFailsFastWithoutBackend(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("BACKEND_ANON_KEY", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "BACKEND_URL")
	assert.Contains(t, err.Error(), "BACKEND_ANON_KEY")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://project.example.co/")
	t.Setenv("BACKEND_ANON_KEY", "anon")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "5")
	t.Setenv("NOTIFICATION_PAGE_SIZE", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://project.example.co", cfg.Backend.URL)
	assert.Equal(t, 5*time.Second, cfg.API.HTTPTimeout)
	assert.Equal(t, 50, cfg.Notification.PageSize)
	assert.False(t, cfg.IsProduction())
}

func TestLoadReadsTracingFromDotEnv(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://project.example.co")
	t.Setenv("BACKEND_ANON_KEY", "anon")
	for _, key := range []string{"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OTEL_ENABLED=true\nOTEL_EXPORTER_OTLP_ENDPOINT=collector:4318\n"), 0o600))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4318", cfg.Tracing.Endpoint)
}
