package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"AI_AGENT_NAME", "AI_MAIL_DATA_DIR", "AI_MAIL_LOG_LEVEL", "AI_MAIL_LOG_FORMAT", "AI_MAIL_METRICS_ADDR"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr)
	require.Contains(t, cfg.DataDir, ".ai_mail")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	os.Setenv("AI_AGENT_NAME", "claude-desktop")
	os.Setenv("AI_MAIL_DATA_DIR", dir)
	os.Setenv("AI_MAIL_LOG_LEVEL", "debug")
	os.Setenv("AI_MAIL_LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "claude-desktop", cfg.AgentName)
	require.Equal(t, dir, cfg.DataDir)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "console", cfg.LogFormat)
	require.Equal(t, filepath.Join(dir, "mailbox.db"), cfg.DBPath())
	require.Equal(t, filepath.Join(dir, "machine-id"), cfg.MachineIDPath())
}

func TestLoad_InvalidLogFormatRejected(t *testing.T) {
	clearEnv(t)
	os.Setenv("AI_MAIL_LOG_FORMAT", "xml")
	_, err := Load()
	require.Error(t, err)
}

func TestEnsureDataDir(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "nested", "data")
	os.Setenv("AI_MAIL_DATA_DIR", dir)
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.EnsureDataDir())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
