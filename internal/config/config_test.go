package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAPIURL, EnvToken, EnvLogLevel, EnvPlayer, EnvLegacyAPIURL} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, 5*time.Second, cfg.Poll.JobStatus)
	assert.Equal(t, 3*time.Second, cfg.Poll.JobLogs)
	assert.Equal(t, 5*time.Second, cfg.Poll.StreamStatus)
	assert.Equal(t, 10*time.Second, cfg.Poll.StreamLogs)
	assert.Equal(t, []string{"mpv", "ffplay", "vlc"}, cfg.Player.Binaries)
	assert.Equal(t, 500*time.Millisecond, cfg.Player.RetryDelay)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "vidsight.yaml")
	yml := `
api_url: "https://api.example.com/"
poll:
  job_status: 2s
  job_logs: -1s
player:
  binaries: [" ffplay ", "ffplay", ""]
  soft_timeout: 1500ms
log_level: LOUD
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv(EnvToken, " secret ")
	t.Setenv(EnvLegacyAPIURL, "http://legacy:9000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://legacy:9000", cfg.APIURL, "legacy alias overrides file")
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, 2*time.Second, cfg.Poll.JobStatus)
	assert.Equal(t, DefaultJobLogsInterval, cfg.Poll.JobLogs)
	assert.Equal(t, []string{"ffplay"}, cfg.Player.Binaries)
	assert.Equal(t, 1500*time.Millisecond, cfg.Player.SoftTimeout)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Contains(t, cfg.Player.Args, "mpv")

	t.Setenv(EnvAPIURL, "http://primary:8000///")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://primary:8000", cfg.APIURL)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_uri: nope\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestInitWritesLoadableDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config", "vidsight.yaml")

	written, err := Init(path, false)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Normalize(Default()), cfg)

	_, err = Init(path, false)
	assert.Error(t, err)
	_, err = Init(path, true)
	assert.NoError(t, err)
}

func TestLoadDotEnvDoesNotOverrideExisting(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("VIDSIGHT_TOKEN=from-file\nVIDSIGHT_LOG_LEVEL=debug\n"), 0o644))
	t.Setenv(EnvToken, "from-env")
	os.Unsetenv(EnvLogLevel)
	t.Cleanup(func() { os.Unsetenv(EnvLogLevel) })

	LoadDotEnv(envFile, filepath.Join(dir, "missing.env"))
	assert.Equal(t, "from-env", os.Getenv(EnvToken))
	assert.Equal(t, "debug", os.Getenv(EnvLogLevel))
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Token = "abc"
	assert.Equal(t, "********", cfg.Redacted().Token)
	assert.Equal(t, "abc", cfg.Token)
}
