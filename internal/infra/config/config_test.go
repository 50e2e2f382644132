package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: news1
    host: news.example.com
    port: 563
    tls: true
  - id: news2
    host: fill.example.com
    port: 119
    max_connections: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, 10, cfg.Servers[0].MaxConnection)
	assert.Equal(t, 4, cfg.Servers[1].MaxConnection)
	assert.Equal(t, 1, cfg.Servers[1].Priority)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./downloads/working", cfg.Download.WorkingDir)
	assert.True(t, cfg.Download.OverwriteZeroByteFiles)
	assert.Equal(t, 250*time.Millisecond, cfg.Download.PollInterval)
	assert.Equal(t, 3, cfg.Download.RetryLimit)
	assert.Equal(t, "info", cfg.Log.Level)

	provs := cfg.Providers()
	require.Len(t, provs, 2)
	assert.Equal(t, "news1", provs[0].ID)
	assert.True(t, provs[0].TLS)
	assert.Empty(t, cfg.TLSOnPlainPort())
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: news1
    host: news.example.com
    port: 119
download:
  max_rate: 1000
`)
	t.Setenv("NZBLEECHER_DOWNLOAD_MAX_RATE", "2048")
	t.Setenv("NZBLEECHER_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 2048, cfg.Download.MaxRate)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no servers", "port: \"9090\"\n"},
		{"missing id", "servers:\n  - host: a\n    port: 119\n"},
		{"missing host", "servers:\n  - id: a\n    port: 119\n"},
		{"missing port", "servers:\n  - id: a\n    host: a\n"},
		{"duplicate id", "servers:\n  - id: a\n    host: a\n    port: 119\n  - id: a\n    host: b\n    port: 119\n"},
		{"negative rate", "servers:\n  - id: a\n    host: a\n    port: 119\ndownload:\n  max_rate: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
