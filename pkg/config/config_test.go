package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/graftio/ingestify/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsBootstrapSingleNode(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "node-1", cfg.Node.ID)
	assert.True(t, cfg.Node.Bootstrap)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
node:
  id: node-2
  bind_addr: 10.0.0.5:7000
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-2", cfg.Node.ID)
	assert.Equal(t, "10.0.0.5:7000", cfg.Node.BindAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	// fields the file didn't set keep Default()'s values.
	assert.Equal(t, "./data", cfg.Node.DataDir)
	assert.Equal(t, "127.0.0.1:8080", cfg.RPC.ListenAddr)
}

func TestLoadRequiresNodeID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node:\n  id: \"\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLogLevelTranslation(t *testing.T) {
	cases := []struct {
		level string
		want  log.Level
	}{
		{"debug", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"info", log.InfoLevel},
		{"", log.InfoLevel},
		{"bogus", log.InfoLevel},
	}
	for _, tt := range cases {
		t.Run(tt.level, func(t *testing.T) {
			cfg := Config{Log: LogConfig{Level: tt.level}}
			assert.Equal(t, tt.want, cfg.LogLevel())
		})
	}
}
