package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg, loaded, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Equal(t, config.Default().Window, cfg.Window)

	_, loaded, err = LoadConfig("")
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nebula.toml")
	require.NoError(t, os.WriteFile(path, []byte("[window]\ntitle = \"Test\"\nwidth = 640\nheight = 480\n"), 0o644))

	cfg, loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, "Test", cfg.Window.Title)
	assert.Equal(t, 640, cfg.Window.Width)
}

func TestLoadConfigRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nebula.yaml")
	require.NoError(t, os.WriteFile(path, []byte("renderer:\n  buffered_frames: 9\n"), 0o644))

	_, _, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	log, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, log)

	cfg.Logging.Encoding = "xml"
	_, err = NewLogger(cfg)
	assert.Error(t, err)
}
