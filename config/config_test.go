package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Flash.SyncAttempts)
	assert.Equal(t, 120*time.Second, cfg.Flash.EraseTimeout.Std())
	assert.Len(t, cfg.Firmware.Repositories, 4)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
port: /dev/ttyACM0
flash:
  chunk_size: 4096
  erase_timeout: 3m
  verify: true
firmware:
  repositories:
    - id: mine
      name: My board
      repository: me/board-fw
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Port)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 4096, cfg.Flash.ChunkSize)
	assert.Equal(t, 3*time.Minute, cfg.Flash.EraseTimeout.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Flash.SyncTimeout.Std())
	assert.True(t, cfg.Flash.Verify)
	require.Len(t, cfg.Firmware.Repositories, 1)
	assert.Equal(t, "me/board-fw", cfg.Firmware.Repositories[0].Repository)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "flash:\n  sync_timeout: soon\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = Load(writeConfig(t, "flash:\n  chunk_size: 10\n"))
	assert.ErrorContains(t, err, "chunk_size")

	_, err = Load(writeConfig(t, "firmware:\n  repositories:\n    - {id: a, repository: x/y}\n    - {id: a, repository: x/z}\n"))
	assert.ErrorContains(t, err, "duplicate")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.Flash.ChunkDelay = Duration(20 * time.Millisecond)
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
