package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mame82/espflash/firmware"
	"github.com/mame82/espflash/flasher"
	"github.com/mame82/espflash/transport"
)

var twoBoards = []transport.PortInfo{
	{Name: "/dev/ttyACM0", IsUSB: true, Bridge: "Espressif USB-Serial/JTAG"},
	{Name: "/dev/ttyUSB0", IsUSB: true, Bridge: "CP210x"},
}

func TestChoosePortSingleCandidate(t *testing.T) {
	var out bytes.Buffer
	p, err := choosePort(twoBoards[:1], strings.NewReader(""), &out, false)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", p.Name)
	assert.Contains(t, out.String(), "Using /dev/ttyACM0")
}

func TestChoosePortNone(t *testing.T) {
	_, err := choosePort(nil, strings.NewReader("1\n"), &bytes.Buffer{}, true)
	assert.ErrorIs(t, err, transport.ErrNoDeviceSelected)
}

func TestChoosePortNonInteractiveNeedsFlag(t *testing.T) {
	_, err := choosePort(twoBoards, strings.NewReader("1\n"), &bytes.Buffer{}, false)
	assert.ErrorIs(t, err, transport.ErrNoDeviceSelected)
	assert.Contains(t, err.Error(), "--port")
}

func TestChoosePortPrompt(t *testing.T) {
	var out bytes.Buffer
	p, err := choosePort(twoBoards, strings.NewReader("7\nx\n2\n"), &out, true)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", p.Name)
	assert.Contains(t, out.String(), "2) /dev/ttyUSB0 [CP210x]")
	assert.Equal(t, 2, strings.Count(out.String(), "invalid choice"))
}

func TestChoosePortCancelled(t *testing.T) {
	_, err := choosePort(twoBoards, strings.NewReader("\n"), &bytes.Buffer{}, true)
	assert.ErrorIs(t, err, transport.ErrNoDeviceSelected)

	_, err = choosePort(twoBoards, strings.NewReader(""), &bytes.Buffer{}, true)
	assert.ErrorIs(t, err, transport.ErrNoDeviceSelected)
}

func TestPickRelease(t *testing.T) {
	releases := []firmware.Release{
		{Name: "kiki-esp32s3.bin", Version: "v1.2.0"},
		{Name: "kiki-esp32c3.bin", Version: "v1.1.0"},
	}

	r, err := pickRelease(releases, "")
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", r.Version)

	r, err = pickRelease(releases, "V1.1.0")
	require.NoError(t, err)
	assert.Equal(t, "kiki-esp32c3.bin", r.Name)

	r, err = pickRelease(releases, "kiki-esp32s3.bin")
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", r.Version)

	_, err = pickRelease(releases, "v9")
	assert.Error(t, err)
	_, err = pickRelease(nil, "")
	assert.Error(t, err)
}

func TestFetchReleaseFromDirectory(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "app-esp32c3.bin")
	newer := filepath.Join(dir, "merged-esp32s3.bin")
	require.NoError(t, os.WriteFile(older, []byte{0x01, 0x02}, 0o644))
	require.NoError(t, os.WriteFile(newer, []byte{0xe9, 0x00, 0x01}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	src := firmware.NewDirSource(dir)
	data, name, err := fetchRelease(context.Background(), src, "")
	require.NoError(t, err)
	assert.Equal(t, "merged-esp32s3.bin", name)
	assert.Equal(t, []byte{0xe9, 0x00, 0x01}, data)

	data, name, err = fetchRelease(context.Background(), src, "app-esp32c3.bin")
	require.NoError(t, err)
	assert.Equal(t, "app-esp32c3.bin", name)
	assert.Len(t, data, 2)
}

func TestPumpInputStopsAtExitKey(t *testing.T) {
	var out bytes.Buffer
	err := pumpInput(strings.NewReader("ab\x04c\x1dignored"), &out)
	require.NoError(t, err)
	assert.Equal(t, "ab\x04c", out.String())
}

func TestCRLF(t *testing.T) {
	assert.Equal(t, "a\r\nb\r\n", string(crlf([]byte("a\nb\n"))))
}

func TestProgressPrinterDropsRepeats(t *testing.T) {
	var out bytes.Buffer
	p := &progressPrinter{out: &out}
	p.print(flasher.Progress{Stage: flasher.StageWriting, Percent: 20, Message: "a"})
	p.print(flasher.Progress{Stage: flasher.StageWriting, Percent: 20, Message: "b"})
	p.print(flasher.Progress{Stage: flasher.StageWriting, Percent: 21, Message: "c"})
	p.print(flasher.Progress{Stage: flasher.StageVerifying, Percent: 21, Message: "d"})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 3)
}
