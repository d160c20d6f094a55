package esp_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mame82/espflash/esp"
	"github.com/mame82/espflash/esp/esptest"
)

func newClient(dev *esptest.Device, opts ...esp.Option) *esp.Client {
	opts = append([]esp.Option{
		esp.WithSleep(func(time.Duration) {}),
		esp.WithSyncTimeout(50 * time.Millisecond),
		esp.WithCommandTimeout(200 * time.Millisecond),
		esp.WithEraseTimeout(200 * time.Millisecond),
	}, opts...)
	return esp.NewClient(dev, opts...)
}

func syncedClient(t *testing.T, dev *esptest.Device, opts ...esp.Option) *esp.Client {
	t.Helper()
	c := newClient(dev, opts...)
	require.NoError(t, c.Sync(context.Background()))
	return c
}

func TestSyncEntersBootloaderFirst(t *testing.T) {
	dev := esptest.NewDevice("test")
	c := newClient(dev)

	require.NoError(t, c.Sync(context.Background()))
	assert.True(t, c.Synchronized())
	assert.Equal(t, []esptest.Signal{
		{DTR: false, RTS: true},
		{DTR: true, RTS: false},
		{DTR: false, RTS: false},
	}, dev.Signals())
	assert.Equal(t, 0, dev.Resets())
}

func TestSyncRetriesWithinCeiling(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithSyncAfter(2))
	c := newClient(dev, esp.WithSyncAttempts(3))

	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, 3, dev.SyncProbes())
	// boot strap sequence re-armed on every attempt
	assert.Len(t, dev.Signals(), 9)
}

func TestSyncFailsAfterAttempts(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithSilent())
	c := newClient(dev, esp.WithSyncAttempts(4))

	err := c.Sync(context.Background())
	var syncErr *esp.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, 4, syncErr.Attempts)
	assert.ErrorIs(t, err, esp.ErrTimeout)
	assert.Equal(t, 4, dev.CommandCount(esp.CommandSync))
	assert.False(t, c.Synchronized())
}

func TestSyncHonorsCancellation(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithSilent())
	c := newClient(dev, esp.WithSyncAttempts(100), esp.WithSyncTimeout(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Sync(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, dev.SyncProbes(), 100)
}

func TestCommandsRequireSync(t *testing.T) {
	c := newClient(esptest.NewDevice("test"))
	ctx := context.Background()

	_, err := c.DetectChip(ctx)
	assert.ErrorIs(t, err, esp.ErrNotSynchronized)
	assert.ErrorIs(t, c.EraseFlash(ctx), esp.ErrNotSynchronized)
	_, err = c.WriteChunk(ctx, 0, []byte{1})
	assert.ErrorIs(t, err, esp.ErrNotSynchronized)
	assert.ErrorIs(t, c.VerifyMD5(ctx, 0, []byte{1}), esp.ErrNotSynchronized)
}

func TestDetectChip(t *testing.T) {
	for _, chip := range []esp.ChipFamily{esp.ChipESP32, esp.ChipESP32S3, esp.ChipESP8266} {
		dev := esptest.NewDevice("test", esptest.WithChip(chip))
		c := syncedClient(t, dev)

		got, err := c.DetectChip(context.Background())
		require.NoError(t, err)
		assert.Equal(t, chip, got)
		assert.Equal(t, chip, c.Chip())
	}
}

func TestESP8266Session(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithChip(esp.ChipESP8266))
	c := syncedClient(t, dev)
	ctx := context.Background()

	chip, err := c.DetectChip(ctx)
	require.NoError(t, err)
	assert.Equal(t, esp.ChipESP8266, chip)

	require.NoError(t, c.AttachFlash(ctx))
	assert.Equal(t, 0, dev.CommandCount(esp.CommandSPIAttach))

	data := bytes.Repeat([]byte{0x5a}, 2*esp.FlashBlockSize+7)
	n, err := c.WriteChunk(ctx, 0x10000, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, dev.Flash(0x10000, len(data)))

	// the digest reply carries data ahead of the 2 byte trailer
	require.NoError(t, c.VerifyMD5(ctx, 0x10000, data))
}

func TestESP8266CommandFailure(t *testing.T) {
	dev := esptest.NewDevice("test",
		esptest.WithChip(esp.ChipESP8266),
		esptest.WithFailingCommand(esp.CommandFlashBegin, esp.ErrorCodeFailedToAct),
	)
	c := syncedClient(t, dev)

	_, err := c.WriteChunk(context.Background(), 0x10000, []byte{1, 2, 3})
	var cmdErr *esp.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, esp.ErrorCodeFailedToAct, cmdErr.Code)
}

func TestDetectChipSecurityInfoFallback(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithMagic(0x12345678), esptest.WithSecurityChipID(0x0d))
	c := syncedClient(t, dev)

	got, err := c.DetectChip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, esp.ChipESP32C6, got)
}

func TestDetectChipUnknownKeepsSession(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithMagic(0x12345678))
	c := syncedClient(t, dev)

	got, err := c.DetectChip(context.Background())
	var unknown *esp.UnknownChipError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, uint32(0x12345678), unknown.Magic)
	assert.Equal(t, esp.ChipGeneric, got)
	assert.True(t, c.Synchronized())

	_, err = c.WriteChunk(context.Background(), 0x10000, []byte{1, 2, 3})
	assert.NoError(t, err)
}

func TestWriteChunk(t *testing.T) {
	dev := esptest.NewDevice("test")
	c := syncedClient(t, dev)

	data := bytes.Repeat([]byte{0x11, 0x22, 0x33}, 1000)
	n, err := c.WriteChunk(context.Background(), 0x10000, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, dev.Flash(0x10000, len(data)))
	assert.Equal(t, 1, dev.CommandCount(esp.CommandFlashBegin))
	assert.Equal(t, 3, dev.CommandCount(esp.CommandFlashData))

	require.NoError(t, c.VerifyMD5(context.Background(), 0x10000, data))
}

func TestWriteChunkCompressed(t *testing.T) {
	dev := esptest.NewDevice("test")
	c := syncedClient(t, dev, esp.WithCompression(true))

	data := bytes.Repeat([]byte("esp32 firmware "), 500)
	n, err := c.WriteChunk(context.Background(), 0x20000, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, dev.Flash(0x20000, len(data)))
	assert.Equal(t, 0, dev.CommandCount(esp.CommandFlashData))
	assert.Equal(t, 1, dev.CommandCount(esp.CommandFlashDeflBegin))
}

func TestWriteChunkFailureReportsAddress(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithFailingWriteAt(0x10800))
	c := syncedClient(t, dev)

	n, err := c.WriteChunk(context.Background(), 0x10000, make([]byte, 0x1000))
	var writeErr *esp.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, uint32(0x10800), writeErr.Address)
	assert.Equal(t, 0x800, n)

	var cmdErr *esp.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, esp.ErrorCodeFlashWrite, cmdErr.Code)
}

func TestEraseFlash(t *testing.T) {
	dev := esptest.NewDevice("test")
	c := syncedClient(t, dev)
	require.NoError(t, c.EraseFlash(context.Background()))
	assert.Equal(t, 1, dev.FullErases())
}

func TestEraseFlashROMFallback(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithROMErase())
	c := syncedClient(t, dev)
	require.NoError(t, c.EraseFlash(context.Background()))
	assert.Equal(t, 1, dev.FullErases())
	assert.Equal(t, 1, dev.CommandCount(esp.CommandFlashBegin))
}

func TestEraseFlashTimeout(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithHangingErase())
	c := syncedClient(t, dev, esp.WithEraseTimeout(30*time.Millisecond))

	err := c.EraseFlash(context.Background())
	var timeoutErr *esp.EraseTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 30*time.Millisecond, timeoutErr.Timeout)
	assert.True(t, errors.Is(err, esp.ErrTimeout))
}

func TestVerifyMD5Mismatch(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithCorruptMD5())
	c := syncedClient(t, dev)
	data := []byte{1, 2, 3, 4}
	_, err := c.WriteChunk(context.Background(), 0x10000, data)
	require.NoError(t, err)

	var verifyErr *esp.VerifyError
	assert.ErrorAs(t, c.VerifyMD5(context.Background(), 0x10000, data), &verifyErr)
}

func TestHardResetUnsynchronizes(t *testing.T) {
	dev := esptest.NewDevice("test")
	c := syncedClient(t, dev)

	require.NoError(t, c.HardReset())
	assert.False(t, c.Synchronized())
	assert.Equal(t, 1, dev.Resets())
	signals := dev.Signals()
	assert.Equal(t, []esptest.Signal{{DTR: false, RTS: true}, {DTR: false, RTS: false}}, signals[len(signals)-2:])

	// a second session on the same link resynchronizes
	require.NoError(t, c.Sync(context.Background()))
	assert.True(t, c.Synchronized())
}

func TestNoiseBetweenResponsesIsSkipped(t *testing.T) {
	dev := esptest.NewDevice("test", esptest.WithSyncEchoes(7))
	c := syncedClient(t, dev)
	dev.Inject([]byte("garbage\r\n"))

	_, err := c.DetectChip(context.Background())
	assert.NoError(t, err)
}
