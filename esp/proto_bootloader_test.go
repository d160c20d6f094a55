package esp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	assert.Equal(t, uint32(0xef), Checksum(nil))
	assert.Equal(t, uint32(0xef^0x01^0x02), Checksum([]byte{0x01, 0x02}))
}

func TestSyncData(t *testing.T) {
	data := SyncData()
	require.Len(t, data, 36)
	assert.Equal(t, []byte{0x07, 0x07, 0x12, 0x20}, data[:4])
	for _, b := range data[4:] {
		assert.Equal(t, byte(0x55), b)
	}
}

func TestRequestToWire(t *testing.T) {
	block := []byte{0xaa, 0xbb}
	req := NewDataRequest(CommandFlashData, flashBlockData(block, 7), block)
	payload, err := req.ToWire()
	require.NoError(t, err)

	assert.Equal(t, byte(0x00), payload[0])
	assert.Equal(t, byte(CommandFlashData), payload[1])
	assert.Equal(t, uint16(18), binary.LittleEndian.Uint16(payload[2:4]))
	assert.Equal(t, Checksum(block), binary.LittleEndian.Uint32(payload[4:8]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(payload[8:12]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(payload[12:16]))
	assert.Equal(t, block, payload[24:])

	var parsed Request
	require.NoError(t, parsed.FromWire(payload))
	assert.Equal(t, req.Command, parsed.Command)
	assert.Equal(t, req.Checksum, parsed.Checksum)
	assert.Equal(t, req.Data, parsed.Data)
}

func TestResponseFromWire(t *testing.T) {
	payload := []byte{
		0x01, byte(CommandReadReg), 0x06, 0x00,
		0x83, 0x1d, 0xf0, 0x00,
		0xde, 0xad,
		0x01, 0x05, 0x00, 0x00,
	}
	var resp Response
	require.NoError(t, resp.FromWire(payload))
	assert.Equal(t, CommandReadReg, resp.Command)
	assert.Equal(t, uint32(0x00f01d83), resp.Value)
	assert.Equal(t, []byte{0xde, 0xad}, resp.Data)
	assert.Equal(t, byte(1), resp.Status)
	assert.Equal(t, ErrorCodeInvalidMessage, resp.Error)
	assert.False(t, resp.IsSuccess())

	wire, err := resp.ToWire()
	require.NoError(t, err)
	assert.Equal(t, payload, wire)
}

func TestResponseFromWireRejects(t *testing.T) {
	var resp Response
	assert.ErrorIs(t, resp.FromWire([]byte{0x01, 0x08}), errShortPacket)
	assert.ErrorIs(t, resp.FromWire([]byte{0x00, 0x08, 0x04, 0, 0, 0, 0, 0, 0, 0, 0, 0}), errNotResponse)
	assert.ErrorIs(t, resp.FromWire([]byte{0x01, 0x08, 0x10, 0, 0, 0, 0, 0, 0, 0, 0, 0}), errSizeMismatch)
	assert.Error(t, resp.FromWire([]byte{0x01, 0x08, 0x01, 0, 0, 0, 0, 0, 0}))
	assert.Error(t, resp.FromWireStatus([]byte{0x01, 0x08, 0x02, 0, 0, 0, 0, 0, 0, 0}, 4))
	assert.Error(t, resp.FromWireStatus([]byte{0x01, 0x08, 0x02, 0, 0, 0, 0, 0, 0, 0}, 3))
}

func TestResponseFromWireESP8266(t *testing.T) {
	// SYNC reply of the ESP8266 ROM: value echoes the probe, 2 byte trailer
	payload := []byte{0x01, 0x08, 0x02, 0x00, 0x07, 0x07, 0x12, 0x20, 0x00, 0x00}
	var resp Response
	require.NoError(t, resp.FromWire(payload))
	assert.Equal(t, CommandSync, resp.Command)
	assert.Equal(t, uint32(0x20120707), resp.Value)
	assert.Empty(t, resp.Data)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, esp8266StatusLen, resp.StatusLen)

	wire, err := resp.ToWire()
	require.NoError(t, err)
	assert.Equal(t, payload, wire)

	// data carrying replies need the session trailer length
	digest := []byte("0123456789abcdef0123456789abcdef")
	md5Reply := append([]byte{0x01, byte(CommandSPIFlashMD5), 34, 0x00, 0, 0, 0, 0}, digest...)
	md5Reply = append(md5Reply, 0x00, 0x00)
	require.NoError(t, resp.FromWireStatus(md5Reply, esp8266StatusLen))
	assert.Equal(t, digest, resp.Data)
	assert.True(t, resp.IsSuccess())

	require.NoError(t, resp.FromWire(md5Reply))
	assert.Len(t, resp.Data, 30, "a 4 byte trailer would eat two digest bytes")
}

func TestFlashBeginData(t *testing.T) {
	data := flashBeginData(0x2000, 5, FlashBlockSize, 0x10000, false)
	require.Len(t, data, 16)
	assert.Equal(t, uint32(0x2000), binary.LittleEndian.Uint32(data[0:4]))
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(FlashBlockSize), binary.LittleEndian.Uint32(data[8:12]))
	assert.Equal(t, uint32(0x10000), binary.LittleEndian.Uint32(data[12:16]))

	assert.Len(t, flashBeginData(0, 0, FlashBlockSize, 0, true), 20)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "SYNC", CommandSync.String())
	assert.Equal(t, "ERASE_FLASH", CommandEraseFlash.String())
	assert.Equal(t, "unknown command 0x7f", Command(0x7f).String())
	assert.Equal(t, "flash write error", ErrorCodeFlashWrite.String())
}
