package esp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChipFromMagic(t *testing.T) {
	tests := []struct {
		magic uint32
		want  ChipFamily
	}{
		{0x00f01d83, ChipESP32},
		{0xfff0c101, ChipESP8266},
		{0x000007c6, ChipESP32S2},
		{0x00000009, ChipESP32S3},
		{0x1b31506f, ChipESP32C3},
		{0xdeadbeef, ChipUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChipFromMagic(tt.magic), "magic %#x", tt.magic)
	}
}

func TestMagicForRoundTrip(t *testing.T) {
	for _, c := range []ChipFamily{ChipESP8266, ChipESP32, ChipESP32S2, ChipESP32S3, ChipESP32C2, ChipESP32C3, ChipESP32C6, ChipESP32H2} {
		magic, err := MagicFor(c)
		if assert.NoError(t, err, c.String()) {
			assert.Equal(t, c, ChipFromMagic(magic))
		}
	}
	_, err := MagicFor(ChipGeneric)
	assert.Error(t, err)
}

func TestChipFromID(t *testing.T) {
	assert.Equal(t, ChipESP32C6, ChipFromID(0x0d))
	assert.Equal(t, ChipUnknown, ChipFromID(0x99))
}

func TestChipKnown(t *testing.T) {
	assert.True(t, ChipESP32.Known())
	assert.False(t, ChipUnknown.Known())
	assert.False(t, ChipGeneric.Known())
	assert.False(t, ChipESP32.needsEncryptedFlag())
	assert.True(t, ChipESP32S3.needsEncryptedFlag())
}
