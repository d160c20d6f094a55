package esp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlipEncodeEscapes(t *testing.T) {
	got := SlipEncode([]byte{0x01, 0xc0, 0x02, 0xdb, 0x03})
	assert.Equal(t, []byte{0xc0, 0x01, 0xdb, 0xdc, 0x02, 0xdb, 0xdd, 0x03, 0xc0}, got)
}

func TestSlipDecoderRoundTrip(t *testing.T) {
	packet := []byte{0xc0, 0xdb, 0x00, 0xff, 0xc0}
	var d SlipDecoder
	frames := d.Feed(SlipEncode(packet))
	if assert.Len(t, frames, 1) {
		assert.Equal(t, packet, frames[0])
	}
}

func TestSlipDecoderSplitAcrossReads(t *testing.T) {
	wire := append(SlipEncode([]byte{1, 2, 3}), SlipEncode([]byte{4, 0xc0})...)

	var d SlipDecoder
	var frames [][]byte
	for _, b := range wire {
		frames = append(frames, d.Feed([]byte{b})...)
	}
	assert.Equal(t, [][]byte{{1, 2, 3}, {4, 0xc0}}, frames)
}

func TestSlipDecoderDropsNoise(t *testing.T) {
	var d SlipDecoder
	wire := append([]byte("ets Jun  8 2016 00:22:57\r\n"), SlipEncode([]byte{9})...)
	frames := d.Feed(wire)
	assert.Equal(t, [][]byte{{9}}, frames)
}

func TestSlipDecoderDropsInvalidEscape(t *testing.T) {
	var d SlipDecoder
	frames := d.Feed([]byte{0xc0, 0x01, 0xdb, 0x42, 0xc0, 0xc0, 0x07, 0xc0})
	assert.Equal(t, [][]byte{{7}}, frames)
}

func TestSlipDecoderReset(t *testing.T) {
	var d SlipDecoder
	assert.Empty(t, d.Feed([]byte{0xc0, 0x01, 0x02}))
	d.Reset()
	assert.Empty(t, d.Feed([]byte{0x03, 0xc0}))
	assert.Equal(t, [][]byte{{5}}, d.Feed([]byte{0xc0, 0x05, 0xc0}))
}
