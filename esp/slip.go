package esp

import "bytes"

// SLIP framing as used by the ROM loader: every packet is wrapped in 0xC0
// and occurrences of 0xC0/0xDB inside the packet are escaped.
const (
	slipEnd    byte = 0xc0
	slipEsc    byte = 0xdb
	slipEscEnd byte = 0xdc
	slipEscEsc byte = 0xdd
)

// SlipEncode wraps a raw packet into a single SLIP frame.
func SlipEncode(packet []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(packet)+8))
	buf.WriteByte(slipEnd)
	for _, b := range packet {
		switch b {
		case slipEnd:
			buf.Write([]byte{slipEsc, slipEscEnd})
		case slipEsc:
			buf.Write([]byte{slipEsc, slipEscEsc})
		default:
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(slipEnd)
	return buf.Bytes()
}

// SlipDecoder accumulates bytes from the link and hands out complete frames.
// Bytes received outside of a frame (boot messages printed by the ROM, line
// noise) are dropped.
type SlipDecoder struct {
	buf     []byte
	inFrame bool
	escaped bool
	invalid bool
}

// Feed appends received bytes and returns every frame completed by them.
// Frames that contained an invalid escape sequence are discarded.
func (d *SlipDecoder) Feed(data []byte) (frames [][]byte) {
	for _, b := range data {
		if !d.inFrame {
			if b == slipEnd {
				d.inFrame = true
				d.buf = d.buf[:0]
				d.escaped = false
				d.invalid = false
			}
			continue
		}

		if d.escaped {
			d.escaped = false
			switch b {
			case slipEscEnd:
				d.buf = append(d.buf, slipEnd)
			case slipEscEsc:
				d.buf = append(d.buf, slipEsc)
			default:
				d.invalid = true
			}
			continue
		}

		switch b {
		case slipEsc:
			d.escaped = true
		case slipEnd:
			if len(d.buf) == 0 {
				// back-to-back delimiters, treat the second one as a new start
				continue
			}
			if !d.invalid {
				frame := make([]byte, len(d.buf))
				copy(frame, d.buf)
				frames = append(frames, frame)
			}
			d.inFrame = false
			d.buf = d.buf[:0]
		default:
			d.buf = append(d.buf, b)
		}
	}
	return frames
}

// Reset drops any partially received frame.
func (d *SlipDecoder) Reset() {
	d.buf = d.buf[:0]
	d.inFrame = false
	d.escaped = false
	d.invalid = false
}
