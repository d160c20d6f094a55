// Package esptest provides an in-memory ESP ROM loader for tests. Device
// implements esp.Link and answers requests the way the boot ROM does.
package esptest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/mame82/espflash/esp"
)

var ErrClosed = errors.New("device closed")

// Signal is one recorded SetSignals call.
type Signal struct {
	DTR bool
	RTS bool
}

type DeviceOption func(*Device)

// WithChip sets the family reported through the chip detect register. An
// ESP8266 also answers with the 2 byte status trailer of its ROM.
func WithChip(c esp.ChipFamily) DeviceOption {
	return func(d *Device) {
		if magic, err := esp.MagicFor(c); err == nil {
			d.magic = magic
		}
		d.statusLen = 0
		if c == esp.ChipESP8266 {
			d.statusLen = 2
		}
	}
}

// WithMagic sets a raw chip detect value, e.g. one no family maps to.
func WithMagic(magic uint32) DeviceOption {
	return func(d *Device) { d.magic = magic }
}

// WithSecurityChipID makes GET_SECURITY_INFO answer with id. Without it the
// command is rejected like on an ESP32 ROM.
func WithSecurityChipID(id uint32) DeviceOption {
	return func(d *Device) {
		d.securityID = id
		d.hasSecurityInfo = true
	}
}

// WithFlashSize sets the emulated flash size. Default is 4 MiB.
func WithFlashSize(size int) DeviceOption {
	return func(d *Device) { d.flash = bytes.Repeat([]byte{0xff}, size) }
}

// WithSilent makes the device never answer, like a board not in download mode.
func WithSilent() DeviceOption {
	return func(d *Device) { d.silent = true }
}

// WithSyncAfter ignores the first n sync probes.
func WithSyncAfter(n int) DeviceOption {
	return func(d *Device) { d.ignoreSyncs = n }
}

// WithSyncEchoes sets how many extra SYNC responses follow the first one.
// Real ROMs send several.
func WithSyncEchoes(n int) DeviceOption {
	return func(d *Device) { d.syncEchoes = n }
}

// WithROMErase makes ERASE_FLASH fail with "invalid message" as the ROM
// loaders do without a stub.
func WithROMErase() DeviceOption {
	return func(d *Device) { d.romErase = true }
}

// WithHangingErase never answers ERASE_FLASH.
func WithHangingErase() DeviceOption {
	return func(d *Device) { d.hangErase = true }
}

// WithFailingWriteAt fails the FLASH_DATA block covering addr.
func WithFailingWriteAt(addr uint32) DeviceOption {
	return func(d *Device) {
		d.failWriteAt = addr
		d.failWrite = true
	}
}

// WithFailingCommand answers every cmd with a failure status and code.
func WithFailingCommand(cmd esp.Command, code esp.ErrorCode) DeviceOption {
	return func(d *Device) { d.failing[cmd] = code }
}

// WithCorruptMD5 makes SPI_FLASH_MD5 report a wrong digest.
func WithCorruptMD5() DeviceOption {
	return func(d *Device) { d.corruptMD5 = true }
}

type Device struct {
	name string

	mu     sync.Mutex
	notify chan struct{}
	out    []byte
	dec    esp.SlipDecoder
	closed bool

	magic           uint32
	statusLen       int
	securityID      uint32
	hasSecurityInfo bool
	silent          bool
	ignoreSyncs     int
	syncEchoes      int
	romErase        bool
	hangErase       bool
	failWrite       bool
	failWriteAt     uint32
	corruptMD5      bool
	failing         map[esp.Command]esp.ErrorCode

	flash      []byte
	writeAddr  uint32
	deflAddr   uint32
	deflBlocks uint32
	deflBuf    bytes.Buffer

	commands   []esp.Command
	signals    []Signal
	syncProbes int
	resets     int
	fullErases int
	flushes    int
}

func NewDevice(name string, opts ...DeviceOption) *Device {
	d := &Device{
		name:       name,
		notify:     make(chan struct{}, 1),
		syncEchoes: 3,
		failing:    make(map[esp.Command]esp.ErrorCode),
		flash:      bytes.Repeat([]byte{0xff}, 4*1024*1024),
	}
	WithChip(esp.ChipESP32)(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) Name() string { return d.name }

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.wake()
	return nil
}

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) SetSignals(dtr, rts bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if n := len(d.signals); n > 0 && !dtr && !rts {
		if prev := d.signals[n-1]; !prev.DTR && prev.RTS {
			d.resets++
		}
	}
	d.signals = append(d.signals, Signal{DTR: dtr, RTS: rts})
	return nil
}

func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = nil
	d.flushes++
	return nil
}

// Inject queues raw bytes for the reader, e.g. a boot banner.
func (d *Device) Inject(p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = append(d.out, p...)
	d.wake()
}

func (d *Device) Read(ctx context.Context) ([]byte, error) {
	for {
		d.mu.Lock()
		if len(d.out) > 0 {
			p := d.out
			d.out = nil
			d.mu.Unlock()
			return p, nil
		}
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.notify:
		}
	}
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	for _, frame := range d.dec.Feed(p) {
		req := &esp.Request{}
		if err := req.FromWire(frame); err != nil {
			continue
		}
		d.commands = append(d.commands, req.Command)
		d.handle(req)
	}
	return len(p), nil
}

// wake must be called with mu held.
func (d *Device) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Device) reply(resp *esp.Response) {
	if resp.StatusLen == 0 {
		resp.StatusLen = d.statusLen
	}
	payload, err := resp.ToWire()
	if err != nil {
		return
	}
	d.out = append(d.out, esp.SlipEncode(payload)...)
	d.wake()
}

func (d *Device) fail(cmd esp.Command, code esp.ErrorCode) {
	d.reply(&esp.Response{Command: cmd, Status: 1, Error: code})
}

func (d *Device) handle(req *esp.Request) {
	if d.silent {
		return
	}
	if code, ok := d.failing[req.Command]; ok {
		d.fail(req.Command, code)
		return
	}

	switch req.Command {
	case esp.CommandSync:
		d.syncProbes++
		if d.syncProbes <= d.ignoreSyncs {
			return
		}
		for i := 0; i <= d.syncEchoes; i++ {
			d.reply(&esp.Response{Command: esp.CommandSync})
		}

	case esp.CommandReadReg:
		var value uint32
		if len(req.Data) >= 4 && binary.LittleEndian.Uint32(req.Data) == 0x40001000 {
			value = d.magic
		}
		d.reply(&esp.Response{Command: req.Command, Value: value})

	case esp.CommandGetSecurityInfo:
		if !d.hasSecurityInfo {
			d.fail(req.Command, esp.ErrorCodeInvalidMessage)
			return
		}
		data := make([]byte, 20)
		binary.LittleEndian.PutUint32(data[12:16], d.securityID)
		d.reply(&esp.Response{Command: req.Command, Data: data})

	case esp.CommandSPIAttach:
		d.reply(&esp.Response{Command: req.Command})

	case esp.CommandEraseFlash:
		if d.hangErase {
			return
		}
		if d.romErase {
			d.fail(req.Command, esp.ErrorCodeInvalidMessage)
			return
		}
		d.eraseAll()
		d.reply(&esp.Response{Command: req.Command})

	case esp.CommandFlashBegin:
		d.flashBegin(req)

	case esp.CommandFlashData:
		d.flashData(req)

	case esp.CommandFlashDeflBegin:
		d.deflBegin(req)

	case esp.CommandFlashDeflData:
		d.deflData(req)

	case esp.CommandSPIFlashMD5:
		d.md5(req)

	default:
		d.fail(req.Command, esp.ErrorCodeInvalidMessage)
	}
}

func (d *Device) eraseAll() {
	for i := range d.flash {
		d.flash[i] = 0xff
	}
	d.fullErases++
}

func (d *Device) flashBegin(req *esp.Request) {
	if len(req.Data) < 16 {
		d.fail(req.Command, esp.ErrorCodeInvalidMessage)
		return
	}
	eraseSize := binary.LittleEndian.Uint32(req.Data[0:4])
	numBlocks := binary.LittleEndian.Uint32(req.Data[4:8])
	offset := binary.LittleEndian.Uint32(req.Data[12:16])

	if int(offset)+int(eraseSize) > len(d.flash) {
		d.fail(req.Command, esp.ErrorCodeFailedToAct)
		return
	}
	if numBlocks == 0 && offset == 0 && int(eraseSize) == len(d.flash) {
		d.eraseAll()
	} else {
		for i := offset; i < offset+eraseSize; i++ {
			d.flash[i] = 0xff
		}
	}
	d.writeAddr = offset
	d.reply(&esp.Response{Command: req.Command})
}

func (d *Device) flashData(req *esp.Request) {
	if len(req.Data) < 16 {
		d.fail(req.Command, esp.ErrorCodeInvalidMessage)
		return
	}
	size := binary.LittleEndian.Uint32(req.Data[0:4])
	seq := binary.LittleEndian.Uint32(req.Data[4:8])
	block := req.Data[16:]
	if int(size) != len(block) {
		d.fail(req.Command, esp.ErrorCodeInvalidMessage)
		return
	}
	if esp.Checksum(block) != req.Checksum {
		d.fail(req.Command, esp.ErrorCodeInvalidCRC)
		return
	}

	addr := d.writeAddr + seq*uint32(len(block))
	if d.failWrite && d.failWriteAt >= addr && d.failWriteAt < addr+uint32(len(block)) {
		d.fail(req.Command, esp.ErrorCodeFlashWrite)
		return
	}
	if int(addr)+len(block) > len(d.flash) {
		d.fail(req.Command, esp.ErrorCodeFlashWrite)
		return
	}
	copy(d.flash[addr:], block)
	d.reply(&esp.Response{Command: req.Command})
}

func (d *Device) deflBegin(req *esp.Request) {
	if len(req.Data) < 16 {
		d.fail(req.Command, esp.ErrorCodeInvalidMessage)
		return
	}
	writeSize := binary.LittleEndian.Uint32(req.Data[0:4])
	d.deflBlocks = binary.LittleEndian.Uint32(req.Data[4:8])
	d.deflAddr = binary.LittleEndian.Uint32(req.Data[12:16])
	d.deflBuf.Reset()

	if int(d.deflAddr)+int(writeSize) > len(d.flash) {
		d.fail(req.Command, esp.ErrorCodeFailedToAct)
		return
	}
	for i := d.deflAddr; i < d.deflAddr+writeSize; i++ {
		d.flash[i] = 0xff
	}
	d.reply(&esp.Response{Command: req.Command})
}

func (d *Device) deflData(req *esp.Request) {
	if len(req.Data) < 16 {
		d.fail(req.Command, esp.ErrorCodeInvalidMessage)
		return
	}
	seq := binary.LittleEndian.Uint32(req.Data[4:8])
	block := req.Data[16:]
	if esp.Checksum(block) != req.Checksum {
		d.fail(req.Command, esp.ErrorCodeInvalidCRC)
		return
	}
	d.deflBuf.Write(block)

	if seq+1 == d.deflBlocks {
		zr, err := zlib.NewReader(bytes.NewReader(d.deflBuf.Bytes()))
		if err != nil {
			d.fail(req.Command, esp.ErrorCodeDeflate)
			return
		}
		plain, err := io.ReadAll(zr)
		if err != nil || int(d.deflAddr)+len(plain) > len(d.flash) {
			d.fail(req.Command, esp.ErrorCodeDeflate)
			return
		}
		copy(d.flash[d.deflAddr:], plain)
	}
	d.reply(&esp.Response{Command: req.Command})
}

func (d *Device) md5(req *esp.Request) {
	if len(req.Data) < 8 {
		d.fail(req.Command, esp.ErrorCodeInvalidMessage)
		return
	}
	addr := binary.LittleEndian.Uint32(req.Data[0:4])
	size := binary.LittleEndian.Uint32(req.Data[4:8])
	if int(addr)+int(size) > len(d.flash) {
		d.fail(req.Command, esp.ErrorCodeFlashReadLen)
		return
	}
	sum := md5.Sum(d.flash[addr : addr+size])
	if d.corruptMD5 {
		sum[0] ^= 0xff
	}
	d.reply(&esp.Response{Command: req.Command, Data: []byte(hex.EncodeToString(sum[:]))})
}

// Flash returns a copy of n bytes of flash starting at addr.
func (d *Device) Flash(addr uint32, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, n)
	copy(out, d.flash[addr:])
	return out
}

func (d *Device) Commands() []esp.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]esp.Command(nil), d.commands...)
}

// CommandCount counts received requests of type cmd.
func (d *Device) CommandCount(cmd esp.Command) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

func (d *Device) Signals() []Signal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Signal(nil), d.signals...)
}

// Resets counts hard reset pulses: RTS asserted alone, then both released.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

func (d *Device) SyncProbes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncProbes
}

func (d *Device) FullErases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullErases
}

func (d *Device) Flushes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes
}
