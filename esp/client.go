package esp

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
	log "github.com/sirupsen/logrus"
)

// Link is the part of a transport handle the client needs. The client never
// keeps a reference to the link beyond the session that created it.
type Link interface {
	Write(p []byte) (int, error)
	// Read suspends until bytes arrive or ctx is done.
	Read(ctx context.Context) ([]byte, error)
	SetSignals(dtr, rts bool) error
	// Flush discards buffered input.
	Flush() error
}

// Client speaks the ROM loader protocol over a Link.
//
// A Client starts unsynchronized. Sync moves it to synchronized, HardReset
// moves it back. Erase, write and checksum commands fail with
// ErrNotSynchronized until Sync succeeded.
//
// Client is not safe for concurrent use.
type Client struct {
	link    Link
	config  Config
	log     *log.Entry
	dec     SlipDecoder
	pending [][]byte
	synced  bool
	chip    ChipFamily

	// statusLen is the response trailer length learned from the SYNC
	// reply, 0 until then.
	statusLen int
}

func NewClient(link Link, opts ...Option) *Client {
	if link == nil {
		panic("link cannot be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		link:   link,
		config: cfg,
		log:    cfg.Logger,
	}
}

func (c *Client) Synchronized() bool { return c.synced }

func (c *Client) Chip() ChipFamily { return c.chip }

// EnterBootloader pulses DTR/RTS so that the chip resets with IO0 held low
// (classic auto-reset circuit: DTR drives IO0, RTS drives EN, both inverted).
func (c *Client) EnterBootloader() error {
	steps := []struct {
		dtr, rts bool
		hold     time.Duration
	}{
		{false, true, c.config.ResetHold}, // IO0 high, EN low: chip in reset
		{true, false, c.config.BootHold},  // IO0 low, EN high: boot into ROM loader
		{false, false, 0},                 // release IO0
	}
	for _, s := range steps {
		if err := c.link.SetSignals(s.dtr, s.rts); err != nil {
			return fmt.Errorf("set signals: %w", err)
		}
		if s.hold > 0 {
			c.config.Sleep(s.hold)
		}
	}
	return nil
}

// HardReset takes the chip out of the bootloader into its application. The
// session is unsynchronized afterwards, whatever the outcome.
func (c *Client) HardReset() error {
	c.synced = false
	if err := c.link.SetSignals(false, true); err != nil {
		return fmt.Errorf("assert reset: %w", err)
	}
	c.config.Sleep(c.config.ResetHold)
	if err := c.link.SetSignals(false, false); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}
	c.config.Sleep(c.config.BootHold)
	c.log.Debug("hard reset issued")
	return nil
}

// Sync tries to synchronize with the boot ROM, re-arming the boot strap
// sequence before every attempt, up to Config.SyncAttempts attempts.
func (c *Client) Sync(ctx context.Context) error {
	c.synced = false
	c.statusLen = 0
	var lastErr error

	for attempt := 1; attempt <= c.config.SyncAttempts; attempt++ {
		l := c.log.WithField("attempt", attempt)

		if err := c.EnterBootloader(); err != nil {
			// the user may be holding the BOOT strap by hand, keep probing
			l.WithError(err).Warn("could not pulse boot strap signals")
		}
		c.discardInput()

		err := c.syncOnce(ctx)
		if err == nil {
			c.synced = true
			c.pending = nil
			l.Debug("boot ROM synchronized")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		l.WithError(err).Debug("sync attempt failed")
	}

	return &SyncError{Attempts: c.config.SyncAttempts, Err: lastErr}
}

func (c *Client) syncOnce(ctx context.Context) error {
	resp, err := c.command(ctx, NewRequest(CommandSync, SyncData()), c.config.SyncTimeout)
	if err != nil {
		return err
	}
	c.statusLen = resp.StatusLen
	if c.statusLen == esp8266StatusLen {
		c.log.Debug("ESP8266 ROM status trailer")
	}
	return nil
}

// DetectChip reads the chip detect register and maps it to a family. Newer
// chips without a magic value are identified through GET_SECURITY_INFO.
// An UnknownChipError leaves the session synchronized with ChipGeneric.
func (c *Client) DetectChip(ctx context.Context) (ChipFamily, error) {
	if !c.synced {
		return ChipUnknown, ErrNotSynchronized
	}

	resp, err := c.command(ctx, NewRequest(CommandReadReg, readRegData(chipDetectMagicReg)), c.config.CommandTimeout)
	if err != nil {
		return ChipUnknown, fmt.Errorf("read chip detect register: %w", err)
	}

	magic := resp.Value
	chip := ChipFromMagic(magic)
	if chip == ChipUnknown {
		if id, err := c.securityInfoChipID(ctx); err == nil {
			chip = ChipFromID(id)
		} else {
			c.log.WithError(err).Debug("security info not available")
		}
	}

	if chip == ChipUnknown {
		c.chip = ChipGeneric
		return ChipGeneric, &UnknownChipError{Magic: magic}
	}

	c.chip = chip
	c.log.WithField("chip", chip).Debug("chip detected")
	return chip, nil
}

func (c *Client) securityInfoChipID(ctx context.Context) (uint32, error) {
	resp, err := c.command(ctx, NewRequest(CommandGetSecurityInfo, nil), c.config.CommandTimeout)
	if err != nil {
		return 0, err
	}
	// flags(4) crypt count(1) key purposes(7) chip id(4) api version(4)
	if len(resp.Data) < 20 {
		return 0, fmt.Errorf("security info without chip id (%d bytes)", len(resp.Data))
	}
	return binary.LittleEndian.Uint32(resp.Data[12:16]), nil
}

// AttachFlash attaches the SPI flash, required by the ROM loaders of the
// ESP32 family before any flash command.
func (c *Client) AttachFlash(ctx context.Context) error {
	if !c.synced {
		return ErrNotSynchronized
	}
	if c.chip == ChipESP8266 {
		return nil
	}
	if _, err := c.command(ctx, NewRequest(CommandSPIAttach, spiAttachData()), c.config.CommandTimeout); err != nil {
		return fmt.Errorf("attach SPI flash: %w", err)
	}
	return nil
}

// EraseFlash erases the whole chip. It may run for tens of seconds and uses
// Config.EraseTimeout instead of the command timeout.
func (c *Client) EraseFlash(ctx context.Context) error {
	if !c.synced {
		return ErrNotSynchronized
	}

	_, err := c.command(ctx, NewRequest(CommandEraseFlash, nil), c.config.EraseTimeout)

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == ErrorCodeInvalidMessage {
		// ROM loaders only know ERASE_FLASH once a stub runs
		c.log.WithField("size", c.config.FlashSize).Info("ROM rejected chip erase, erasing through FLASH_BEGIN")
		begin := flashBeginData(uint32(c.config.FlashSize), 0, FlashBlockSize, 0, c.chip.needsEncryptedFlag())
		_, err = c.command(ctx, NewRequest(CommandFlashBegin, begin), c.config.EraseTimeout)
	}

	if errors.Is(err, ErrTimeout) {
		return &EraseTimeoutError{Timeout: c.config.EraseTimeout}
	}
	if err != nil {
		return fmt.Errorf("erase flash: %w", err)
	}
	return nil
}

// WriteChunk writes data at addr with one FLASH_BEGIN followed by block
// writes. FLASH_BEGIN erases the covered sectors first. It returns the number
// of image bytes the device acknowledged.
func (c *Client) WriteChunk(ctx context.Context, addr uint32, data []byte) (int, error) {
	if !c.synced {
		return 0, ErrNotSynchronized
	}
	if len(data) == 0 {
		return 0, nil
	}
	if c.config.Compress {
		return c.writeDeflated(ctx, addr, data)
	}

	numBlocks := (len(data) + FlashBlockSize - 1) / FlashBlockSize
	eraseSize := (len(data) + FlashSectorSize - 1) / FlashSectorSize * FlashSectorSize

	begin := flashBeginData(uint32(eraseSize), uint32(numBlocks), FlashBlockSize, addr, c.chip.needsEncryptedFlag())
	if _, err := c.command(ctx, NewRequest(CommandFlashBegin, begin), c.config.BeginTimeout); err != nil {
		return 0, &WriteError{Address: addr, Err: err}
	}

	written := 0
	for seq := 0; seq < numBlocks; seq++ {
		start := seq * FlashBlockSize
		end := start + FlashBlockSize
		if end > len(data) {
			end = len(data)
		}

		block := bytes.Repeat([]byte{0xff}, FlashBlockSize)
		copy(block, data[start:end])

		req := NewDataRequest(CommandFlashData, flashBlockData(block, uint32(seq)), block)
		if _, err := c.command(ctx, req, c.config.CommandTimeout); err != nil {
			return written, &WriteError{Address: addr + uint32(start), Err: err}
		}
		written += end - start
	}

	c.log.WithFields(log.Fields{
		"address": fmt.Sprintf("%#x", addr),
		"bytes":   written,
	}).Trace("chunk written")
	return written, nil
}

func (c *Client) writeDeflated(ctx context.Context, addr uint32, data []byte) (int, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return 0, &WriteError{Address: addr, Err: err}
	}
	if _, err := zw.Write(data); err != nil {
		return 0, &WriteError{Address: addr, Err: err}
	}
	if err := zw.Close(); err != nil {
		return 0, &WriteError{Address: addr, Err: err}
	}
	compressed := buf.Bytes()

	numBlocks := (len(compressed) + FlashBlockSize - 1) / FlashBlockSize
	eraseBlocks := (len(data) + FlashBlockSize - 1) / FlashBlockSize
	writeSize := uint32(eraseBlocks * FlashBlockSize)

	begin := flashBeginData(writeSize, uint32(numBlocks), FlashBlockSize, addr, c.chip.needsEncryptedFlag())
	if _, err := c.command(ctx, NewRequest(CommandFlashDeflBegin, begin), c.config.BeginTimeout); err != nil {
		return 0, &WriteError{Address: addr, Err: err}
	}

	for seq := 0; seq < numBlocks; seq++ {
		start := seq * FlashBlockSize
		end := start + FlashBlockSize
		if end > len(compressed) {
			end = len(compressed)
		}
		block := compressed[start:end]
		req := NewDataRequest(CommandFlashDeflData, flashBlockData(block, uint32(seq)), block)
		if _, err := c.command(ctx, req, c.config.CommandTimeout); err != nil {
			return 0, &WriteError{Address: addr, Err: err}
		}
	}
	return len(data), nil
}

// VerifyMD5 asks the device for the MD5 of the flash region starting at addr
// and compares it with the digest of data.
func (c *Client) VerifyMD5(ctx context.Context, addr uint32, data []byte) error {
	if !c.synced {
		return ErrNotSynchronized
	}

	timeout := time.Duration(float64(c.config.MD5TimeoutPerMB) * float64(len(data)) / (1024 * 1024))
	if timeout < c.config.CommandTimeout {
		timeout = c.config.CommandTimeout
	}

	resp, err := c.command(ctx, NewRequest(CommandSPIFlashMD5, md5Data(addr, uint32(len(data)))), timeout)
	if err != nil {
		return fmt.Errorf("read flash MD5: %w", err)
	}

	var actual string
	switch {
	case len(resp.Data) >= 32:
		// ROM loaders answer with the hex digest as ASCII
		actual = strings.ToLower(string(resp.Data[:32]))
	case len(resp.Data) == 16:
		actual = hex.EncodeToString(resp.Data)
	default:
		return fmt.Errorf("unexpected MD5 response length %d", len(resp.Data))
	}

	sum := md5.Sum(data)
	expected := hex.EncodeToString(sum[:])
	if actual != expected {
		return &VerifyError{Address: addr, Expected: expected, Actual: actual}
	}
	return nil
}

// command sends req and waits for the response to the same command.
func (c *Client) command(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	payload, err := req.ToWire()
	if err != nil {
		return nil, err
	}
	if _, err := c.link.Write(SlipEncode(payload)); err != nil {
		return nil, fmt.Errorf("write %s: %w", req.Command, err)
	}

	resp, err := c.readResponse(ctx, req.Command, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return resp, &CommandError{Command: req.Command, Status: resp.Status, Code: resp.Error}
	}
	return resp, nil
}

// readResponse returns the next response to cmd. Responses to other commands
// (late sync echoes, garbage) are skipped.
func (c *Client) readResponse(ctx context.Context, cmd Command, timeout time.Duration) (*Response, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		for len(c.pending) > 0 {
			frame := c.pending[0]
			c.pending = c.pending[1:]

			resp := &Response{}
			if err := c.parse(resp, frame); err != nil {
				c.log.WithError(err).Trace("dropping frame")
				continue
			}
			if resp.Command != cmd {
				continue
			}
			return resp, nil
		}

		data, err := c.link.Read(rctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%s: %w", cmd, ErrTimeout)
			}
			return nil, fmt.Errorf("read %s response: %w", cmd, err)
		}
		c.pending = append(c.pending, c.dec.Feed(data)...)
	}
}

func (c *Client) parse(resp *Response, frame []byte) error {
	if c.statusLen == 0 {
		return resp.FromWire(frame)
	}
	return resp.FromWireStatus(frame, c.statusLen)
}

func (c *Client) discardInput() {
	if err := c.link.Flush(); err != nil {
		c.log.WithError(err).Debug("flush input")
	}
	c.dec.Reset()
	c.pending = nil
}
