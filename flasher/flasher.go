// Package flasher sequences a firmware flash over the ROM loader protocol:
// connect, synchronize, detect, erase, write, verify and reset.
package flasher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mame82/espflash/esp"
)

var (
	ErrBusy             = errors.New("another operation is in progress")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotAuthorized    = errors.New("not authorized")
)

// Flasher drives one device at a time. Independent Flashers may drive
// different devices concurrently.
//
// Connect and Flash are not reentrant: a call made while another one runs
// fails with ErrBusy. Disconnect is always safe to call.
type Flasher struct {
	config Config
	log    *log.Entry
	lc     *lifecycle

	mu         sync.Mutex
	busy       bool
	state      State
	boot       Bootloader
	chip       esp.ChipFamily
	authorized bool
}

func New(t Transport, opts ...Option) *Flasher {
	if t == nil {
		panic("transport cannot be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	l := cfg.Logger.WithField("owner", cfg.Owner)
	return &Flasher{
		config: cfg,
		log:    l,
		lc: &lifecycle{
			transport: t,
			owner:     cfg.Owner,
			log:       l,
			reset:     cfg.BridgeReset,
		},
		authorized: cfg.Authorizer == nil,
	}
}

func (f *Flasher) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Chip is the family detected by the last successful Connect.
func (f *Flasher) Chip() esp.ChipFamily {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chip
}

func (f *Flasher) Owner() string { return f.config.Owner }

// Port is the name of the connected port, empty when disconnected.
func (f *Flasher) Port() string {
	if conn := f.lc.current(); conn != nil {
		return conn.Name()
	}
	return ""
}

func (f *Flasher) enter() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return ErrBusy
	}
	f.busy = true
	return nil
}

func (f *Flasher) leave() {
	f.mu.Lock()
	f.busy = false
	f.mu.Unlock()
}

func (f *Flasher) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// endFlash records the outcome unless a Disconnect happened meanwhile.
func (f *Flasher) endFlash(s State) {
	f.mu.Lock()
	if f.boot != nil {
		f.state = s
	}
	f.mu.Unlock()
}

// Connect selects and opens a device, synchronizes with its boot ROM and
// detects the chip. On failure everything acquired is released and the
// Flasher is back in StateIdle. Handles held by other owners are left open;
// closing those is up to ForceReleaseAll.
func (f *Flasher) Connect(ctx context.Context) error {
	if err := f.enter(); err != nil {
		return err
	}
	defer f.leave()

	if f.lc.current() != nil {
		return ErrAlreadyConnected
	}
	f.setState(StateConnecting)

	boot, chip, err := f.connect(ctx)
	if err != nil {
		f.lc.recoverFailedConnect(err)
		f.mu.Lock()
		f.boot = nil
		f.chip = esp.ChipUnknown
		f.state = StateIdle
		f.mu.Unlock()
		f.log.WithError(err).Error("connect failed")
		return err
	}

	f.mu.Lock()
	f.boot = boot
	f.chip = chip
	f.state = StateConnected
	f.mu.Unlock()
	f.log.WithField("chip", chip).Info("connected to boot ROM")
	return nil
}

func (f *Flasher) connect(ctx context.Context) (Bootloader, esp.ChipFamily, error) {
	conn, err := f.lc.acquire(ctx)
	if err != nil {
		return nil, esp.ChipUnknown, err
	}

	opts := append([]esp.Option{
		esp.WithLogger(f.log.WithField("port", conn.Name())),
		esp.WithSleep(f.config.Sleep),
	}, f.config.ClientOptions...)
	boot := f.config.NewBootloader(conn, opts...)

	if err := boot.Sync(ctx); err != nil {
		return nil, esp.ChipUnknown, err
	}

	chip, err := boot.DetectChip(ctx)
	var unknown *esp.UnknownChipError
	switch {
	case errors.As(err, &unknown) && f.config.AllowGenericChip:
		f.log.WithError(err).Warn("continuing with generic chip profile")
		chip = esp.ChipGeneric
	case err != nil:
		return nil, esp.ChipUnknown, err
	}

	if err := boot.AttachFlash(ctx); err != nil {
		return nil, esp.ChipUnknown, err
	}
	return boot, chip, nil
}

// Disconnect releases the device. It is a no-op when nothing is connected.
// Disconnecting during a flash makes that flash fail.
func (f *Flasher) Disconnect() error {
	err := f.lc.release()
	f.mu.Lock()
	f.boot = nil
	f.chip = esp.ChipUnknown
	f.state = StateIdle
	f.mu.Unlock()
	return err
}

// Reset hard resets the connected device into its application. The session
// stays open and the next Flash resynchronizes first.
func (f *Flasher) Reset() error {
	if err := f.enter(); err != nil {
		return err
	}
	defer f.leave()

	f.mu.Lock()
	boot := f.boot
	f.mu.Unlock()
	if boot == nil {
		return ErrNotConnected
	}
	return boot.HardReset()
}

// ForceReleaseAll closes every port handle of the process, including ones
// held by other Flashers, and resets known USB bridges if configured. It is
// the user triggered recovery from a busy port.
func (f *Flasher) ForceReleaseAll() (int, error) {
	n, err := f.lc.forceReleaseAll()
	f.mu.Lock()
	f.boot = nil
	f.chip = esp.ChipUnknown
	f.state = StateIdle
	f.mu.Unlock()
	return n, err
}

// Authorize validates credential for the configured device id. Flash fails
// with ErrNotAuthorized until it succeeded once.
func (f *Flasher) Authorize(ctx context.Context, credential string) error {
	if f.config.Authorizer == nil {
		return nil
	}
	res, err := f.config.Authorizer.Authorize(ctx, credential, f.config.DeviceID)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	if !res.OK {
		f.log.WithField("reason", res.Reason).Warn("authorization rejected")
		return fmt.Errorf("%w: %s", ErrNotAuthorized, res.Reason)
	}

	f.mu.Lock()
	f.authorized = true
	f.mu.Unlock()
	return nil
}

// Flash writes data to the connected device and reports progress to
// onProgress, which may be nil. It returns nil only if every chunk was
// acknowledged (and verified, if enabled).
//
// The device is hard reset after every attempt that reached it, whatever
// the outcome. Unless WithCancellation is set, ctx cancellation does not
// interrupt a running flash.
func (f *Flasher) Flash(ctx context.Context, data []byte, onProgress ProgressFunc) error {
	if err := f.enter(); err != nil {
		return err
	}
	defer f.leave()

	rep := &reporter{sink: onProgress}

	f.mu.Lock()
	boot, authorized := f.boot, f.authorized
	f.mu.Unlock()

	if !authorized {
		rep.fail(ErrNotAuthorized)
		return ErrNotAuthorized
	}
	if boot == nil || f.lc.current() == nil {
		rep.fail(ErrNotConnected)
		return ErrNotConnected
	}

	img, err := esp.NewImage(data)
	if err != nil {
		f.setState(StateFailed)
		rep.fail(err)
		return err
	}

	if !f.config.Cancellation {
		ctx = context.WithoutCancel(ctx)
	}

	f.setState(StateFlashing)
	l := f.log.WithField("image", img.String())
	l.Info("flashing")

	err = f.flash(ctx, boot, img, rep)

	if rerr := boot.HardReset(); rerr != nil {
		l.WithError(rerr).Warn("hard reset failed")
	}

	if err != nil {
		f.endFlash(StateFailed)
		l.WithError(err).Error("flash failed")
		rep.fail(err)
		return err
	}

	f.endFlash(StateFinished)
	l.Info("flash finished")
	rep.emit(StageFinished, percentFinished, "Flashed %d bytes, device reset", img.Len())
	return nil
}

func (f *Flasher) flash(ctx context.Context, boot Bootloader, img *esp.Image, rep *reporter) error {
	rep.total = img.Len()
	rep.emit(StagePreparing, 0, "Preparing %s", img)

	if !boot.Synchronized() {
		// the reset after a previous attempt left the ROM loader
		rep.emit(StagePreparing, 5, "Resynchronizing with boot ROM")
		if err := boot.Sync(ctx); err != nil {
			return err
		}
		if err := boot.AttachFlash(ctx); err != nil {
			return err
		}
	}

	region := img.Layout()
	rep.emit(StagePreparing, percentPrepared, "Writing %s image to %s", img.Kind(), region)

	if region.FullErase {
		rep.emit(StageErasing, percentErasing, "Erasing flash")
		if err := boot.EraseFlash(ctx); err != nil {
			return err
		}
	}

	rep.emit(StageWriting, percentWriteStart, "Writing %d bytes", img.Len())
	chunks := img.Chunks(f.config.ChunkSize)
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := boot.WriteChunk(ctx, c.Address, c.Data)
		if err != nil {
			return err
		}
		if n != len(c.Data) {
			return &esp.WriteError{Address: c.Address, Err: fmt.Errorf("device accepted %d of %d bytes", n, len(c.Data))}
		}
		rep.wrote(n, c.Address)

		if i < len(chunks)-1 && f.config.ChunkDelay > 0 {
			f.config.Sleep(f.config.ChunkDelay)
		}
	}

	if !f.config.Verify {
		rep.emit(StageVerifying, percentVerifying, "All blocks acknowledged")
		return nil
	}
	rep.emit(StageVerifying, percentVerifying, "Verifying MD5 of %s", region)
	return boot.VerifyMD5(ctx, region.Address, img.Bytes())
}
