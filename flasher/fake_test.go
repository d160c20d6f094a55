package flasher

import (
	"context"
	"errors"
	"sync"

	"github.com/mame82/espflash/esp"
	"github.com/mame82/espflash/esp/esptest"
)

// fakeTransport hands out emulated devices and records releases.
type fakeTransport struct {
	mu       sync.Mutex
	openErr  []error // consumed one per Open
	opened   []*esptest.Device
	devOpts  []esptest.DeviceOption
	owned    int
	released int
}

func (t *fakeTransport) Open(ctx context.Context, owner string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.openErr) > 0 {
		err := t.openErr[0]
		t.openErr = t.openErr[1:]
		if err != nil {
			return nil, err
		}
	}
	dev := esptest.NewDevice("/dev/ttyUSB0", t.devOpts...)
	t.opened = append(t.opened, dev)
	return dev, nil
}

func (t *fakeTransport) ReleaseOwned(owner string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owned++
	return 0
}

func (t *fakeTransport) ReleaseAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, d := range t.opened {
		if !d.Closed() {
			d.Close()
			n++
		}
	}
	t.released++
	return n
}

func (t *fakeTransport) last() *esptest.Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened[len(t.opened)-1]
}

type writeCall struct {
	addr uint32
	n    int
}

// fakeBootloader records the calls the orchestrator makes.
type fakeBootloader struct {
	syncErr   error
	syncFails int // Sync calls that fail before succeeding
	detectErr error
	chip      esp.ChipFamily
	eraseErr  error
	failWrite int // 1-based index of the failing WriteChunk, 0 for none
	verifyErr error
	resetErr  error
	onWrite   func(i int)

	synced  bool
	syncs   int
	erases  int
	writes  []writeCall
	verifys int
	resets  int
	calls   []string
}

func (b *fakeBootloader) Sync(ctx context.Context) error {
	b.syncs++
	b.calls = append(b.calls, "sync")
	if b.syncErr != nil {
		return b.syncErr
	}
	if b.syncs <= b.syncFails {
		return &esp.SyncError{Attempts: 3, Err: esp.ErrTimeout}
	}
	b.synced = true
	return nil
}

func (b *fakeBootloader) Synchronized() bool { return b.synced }

func (b *fakeBootloader) DetectChip(ctx context.Context) (esp.ChipFamily, error) {
	b.calls = append(b.calls, "detect")
	if b.detectErr != nil {
		return esp.ChipGeneric, b.detectErr
	}
	if b.chip == esp.ChipUnknown {
		return esp.ChipESP32, nil
	}
	return b.chip, nil
}

func (b *fakeBootloader) AttachFlash(ctx context.Context) error {
	b.calls = append(b.calls, "attach")
	return nil
}

func (b *fakeBootloader) EraseFlash(ctx context.Context) error {
	b.erases++
	b.calls = append(b.calls, "erase")
	return b.eraseErr
}

func (b *fakeBootloader) WriteChunk(ctx context.Context, addr uint32, data []byte) (int, error) {
	b.calls = append(b.calls, "write")
	b.writes = append(b.writes, writeCall{addr: addr, n: len(data)})
	if b.onWrite != nil {
		b.onWrite(len(b.writes))
	}
	if len(b.writes) == b.failWrite {
		return 0, &esp.WriteError{Address: addr, Err: errors.New("flash write error")}
	}
	return len(data), nil
}

func (b *fakeBootloader) VerifyMD5(ctx context.Context, addr uint32, data []byte) error {
	b.verifys++
	b.calls = append(b.calls, "verify")
	return b.verifyErr
}

func (b *fakeBootloader) HardReset() error {
	b.resets++
	b.synced = false
	b.calls = append(b.calls, "reset")
	return b.resetErr
}

func (b *fakeBootloader) factory() BootloaderFactory {
	return func(esp.Link, ...esp.Option) Bootloader { return b }
}
