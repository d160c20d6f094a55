package flasher

import (
	"context"

	"github.com/mame82/espflash/esp"
)

// Bootloader is the protocol client the orchestrator drives. *esp.Client
// implements it.
type Bootloader interface {
	Sync(ctx context.Context) error
	Synchronized() bool
	DetectChip(ctx context.Context) (esp.ChipFamily, error)
	AttachFlash(ctx context.Context) error
	EraseFlash(ctx context.Context) error
	WriteChunk(ctx context.Context, addr uint32, data []byte) (int, error)
	VerifyMD5(ctx context.Context, addr uint32, data []byte) error
	HardReset() error
}

// BootloaderFactory builds the protocol client for a freshly opened link.
type BootloaderFactory func(link esp.Link, opts ...esp.Option) Bootloader

func newClient(link esp.Link, opts ...esp.Option) Bootloader {
	return esp.NewClient(link, opts...)
}
