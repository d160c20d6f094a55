package esp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotSynchronized is returned by flash commands issued before Sync succeeded.
	ErrNotSynchronized = errors.New("bootloader session not synchronized")
	// ErrTimeout is returned when the ROM did not answer within the command timeout.
	ErrTimeout = errors.New("timeout waiting for bootloader response")
	// ErrEmptyImage rejects zero length firmware before any device interaction.
	ErrEmptyImage = errors.New("firmware image is empty")
)

// SyncError means the boot ROM could not be reached within the retry ceiling.
type SyncError struct {
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("failed to synchronize with boot ROM after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// UnknownChipError means the chip detect value did not match a known family.
// The session is still synchronized and usable with a generic profile.
type UnknownChipError struct {
	Magic uint32
}

func (e *UnknownChipError) Error() string {
	return fmt.Sprintf("unknown chip (detect value %#08x)", e.Magic)
}

// EraseTimeoutError means the whole chip erase did not complete in time.
type EraseTimeoutError struct {
	Timeout time.Duration
}

func (e *EraseTimeoutError) Error() string {
	return fmt.Sprintf("flash erase did not complete within %v", e.Timeout)
}

func (e *EraseTimeoutError) Unwrap() error { return ErrTimeout }

// WriteError reports a failed block write at Address.
type WriteError struct {
	Address uint32
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write at %#x failed: %v", e.Address, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CommandError is a non-success status reported by the ROM for Command.
type CommandError struct {
	Command Command
	Status  byte
	Code    ErrorCode
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: status %#02x (%s)", e.Command, e.Status, e.Code)
}

// VerifyError is a mismatch between the device side digest and the image.
type VerifyError struct {
	Address  uint32
	Expected string
	Actual   string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("MD5 mismatch at %#x: expected %s, device reports %s", e.Address, e.Expected, e.Actual)
}
