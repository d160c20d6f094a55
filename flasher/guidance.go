package flasher

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mame82/espflash/esp"
	"github.com/mame82/espflash/transport"
)

// Guidance turns a failure into a message telling the user what to do
// about it. Platform error codes are never shown verbatim.
func Guidance(err error) string {
	var (
		syncErr    *esp.SyncError
		unknownErr *esp.UnknownChipError
		eraseErr   *esp.EraseTimeoutError
		writeErr   *esp.WriteError
		verifyErr  *esp.VerifyError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, transport.ErrNoDeviceSelected):
		return "No device selected. Connect the board and choose its serial port."
	case errors.Is(err, transport.ErrPermissionDenied):
		return "Access to the serial port was denied. Add your user to the dialout (or uucp) group, or reconnect the board and allow access."
	case errors.Is(err, transport.ErrDeviceBusy):
		return "The serial port is in use. Close other software holding it (serial monitors, IDEs, other flashers) or run release-ports."
	case errors.Is(err, transport.ErrPortNotFound):
		return "The serial port disappeared. Reconnect the USB cable and select the port again."
	case errors.Is(err, transport.ErrNotReadWrite):
		return "The serial port cannot be read or written. Unplug the board, plug it back in and retry."
	case errors.As(err, &syncErr):
		return fmt.Sprintf("The boot ROM did not answer after %d attempts. Hold the BOOT button, press and release RESET, then retry. A charge-only USB cable also causes this.", syncErr.Attempts)
	case errors.As(err, &unknownErr):
		return "The chip could not be identified. Make sure the board carries an ESP32 family chip."
	case errors.As(err, &eraseErr):
		return "Erasing the flash did not finish in time. Power cycle the board and retry."
	case errors.As(err, &verifyErr):
		return "The flash contents do not match the firmware. Retry, and check the power supply if it keeps failing."
	case errors.As(err, &writeErr):
		return fmt.Sprintf("Writing to flash failed at %#x. Check the USB cable and power supply, then retry.", writeErr.Address)
	case errors.Is(err, esp.ErrEmptyImage):
		return "The firmware file is empty. Download or select it again."
	case errors.Is(err, ErrNotAuthorized):
		return "Flashing is locked. Enter a valid key first."
	case errors.Is(err, ErrNotConnected):
		return "No device connected. Connect first."
	case errors.Is(err, ErrBusy):
		return "Another operation is still running. Wait for it to finish."
	case errors.Is(err, io.EOF), errors.Is(err, transport.ErrClosed):
		return "The connection to the board was lost. Reconnect it and retry."
	case errors.Is(err, context.Canceled):
		return "Flashing was cancelled. Reset the board before using it."
	case errors.Is(err, esp.ErrTimeout):
		return "The board stopped answering. Reconnect it and retry."
	}
	return err.Error()
}
