package transport

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

var (
	ErrNoDeviceSelected = errors.New("no device selected")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceBusy       = errors.New("device busy")
	ErrPortNotFound     = errors.New("port not found")
	ErrNotReadWrite     = errors.New("port is not readable and writable")
	ErrNoSignals        = errors.New("port does not support DTR/RTS control")
	ErrClosed           = errors.New("port closed")
)

// PortError is an open failure on Port. Kind is one of the sentinel errors
// above, Err the platform error it was mapped from.
type PortError struct {
	Port string
	Kind error
	Err  error
}

func (e *PortError) Error() string {
	msg := e.Kind.Error()
	if e.Port != "" {
		msg = e.Port + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	return msg
}

func (e *PortError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// codedError matches *serial.PortError.
type codedError interface {
	error
	Code() serial.PortErrorCode
}

// mapOpenError turns the serial library's error codes into the sentinels
// callers match on. Unrecognized errors are returned wrapped but unmapped.
func mapOpenError(name string, err error) error {
	var coded codedError
	if !errors.As(err, &coded) {
		return fmt.Errorf("open %s: %w", name, err)
	}

	switch coded.Code() {
	case serial.PortBusy:
		return &PortError{Port: name, Kind: ErrDeviceBusy, Err: err}
	case serial.PermissionDenied:
		return &PortError{Port: name, Kind: ErrPermissionDenied, Err: err}
	case serial.PortNotFound, serial.InvalidSerialPort:
		return &PortError{Port: name, Kind: ErrPortNotFound, Err: err}
	}
	return fmt.Errorf("open %s: %w", name, err)
}
