// Package transport owns the serial link to the target: exclusive open,
// control line pulses and a cancellable read.
package transport

import (
	"time"

	"go.bug.st/serial"
)

// Port is the part of serial.Port the transport uses.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	ResetInputBuffer() error
}

// OpenFunc opens the named port. The default is serial.Open.
type OpenFunc func(name string, mode *serial.Mode) (Port, error)

func openSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Capabilities is probed once when a port is opened.
type Capabilities struct {
	Readable    bool
	Writable    bool
	Signals     bool
	ReadTimeout bool
}

func (c Capabilities) ReadWrite() bool { return c.Readable && c.Writable }

// ProbeCapabilities checks what the opened port supports. Both control
// lines are left released, which keeps an attached chip running.
func ProbeCapabilities(p Port) Capabilities {
	var caps Capabilities
	caps.ReadTimeout = p.SetReadTimeout(pollInterval) == nil
	caps.Readable = caps.ReadTimeout && p.ResetInputBuffer() == nil
	_, err := p.Write(nil)
	caps.Writable = err == nil
	caps.Signals = p.SetDTR(false) == nil && p.SetRTS(false) == nil
	return caps
}
