package transport

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// DefaultBaud is the rate every ESP boot ROM starts with.
const DefaultBaud = 115200

type Opener struct {
	baud     int
	registry *Registry
	open     OpenFunc
	log      *log.Entry
}

type OpenerOption func(*Opener)

func WithBaud(baud int) OpenerOption {
	return func(o *Opener) {
		if baud > 0 {
			o.baud = baud
		}
	}
}

func WithRegistry(r *Registry) OpenerOption {
	return func(o *Opener) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithOpenFunc replaces serial.Open, e.g. with a fake port in tests.
func WithOpenFunc(f OpenFunc) OpenerOption {
	return func(o *Opener) {
		if f != nil {
			o.open = f
		}
	}
}

func WithOpenerLogger(l *log.Entry) OpenerOption {
	return func(o *Opener) {
		if l != nil {
			o.log = l
		}
	}
}

func NewOpener(opts ...OpenerOption) *Opener {
	o := &Opener{
		baud:     DefaultBaud,
		registry: DefaultRegistry(),
		open:     openSerial,
		log:      log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Opener) Registry() *Registry { return o.registry }

// Open asks sel for a device and opens it exclusively for owner.
//
// sel is called first, before any other work: host platforms only grant
// port access from within the user interaction that made the choice.
func (o *Opener) Open(ctx context.Context, sel Selector, owner string) (*Handle, error) {
	info, err := sel.Select()
	if err != nil {
		if errors.Is(err, ErrNoDeviceSelected) {
			return nil, err
		}
		return nil, &PortError{Kind: ErrNoDeviceSelected, Err: err}
	}
	if info.Name == "" {
		return nil, ErrNoDeviceSelected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := o.log.WithFields(log.Fields{"port": info.Name, "owner": owner})

	if held := o.registry.lookup(info.Name); held != nil {
		if held.owner != owner {
			return nil, &PortError{Port: info.Name, Kind: ErrDeviceBusy}
		}
		// left open by an earlier session of the same owner
		l.Info("closing stale handle on selected port")
		if err := held.Close(); err != nil {
			l.WithError(err).Warn("error closing stale handle")
		}
	}

	mode := &serial.Mode{BaudRate: o.baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := o.open(info.Name, mode)
	if err != nil {
		return nil, mapOpenError(info.Name, err)
	}

	caps := ProbeCapabilities(port)
	if !caps.ReadWrite() {
		port.Close()
		return nil, &PortError{Port: info.Name, Kind: ErrNotReadWrite}
	}

	h := newHandle(info.Name, o.baud, owner, port, caps, o.log)
	if err := o.registry.add(h); err != nil {
		port.Close()
		return nil, err
	}

	l.WithFields(log.Fields{
		"baud":    o.baud,
		"signals": caps.Signals,
	}).Debug("port opened")
	return h, nil
}
