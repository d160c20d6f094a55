package flasher

import (
	"context"

	"github.com/mame82/espflash/esp"
	"github.com/mame82/espflash/transport"
)

// Conn is an open, exclusively owned link.
type Conn interface {
	esp.Link
	Name() string
	Close() error
}

// Transport acquires links and releases the ones left behind.
type Transport interface {
	// Open must invoke the device selection before any other work.
	Open(ctx context.Context, owner string) (Conn, error)
	// ReleaseOwned closes the handles owner still holds.
	ReleaseOwned(owner string) int
	// ReleaseAll closes every handle of the process.
	ReleaseAll() int
}

// SerialTransport opens serial ports chosen by a transport.Selector.
type SerialTransport struct {
	opener   *transport.Opener
	selector transport.Selector
}

func NewSerialTransport(opener *transport.Opener, sel transport.Selector) *SerialTransport {
	return &SerialTransport{opener: opener, selector: sel}
}

func (t *SerialTransport) Open(ctx context.Context, owner string) (Conn, error) {
	h, err := t.opener.Open(ctx, t.selector, owner)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (t *SerialTransport) ReleaseOwned(owner string) int {
	return t.opener.Registry().ReleaseOwned(owner)
}

func (t *SerialTransport) ReleaseAll() int {
	return t.opener.Registry().ReleaseAll()
}
