package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// pollInterval bounds a single blocking read so Read can observe ctx and Close.
const pollInterval = 50 * time.Millisecond

// Handle is an exclusively owned, open port. It is closed exactly once;
// further Close calls are no-ops.
type Handle struct {
	name  string
	baud  int
	owner string
	port  Port
	caps  Capabilities
	log   *log.Entry

	readBuf []byte
	closed  atomic.Bool
	once    sync.Once
	onClose func(*Handle)
}

func newHandle(name string, baud int, owner string, port Port, caps Capabilities, l *log.Entry) *Handle {
	return &Handle{
		name:    name,
		baud:    baud,
		owner:   owner,
		port:    port,
		caps:    caps,
		log:     l.WithField("port", name),
		readBuf: make([]byte, 4096),
	}
}

func (h *Handle) Name() string { return h.name }

func (h *Handle) Baud() int { return h.baud }

func (h *Handle) Owner() string { return h.owner }

func (h *Handle) Capabilities() Capabilities { return h.caps }

func (h *Handle) IsClosed() bool { return h.closed.Load() }

func (h *Handle) SetSignals(dtr, rts bool) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if !h.caps.Signals {
		return ErrNoSignals
	}
	if err := h.port.SetDTR(dtr); err != nil {
		return fmt.Errorf("set DTR: %w", err)
	}
	if err := h.port.SetRTS(rts); err != nil {
		return fmt.Errorf("set RTS: %w", err)
	}
	h.log.WithFields(log.Fields{"dtr": dtr, "rts": rts}).Trace("signals")
	return nil
}

// Read blocks until data arrives, ctx is done or the handle is closed. A
// closed handle reads io.EOF.
func (h *Handle) Read(ctx context.Context) ([]byte, error) {
	for {
		if h.closed.Load() {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := h.port.Read(h.readBuf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, h.readBuf[:n])
			return out, nil
		}
		if err != nil {
			if h.closed.Load() {
				return nil, io.EOF
			}
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", h.name, err)
		}
		// n == 0 and no error: read timeout elapsed
	}
}

// Write sends all of p. The serial driver blocks while its buffer is full.
func (h *Handle) Write(p []byte) (int, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := h.port.Write(p[written:])
		written += n
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return written, fmt.Errorf("write %s: %w", h.name, err)
		}
	}
	return written, nil
}

// Flush drops unread input.
func (h *Handle) Flush() error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.port.ResetInputBuffer()
}

func (h *Handle) Close() (err error) {
	h.once.Do(func() {
		h.closed.Store(true)
		err = h.port.Close()
		if h.onClose != nil {
			h.onClose(h)
		}
		h.log.Debug("port closed")
	})
	return err
}
