package flasher

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mame82/espflash/transport"
)

// lifecycle owns the one connection of a Flasher and makes sure it is
// released on every exit path.
type lifecycle struct {
	transport Transport
	owner     string
	log       *log.Entry
	reset     BridgeResetFunc

	mu   sync.Mutex
	conn Conn
}

func (l *lifecycle) current() Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *lifecycle) acquire(ctx context.Context) (Conn, error) {
	conn, err := l.transport.Open(ctx, l.owner)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = conn
	l.log.WithField("port", conn.Name()).Info("device connected")
	return conn, nil
}

// release closes the held connection. Calling it with nothing held is a no-op.
func (l *lifecycle) release() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		l.log.WithError(err).WithField("port", conn.Name()).Warn("error closing port")
		return err
	}
	l.log.WithField("port", conn.Name()).Debug("device released")
	return nil
}

// recoverFailedConnect tears down after a failed connect and closes any other
// handle this owner leaked, so the next connect does not run into a busy port.
func (l *lifecycle) recoverFailedConnect(cause error) {
	l.release()
	if n := l.transport.ReleaseOwned(l.owner); n > 0 {
		l.log.WithField("handles", n).Info("released stale handles")
	}
	if errors.Is(cause, transport.ErrDeviceBusy) {
		l.log.Warn("port is held elsewhere, force releasing all ports may help")
	}
}

// forceReleaseAll closes every handle of the process and, if configured,
// resets the USB bridges.
func (l *lifecycle) forceReleaseAll() (int, error) {
	l.release()
	n := l.transport.ReleaseAll()
	l.log.WithField("handles", n).Info("released all ports")

	if l.reset == nil {
		return n, nil
	}
	reset, err := l.reset(l.log)
	return n + reset, err
}
