package transport

import (
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

type fakePort struct {
	mu      sync.Mutex
	in      chan []byte
	written []byte
	dtr     []bool
	rts     []bool
	closed  int
	timeout time.Duration

	failSignals bool
	failWrite   bool
}

func newFakePort() *fakePort {
	return &fakePort{in: make(chan []byte, 16)}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	closed := p.closed > 0
	p.mu.Unlock()
	if closed {
		return 0, errors.New("file already closed")
	}
	select {
	case data := <-p.in:
		return copy(b, data), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrite {
		return 0, errors.New("not writable")
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *fakePort) SetDTR(v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSignals {
		return errors.New("ioctl failed")
	}
	p.dtr = append(p.dtr, v)
	return nil
}

func (p *fakePort) SetRTS(v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSignals {
		return errors.New("ioctl failed")
	}
	p.rts = append(p.rts, v)
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	for {
		select {
		case <-p.in:
		default:
			return nil
		}
	}
}

func (p *fakePort) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeOpen hands out ports from a map and records the order of calls.
type fakeOpen struct {
	mu    sync.Mutex
	ports map[string]*fakePort
	err   error
	calls []string
}

func (f *fakeOpen) open(name string, mode *serial.Mode) (Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "open:"+name)
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.ports[name]
	if !ok {
		p = newFakePort()
		if f.ports == nil {
			f.ports = make(map[string]*fakePort)
		}
		f.ports[name] = p
	}
	return p, nil
}
