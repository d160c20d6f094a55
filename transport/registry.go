package transport

import "sync"

// Registry enforces one open handle per port name across every orchestrator
// of the process. Each handle carries an owner tag so an orchestrator can
// release the handles it leaked.
type Registry struct {
	mu   sync.Mutex
	open map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{open: make(map[string]*Handle)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is shared by Openers created without WithRegistry.
func DefaultRegistry() *Registry { return defaultRegistry }

func (r *Registry) add(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.open[h.name]; busy {
		return &PortError{Port: h.name, Kind: ErrDeviceBusy}
	}
	r.open[h.name] = h
	h.onClose = r.remove
	return nil
}

func (r *Registry) remove(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open[h.name] == h {
		delete(r.open, h.name)
	}
}

func (r *Registry) lookup(name string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[name]
}

// Held reports whether name is currently open.
func (r *Registry) Held(name string) bool { return r.lookup(name) != nil }

// ReleaseOwned closes every handle opened by owner and returns their number.
func (r *Registry) ReleaseOwned(owner string) int {
	return r.release(func(h *Handle) bool { return h.owner == owner })
}

// ReleaseAll closes every handle known to the registry.
func (r *Registry) ReleaseAll() int {
	return r.release(func(*Handle) bool { return true })
}

func (r *Registry) release(match func(*Handle) bool) int {
	r.mu.Lock()
	var victims []*Handle
	for _, h := range r.open {
		if match(h) {
			victims = append(victims, h)
		}
	}
	r.mu.Unlock()

	// Close calls back into remove, so the lock must not be held here
	for _, h := range victims {
		if err := h.Close(); err != nil {
			h.log.WithError(err).Warn("error closing stale port")
		}
	}
	return len(victims)
}
