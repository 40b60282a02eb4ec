package rpc

import (
	"errors"
	"sync"
)

// ErrRegistryClosed is returned by Get after Close.
var ErrRegistryClosed = errors.New("engine registry is closed")

// Registry hands out one Engine per logical caller, so callers that run
// concurrently never share a worker pipe.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	engines map[string]*Engine
	closed  bool
}

// NewRegistry creates an empty registry whose engines all use cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		engines: make(map[string]*Engine),
	}
}

// Get returns the engine for key, creating it on first use.
func (r *Registry) Get(key string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	e, ok := r.engines[key]
	if !ok {
		e = NewEngine(r.cfg)
		r.engines[key] = e
	}
	return e, nil
}

// Len returns the number of engines created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Close stops every worker. It is safe to call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for _, e := range engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
