// Package registry holds the set of live proxies by name.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/rom8726/faultproxy/internal/proxy"
)

// ErrAlreadyExists is returned by Create when name is already registered.
type ErrAlreadyExists struct {
	Name string
}

func (e *ErrAlreadyExists) Error() string {
	return "proxy already exists: " + e.Name
}

// MetricsFactory scopes a process-wide metrics handle down to one proxy
// name. Satisfied by *metrics.Registry.
type MetricsFactory interface {
	ForProxy(name string) proxy.Metrics
}

// Registry is the name → *proxy.Proxy map backing the control plane.
// All operations serialize through a single mutex; the critical section
// never performs I/O — listener binds happen after the lock is released.
type Registry struct {
	metrics MetricsFactory
	logger  *slog.Logger

	mu      sync.Mutex
	proxies map[string]*proxy.Proxy
}

// New builds an empty Registry. metrics scopes a fresh handle to each
// created proxy; callers typically pass a *metrics.Registry.
func New(metrics MetricsFactory, logger *slog.Logger) *Registry {
	return &Registry{
		metrics: metrics,
		logger:  logger,
		proxies: make(map[string]*proxy.Proxy),
	}
}

// Create registers and starts a new proxy listening on listenAddr and
// forwarding to upstreamAddr. Returns *ErrAlreadyExists if name is taken.
func (r *Registry) Create(ctx context.Context, name, listenAddr, upstreamAddr string) (*proxy.Proxy, error) {
	r.mu.Lock()
	if _, exists := r.proxies[name]; exists {
		r.mu.Unlock()

		return nil, &ErrAlreadyExists{Name: name}
	}
	p := proxy.New(name, listenAddr, upstreamAddr, r.metrics.ForProxy(name), r.logger)
	r.proxies[name] = p
	r.mu.Unlock()

	if err := p.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.proxies, name)
		r.mu.Unlock()

		return nil, err
	}

	return p, nil
}

// Delete stops and removes the named proxy. Reports whether it existed.
func (r *Registry) Delete(name string) bool {
	r.mu.Lock()
	p, ok := r.proxies[name]
	if ok {
		delete(r.proxies, name)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	p.Stop()

	return true
}

// Get returns the named proxy, if it exists.
func (r *Registry) Get(name string) (*proxy.Proxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proxies[name]

	return p, ok
}

// List returns a snapshot of every registered proxy's summary, sorted by
// name for stable listing output.
func (r *Registry) List() []proxy.Summary {
	r.mu.Lock()
	names := make([]string, 0, len(r.proxies))
	snapshot := make(map[string]*proxy.Proxy, len(r.proxies))
	for name, p := range r.proxies {
		names = append(names, name)
		snapshot[name] = p
	}
	r.mu.Unlock()

	sort.Strings(names)

	out := make([]proxy.Summary, 0, len(names))
	for _, name := range names {
		out = append(out, snapshot[name].Summarize())
	}

	return out
}

// Len returns the number of registered proxies.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.proxies)
}

// StopAll stops every registered proxy, used during process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	proxies := make([]*proxy.Proxy, 0, len(r.proxies))
	for _, p := range r.proxies {
		proxies = append(proxies, p)
	}
	r.mu.Unlock()

	for _, p := range proxies {
		p.Stop()
	}
}
