// Package inproc implements the multiplexed transport contract as a
// process-wide registry of named channels, for deployments where every
// session lives in one OS process: tests and single-node embedded mode.
package inproc

import (
	"context"
	"sync"

	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/transport"
)

type message struct {
	payload []byte
	from    string
}

// Registry is a process-wide transport.Transport implementation. The
// zero value is not usable; construct with New.
type Registry struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{endpoints: make(map[string]*Endpoint)}
}

// Endpoint implements transport.Transport.
func (r *Registry) Endpoint(ctx context.Context, name string) (transport.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ep, ok := r.endpoints[name]; ok {
		return ep, nil
	}
	ep := &Endpoint{
		registry: r,
		name:     name,
		inbox:    make(chan message, 64),
		closed:   make(chan struct{}),
	}
	r.endpoints[name] = ep
	return ep, nil
}

func (r *Registry) lookup(name string) (*Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

func (r *Registry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, name)
}

// Endpoint is a named, in-process mailbox.
type Endpoint struct {
	registry *Registry
	name     string
	inbox    chan message

	closeOnce sync.Once
	closed    chan struct{}
}

// Send implements transport.Endpoint. If the named peer has no endpoint
// registered, Send fails with TransportUnavailable; the exchange manager
// treats this the same as any other best-effort send failure.
func (e *Endpoint) Send(ctx context.Context, remote string, payload []byte) error {
	peer, ok := e.registry.lookup(remote)
	if !ok {
		return coorderr.TransportUnavailable("no endpoint registered for " + remote)
	}

	select {
	case peer.inbox <- message{payload: payload, from: e.name}:
		return nil
	case <-peer.closed:
		return coorderr.TransportUnavailable("peer endpoint closed")
	case <-ctx.Done():
		return coorderr.Canceled()
	}
}

// Receive implements transport.Endpoint.
func (e *Endpoint) Receive(ctx context.Context) ([]byte, string, error) {
	select {
	case msg := <-e.inbox:
		return msg.payload, msg.from, nil
	case <-e.closed:
		return nil, "", coorderr.TransportUnavailable("endpoint closed")
	case <-ctx.Done():
		return nil, "", coorderr.Canceled()
	}
}

// LocalAddress implements transport.Endpoint.
func (e *Endpoint) LocalAddress() string {
	return e.name
}

// Close implements transport.Endpoint.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.registry.remove(e.name)
	})
	return nil
}

var (
	_ transport.Transport = (*Registry)(nil)
	_ transport.Endpoint  = (*Endpoint)(nil)
)
