package node

import (
	"context"
	"net"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/ergo-services/erldist/dist"
)

var (
	// ErrInProgress is returned when an outbound attempt to the node is running already.
	ErrInProgress = errors.New("connection attempt is in progress")
	// ErrClosed is returned when the registry doesn't take new connections anymore.
	ErrClosed = errors.New("registry is closed")
)

// Registry keeps the authenticated connections and the outbound connection
// attempts of the node, at most one of each per peer name. Every operation
// is atomic with respect to all the others.
type Registry struct {
	mu       sync.Mutex
	active   map[string]net.Conn
	outbound map[string]*Outbound
	closed   bool
}

// NewRegistry
func NewRegistry() *Registry {
	return &Registry{
		active:   make(map[string]net.Conn),
		outbound: make(map[string]*Outbound),
	}
}

// Outbound is a running outbound connection attempt.
type Outbound struct {
	name     string
	registry *Registry
	ctx      context.Context
	cancel   context.CancelCauseFunc
}

// Context is cancelled when the attempt is abandoned. The cause is
// dist.ErrRaceLost if a simultaneous incoming connection won.
func (o *Outbound) Context() context.Context {
	return o.ctx
}

// Complete removes the attempt from the registry unless it has been
// replaced or cancelled already.
func (o *Outbound) Complete() {
	o.registry.mu.Lock()
	defer o.registry.mu.Unlock()
	o.registry.completeOutbound(o)
}

// Establish turns the attempt into the active connection. It fails if the
// attempt has been cancelled meanwhile, the conn stays with the caller then.
func (o *Outbound) Establish(conn net.Conn) error {
	r := o.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.WithStack(ErrClosed)
	}
	if r.outbound[o.name] != o {
		if cause := context.Cause(o.ctx); cause != nil {
			return errors.WithStack(cause)
		}
		return errors.WithStack(dist.ErrRaceLost)
	}
	r.completeOutbound(o)
	r.installActive(o.name, conn)
	return nil
}

// TryBeginOutbound registers an outbound attempt to the node. The returned
// attempt holds a context derived from ctx.
func (r *Registry) TryBeginOutbound(ctx context.Context, name string) (*Outbound, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.WithStack(ErrClosed)
	}
	if _, exists := r.outbound[name]; exists {
		return nil, errors.Wrapf(ErrInProgress, "connecting to %q", name)
	}
	o := &Outbound{
		name:     name,
		registry: r,
	}
	o.ctx, o.cancel = context.WithCancelCause(ctx)
	r.outbound[name] = o
	return o, nil
}

// CompleteOutbound clears the outbound attempt to the node.
func (r *Registry) CompleteOutbound(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, exists := r.outbound[name]; exists {
		r.completeOutbound(o)
	}
}

func (r *Registry) completeOutbound(o *Outbound) {
	if r.outbound[o.name] == o {
		delete(r.outbound, o.name)
	}
	// releases the context resources, no-op if cancelled already
	o.cancel(nil)
}

// CancelInProgress cancels the outbound attempt to the node with the
// dist.ErrRaceLost cause and removes it.
func (r *Registry) CancelInProgress(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelInProgress(name)
}

func (r *Registry) cancelInProgress(name string) bool {
	o, exists := r.outbound[name]
	if !exists {
		return false
	}
	delete(r.outbound, name)
	o.cancel(dist.ErrRaceLost)
	return true
}

// IsInProgress
func (r *Registry) IsInProgress(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.outbound[name]
	return exists
}

// IsActive
func (r *Registry) IsActive(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.active[name]
	return exists
}

// InstallActive makes conn the active connection to the node. The previous
// one is closed first. After Close the conn is closed right away.
func (r *Registry) InstallActive(name string, conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		conn.Close()
		return
	}
	r.installActive(name, conn)
}

func (r *Registry) installActive(name string, conn net.Conn) {
	if old, exists := r.active[name]; exists {
		if old == conn {
			return
		}
		old.Close()
	}
	r.active[name] = conn
}

// RemoveActive closes and removes the active connection to the node.
func (r *Registry) RemoveActive(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, exists := r.active[name]
	if !exists {
		return false
	}
	delete(r.active, name)
	conn.Close()
	return true
}

// detach works like RemoveActive but only while conn is still the active one.
func (r *Registry) detach(name string, conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[name] != conn {
		return false
	}
	delete(r.active, name)
	conn.Close()
	return true
}

// Decide picks the status for an incoming handshake from the node peer.
// If the outbound attempt to the same node has to give way, it is cancelled
// before Decide returns.
func (r *Registry) Decide(own, peer string) dist.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return dist.StatusNotAllowed
	case r.active[peer] != nil:
		return dist.StatusAlive
	case r.outbound[peer] != nil:
		if own > peer {
			return dist.StatusNok
		}
		r.cancelInProgress(peer)
		return dist.StatusOkSimultaneous
	}
	return dist.StatusOk
}

// ActiveNames returns the sorted names of the connected nodes.
func (r *Registry) ActiveNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all the active connections and cancels all the outbound
// attempts. The registry rejects everything afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for name, conn := range r.active {
		delete(r.active, name)
		conn.Close()
	}
	for name, o := range r.outbound {
		delete(r.outbound, name)
		o.cancel(ErrClosed)
	}
}
