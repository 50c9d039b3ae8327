// Package transport provides the in-process peer transport: a message
// bus connecting the endpoints of every node in one process. It stands
// in for the network layer in local mode and in tests, and it honors
// the same contract — delivery is at-least-once, so endpoints
// deduplicate received messages by ID.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

// inboxSize bounds how many undelivered messages a peer may hold.
const inboxSize = 256

// maxSeen bounds the dedup window per endpoint.
const maxSeen = 4096

// Bus connects endpoints by address.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewBus creates an empty message bus.
func NewBus() *Bus {
	return &Bus{endpoints: make(map[string]*Endpoint)}
}

// Endpoint attaches a node to the bus, creating its inbox on first
// call. Calling again with the same address returns the same endpoint.
func (b *Bus) Endpoint(addr string) *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ep, ok := b.endpoints[addr]; ok {
		return ep
	}
	ep := &Endpoint{
		addr:  addr,
		bus:   b,
		inbox: make(chan domain.Message, inboxSize),
		seen:  make(map[string]bool),
	}
	b.endpoints[addr] = ep
	return ep
}

// lookup returns the endpoint for addr, if attached.
func (b *Bus) lookup(addr string) (*Endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ep, ok := b.endpoints[addr]
	return ep, ok
}

// Endpoint is one node's connection to the bus.
type Endpoint struct {
	addr  string
	bus   *Bus
	inbox chan domain.Message

	mu   sync.Mutex
	seen map[string]bool // Message IDs already delivered
}

var _ domain.PeerTransport = (*Endpoint)(nil)

// Send delivers msg to the peer's inbox. Safe to retry: the receiver
// drops duplicates by message ID, so resending on an ambiguous failure
// can never double-deliver.
func (e *Endpoint) Send(ctx context.Context, peer string, msg domain.Message) error {
	target, ok := e.bus.lookup(peer)
	if !ok {
		return fmt.Errorf("send to %s: %w", peer, domain.ErrPeerUnknown)
	}

	msg.From = e.addr
	msg.To = peer
	select {
	case target.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a not-yet-seen message arrives or the context
// ends. Duplicate deliveries are consumed and skipped.
func (e *Endpoint) Receive(ctx context.Context) (domain.Message, error) {
	for {
		select {
		case msg := <-e.inbox:
			if e.markSeen(msg.ID) {
				return msg, nil
			}
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		}
	}
}

// markSeen records the ID and reports whether it was new. The seen set
// is cleared when it outgrows the dedup window; a duplicate arriving
// that much later is indistinguishable from a new message anyway.
func (e *Endpoint) markSeen(id string) bool {
	if id == "" {
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seen[id] {
		return false
	}
	if len(e.seen) >= maxSeen {
		e.seen = make(map[string]bool)
	}
	e.seen[id] = true
	return true
}

// Addr returns the endpoint's bus address.
func (e *Endpoint) Addr() string {
	return e.addr
}
