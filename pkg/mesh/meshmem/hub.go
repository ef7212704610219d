// Package meshmem provides an in-process mesh: a Hub connecting any
// number of endpoints by physical address, with synchronous delivery.
// It backs tests and multi-node simulations inside one binary.
package meshmem

import (
	"errors"
	"sync"

	"github.com/loom-protocol/loom-go/pkg/mesh"
)

// ErrAddrTaken indicates the physical address is already joined.
var ErrAddrTaken = errors.New("meshmem: address already joined")

// Hub connects endpoints and routes frames between them.
type Hub struct {
	mu        sync.Mutex
	endpoints map[uint32]*Endpoint
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{endpoints: make(map[uint32]*Endpoint)}
}

// Join attaches a new endpoint with the given physical address.
func (h *Hub) Join(addr uint32) (*Endpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, taken := h.endpoints[addr]; taken {
		return nil, ErrAddrTaken
	}
	ep := &Endpoint{hub: h, addr: addr}
	h.endpoints[addr] = ep
	return ep, nil
}

// deliver routes a frame. Broadcast frames reach every endpoint except
// the sender; unicast frames reach the addressed endpoint if joined.
// Delivery is synchronous: the receiver hook runs on the caller's
// goroutine, which keeps single-node tests deterministic.
func (h *Hub) deliver(src, dst uint32, frame []byte) {
	h.mu.Lock()
	var targets []*Endpoint
	if dst == mesh.BroadcastAddr {
		for addr, ep := range h.endpoints {
			if addr != src {
				targets = append(targets, ep)
			}
		}
	} else if ep, ok := h.endpoints[dst]; ok {
		targets = append(targets, ep)
	}
	h.mu.Unlock()

	for _, ep := range targets {
		ep.receive(src, frame)
	}
}

// Endpoint is one node's attachment to a Hub.
type Endpoint struct {
	hub  *Hub
	addr uint32

	mu       sync.Mutex
	receiver mesh.ReceiveFunc
	closed   bool
}

// SelfAddr returns the endpoint's physical address.
func (e *Endpoint) SelfAddr() uint32 {
	return e.addr
}

// Send routes a frame through the hub. The frame is copied so the caller
// may reuse its buffer (the packet pool does).
func (e *Endpoint) Send(dstPhy uint32, frame []byte) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	e.hub.deliver(e.addr, dstPhy, cp)
}

// SetReceiver installs the receive hook.
func (e *Endpoint) SetReceiver(fn mesh.ReceiveFunc) {
	e.mu.Lock()
	e.receiver = fn
	e.mu.Unlock()
}

// Close detaches the endpoint from the hub.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.receiver = nil
	e.mu.Unlock()

	e.hub.mu.Lock()
	delete(e.hub.endpoints, e.addr)
	e.hub.mu.Unlock()
	return nil
}

func (e *Endpoint) receive(src uint32, frame []byte) {
	e.mu.Lock()
	fn := e.receiver
	e.mu.Unlock()
	if fn != nil {
		fn(src, frame)
	}
}

// Compile-time interface satisfaction check.
var _ mesh.Transport = (*Endpoint)(nil)
