// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"log/slog"
	"sync"
)

// DefaultSendBuffer is the per-client outbound queue depth when the
// caller does not configure one.
const DefaultSendBuffer = 256

// Subscriber is one client's view of the hub. The connection's writer
// goroutine drains C; the channel closes when the client detaches or
// overflows its queue, after which the writer should close the
// connection.
type Subscriber struct {
	// ID is the client id the subscription belongs to.
	ID string

	// C delivers events in publish order.
	C <-chan Envelope
}

type subscriber struct {
	ch     chan Envelope
	closed bool
}

// Hub fans events out to attached clients. Publish never blocks: each
// client has a bounded queue, and a client that lets its queue fill is
// detached (its channel closed) rather than allowed to stall everyone
// else. Safe for concurrent use.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu      sync.Mutex
	clients map[string]*subscriber
}

// NewHub creates a hub with the given per-client queue depth. A depth
// of zero means DefaultSendBuffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Hub{
		logger:  logger,
		buffer:  buffer,
		clients: make(map[string]*subscriber),
	}
}

// Attach subscribes a client. Any initial envelopes are queued before
// the client becomes visible to Publish, so a late joiner sees its
// document snapshot before any concurrently relayed event. Attaching
// an id that is already attached replaces the old subscription (its
// channel closes).
func (h *Hub) Attach(id string, initial ...Envelope) *Subscriber {
	ch := make(chan Envelope, h.buffer+len(initial))
	for _, env := range initial {
		ch <- env
	}

	h.mu.Lock()
	if old, ok := h.clients[id]; ok && !old.closed {
		close(old.ch)
	}
	h.clients[id] = &subscriber{ch: ch}
	h.mu.Unlock()

	return &Subscriber{ID: id, C: ch}
}

// Detach unsubscribes a client and closes its channel. No-op for
// unknown ids.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.clients[id]; ok {
		if !sub.closed {
			close(sub.ch)
		}
		delete(h.clients, id)
	}
}

// Publish delivers env to every attached client except senderID.
// Events published by one sender arrive at each receiver in publish
// order; no ordering holds across senders. Clients whose queues are
// full are detached.
func (h *Hub) Publish(senderID string, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.clients {
		if id == senderID || sub.closed {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			// The queue filled: this viewer is too slow to keep the
			// session realtime. Cut it loose; the whole relay must
			// not wait on one peer.
			sub.closed = true
			close(sub.ch)
			delete(h.clients, id)
			h.logger.Warn("dropping client with full send queue",
				"client_id", id,
				"event", env.Type,
			)
		}
	}
}

// Send delivers env to a single client. Returns false when the client
// is not attached or was detached for overflow.
func (h *Hub) Send(id string, env Envelope) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.clients[id]
	if !ok || sub.closed {
		return false
	}
	select {
	case sub.ch <- env:
		return true
	default:
		sub.closed = true
		close(sub.ch)
		delete(h.clients, id)
		h.logger.Warn("dropping client with full send queue",
			"client_id", id,
			"event", env.Type,
		)
		return false
	}
}

// Len returns the number of attached clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
