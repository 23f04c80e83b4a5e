// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// Package session holds the shared mutable state of a whiteboard
// session: the client registry, the edit-permission request queue, and
// the document state. Each component guards its own state with a
// mutex; nothing here exposes a raw container across goroutines.
package session

import (
	"sync"
	"time"

	"github.com/slatecast/slatecast/lib/clock"
)

// Approval is a client's edit-permission state.
type Approval int

const (
	// ApprovalNone means the client is view-only and has no request
	// in flight.
	ApprovalNone Approval = iota
	// ApprovalPending means the client has an unresolved
	// edit-permission request.
	ApprovalPending
	// ApprovalApproved means the client may emit stroke, page, and
	// document events.
	ApprovalApproved
)

// String returns the wire spelling of an approval state.
func (a Approval) String() string {
	switch a {
	case ApprovalPending:
		return "pending"
	case ApprovalApproved:
		return "approved"
	default:
		return "view-only"
	}
}

// ClientSession is one connected client as the registry sees it.
// Values returned from the registry are copies; mutation goes through
// registry methods only.
type ClientSession struct {
	// ID is the host-assigned opaque connection id.
	ID string

	// RemoteAddr is the client's network origin, for operator display.
	RemoteAddr string

	// Approval is the client's current edit-permission state.
	Approval Approval

	// ViewportWidth and ViewportHeight are the last-known client
	// viewport, zero until the client registers one.
	ViewportWidth  int
	ViewportHeight int

	// ConnectedAt is when the client registered.
	ConnectedAt time.Time
}

// Registry is the authoritative set of connected clients. All methods
// are safe for concurrent use.
type Registry struct {
	clock          clock.Clock
	rejectCooldown time.Duration

	mu       sync.Mutex
	sessions map[string]*ClientSession

	// rejectedAt tracks rejection times by remote address while a
	// cooldown is configured. Swept lazily on Register.
	rejectedAt map[string]time.Time
}

// NewRegistry creates an empty registry. rejectCooldown of zero
// disables the rejection cooldown.
func NewRegistry(clk clock.Clock, rejectCooldown time.Duration) *Registry {
	return &Registry{
		clock:          clk,
		rejectCooldown: rejectCooldown,
		sessions:       make(map[string]*ClientSession),
		rejectedAt:     make(map[string]time.Time),
	}
}

// Register creates a view-only session for the client. Returns
// ErrDuplicateClient when the id is already present and
// ErrRejectCooldown when the address was rejected more recently than
// the configured cooldown.
func (r *Registry) Register(id, remoteAddr string) (ClientSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok {
		return *existing, ErrDuplicateClient
	}

	if r.rejectCooldown > 0 {
		now := r.clock.Now()
		if rejected, ok := r.rejectedAt[remoteAddr]; ok {
			if now.Sub(rejected) < r.rejectCooldown {
				return ClientSession{}, ErrRejectCooldown
			}
			delete(r.rejectedAt, remoteAddr)
		}
	}

	s := &ClientSession{
		ID:          id,
		RemoteAddr:  remoteAddr,
		Approval:    ApprovalNone,
		ConnectedAt: r.clock.Now(),
	}
	r.sessions[id] = s
	return *s, nil
}

// Approve grants the client edit rights. The caller pairs this with
// removing any pending request from the queue.
func (r *Registry) Approve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrUnknownClient
	}
	s.Approval = ApprovalApproved
	return nil
}

// MarkPending records that the client has an edit-permission request
// in flight. No-op for approved or unknown clients.
func (r *Registry) MarkPending(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok && s.Approval != ApprovalApproved {
		s.Approval = ApprovalPending
	}
}

// Revoke returns the client to view-only. Used on rejection when the
// client stays connected. Records the rejection time for the cooldown
// when one is configured. No-op for unknown clients.
func (r *Registry) Revoke(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}
	s.Approval = ApprovalNone
	if r.rejectCooldown > 0 {
		r.rejectedAt[s.RemoteAddr] = r.clock.Now()
	}
}

// Unregister removes the session and its viewport metadata. No-op for
// unknown clients (disconnect paths may race). The caller purges any
// pending request separately.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// SetViewport updates the last-known viewport. Unknown ids are
// ignored, not an error: viewport updates race disconnects.
func (r *Registry) SetViewport(id string, width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.ViewportWidth = width
		s.ViewportHeight = height
	}
}

// IsApproved reports whether the client currently holds edit rights.
func (r *Registry) IsApproved(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	return ok && s.Approval == ApprovalApproved
}

// Contains reports whether the client is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Count returns the number of connected clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ApprovedCount returns the number of clients holding edit rights.
func (r *Registry) ApprovedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.sessions {
		if s.Approval == ApprovalApproved {
			n++
		}
	}
	return n
}

// Sessions returns a copied snapshot of all sessions. Order is not
// guaranteed; callers sort for display.
func (r *Registry) Sessions() []ClientSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ClientSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}
