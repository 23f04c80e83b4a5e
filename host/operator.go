// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"time"

	"github.com/slatecast/slatecast/relay"
	"github.com/slatecast/slatecast/session"
)

// Approve grants the client edit rights, removing its pending request
// and announcing the approval. Approving an already-approved client
// is a no-op; ErrNoPendingRequest means the client neither holds edit
// rights nor has a request (the operator raced an expiry or a
// disconnect).
func (s *Server) Approve(clientID string) error {
	if _, ok := s.queue.Resolve(clientID, session.DecisionApprove); !ok {
		if s.registry.IsApproved(clientID) {
			return nil
		}
		return ErrNoPendingRequest
	}
	if err := s.registry.Approve(clientID); err != nil {
		// The client disconnected between Resolve and Approve.
		return ErrNoPendingRequest
	}

	s.hub.Send(clientID, relay.MustEnvelope(relay.EventConnectionStatus, relay.ConnectionStatus{
		Status:  "approved",
		CanEdit: true,
	}))
	s.hub.Publish("", relay.MustEnvelope(relay.EventAllowStudent, relay.AllowStudent{
		AllowedSID: clientID,
	}))
	s.logger.Info("edit permission granted", "client_id", clientID)
	return nil
}

// Reject refuses the client's pending request and disconnects it. The
// rejection notice is queued before the drop, so the writer flushes
// it before closing the socket. ErrNoPendingRequest means the request
// was already resolved or expired.
func (s *Server) Reject(clientID string) error {
	if _, ok := s.queue.Resolve(clientID, session.DecisionReject); !ok {
		return ErrNoPendingRequest
	}
	s.registry.Revoke(clientID)
	s.hub.Send(clientID, relay.MustEnvelope(relay.EventConnectionRejected, relay.ConnectionStatus{
		Status:  "rejected",
		Message: "the operator rejected your edit request",
	}))
	s.disconnectByID(clientID, "edit request rejected")
	s.logger.Info("edit permission rejected", "client_id", clientID)
	return nil
}

// ExpireStale sweeps the request queue and force-disconnects every
// client whose request outlived the TTL. Returns the number of
// clients dropped.
func (s *Server) ExpireStale() int {
	expired := s.queue.Sweep(s.clock.Now())
	for _, id := range expired {
		s.hub.Send(id, relay.MustEnvelope(relay.EventConnectionRejected, relay.ConnectionStatus{
			Status:  "expired",
			Message: "edit request timed out",
		}))
		s.disconnectByID(id, "edit request expired")
	}
	return len(expired)
}

// RunSweeper runs ExpireStale on the given cadence until ctx is
// cancelled.
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ExpireStale(); n > 0 {
				s.logger.Info("expired stale edit requests", "count", n)
			}
		}
	}
}

// Status is the operator status summary.
type Status struct {
	UptimeSeconds int64 `cbor:"uptime_seconds"`
	Clients       int   `cbor:"clients"`
	Approved      int   `cbor:"approved"`
	Pending       int   `cbor:"pending"`
}

// StatusSnapshot summarizes the session for the operator surface.
func (s *Server) StatusSnapshot() Status {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	var uptime int64
	if !startedAt.IsZero() {
		uptime = int64(s.clock.Now().Sub(startedAt) / time.Second)
	}
	return Status{
		UptimeSeconds: uptime,
		Clients:       s.registry.Count(),
		Approved:      s.registry.ApprovedCount(),
		Pending:       s.queue.Len(),
	}
}

// PendingRequest is one queued edit-permission request as the
// operator surface sees it.
type PendingRequest struct {
	ClientID   string `cbor:"client_id"`
	Origin     string `cbor:"origin"`
	Question   string `cbor:"question,omitempty"`
	Preview    string `cbor:"preview,omitempty"`
	AgeSeconds int64  `cbor:"age_seconds"`
}

// PendingRequests returns the queue in arrival order.
func (s *Server) PendingRequests() []PendingRequest {
	now := s.clock.Now()
	pending := s.queue.Pending()
	out := make([]PendingRequest, len(pending))
	for i, r := range pending {
		out[i] = PendingRequest{
			ClientID:   r.ClientID,
			Origin:     r.Origin,
			Question:   r.Question,
			Preview:    r.Preview(),
			AgeSeconds: int64(now.Sub(r.CreatedAt) / time.Second),
		}
	}
	return out
}

// ClientInfo is one connected client as the operator surface sees it.
type ClientInfo struct {
	ID             string `cbor:"id"`
	RemoteAddr     string `cbor:"remote_addr"`
	Approval       string `cbor:"approval"`
	ViewportWidth  int    `cbor:"viewport_width,omitempty"`
	ViewportHeight int    `cbor:"viewport_height,omitempty"`
	ConnectedUnix  int64  `cbor:"connected_unix"`
}

// Clients returns a snapshot of every connected client.
func (s *Server) Clients() []ClientInfo {
	sessions := s.registry.Sessions()
	out := make([]ClientInfo, len(sessions))
	for i, c := range sessions {
		out[i] = ClientInfo{
			ID:             c.ID,
			RemoteAddr:     c.RemoteAddr,
			Approval:       c.Approval.String(),
			ViewportWidth:  c.ViewportWidth,
			ViewportHeight: c.ViewportHeight,
			ConnectedUnix:  c.ConnectedAt.Unix(),
		}
	}
	return out
}
