// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// Package host runs a whiteboard session: it owns the client-facing
// relay listener, the operator control socket, the document upload
// endpoint, and the edit-permission sweep loop. The session, relay,
// and docstore packages hold the state; host wires them to the
// network.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slatecast/slatecast/lib/clock"
	"github.com/slatecast/slatecast/lib/codec"
	"github.com/slatecast/slatecast/lib/netutil"
	"github.com/slatecast/slatecast/relay"
	"github.com/slatecast/slatecast/session"
)

// ErrNoPendingRequest is returned by Approve and Reject when the
// client has no pending request: the operator raced an expiry, a
// disconnect, or another operator.
var ErrNoPendingRequest = errors.New("host: client has no pending request")

// Options configures a Server. Zero values take defaults.
type Options struct {
	// ListenAddr is the TCP address for client connections. ":0"
	// picks a free port (tests).
	ListenAddr string

	// SendBuffer is the per-client outbound queue depth.
	SendBuffer int

	// RequestTTL bounds how long an edit-permission request may wait
	// for an operator decision.
	RequestTTL time.Duration

	// RejectCooldown blocks re-registration from rejected addresses.
	// Zero disables the cooldown.
	RejectCooldown time.Duration

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the client-facing session host. One reader goroutine per
// connection decodes the inbound CBOR event stream; one writer
// goroutine drains the relay hub queue back to the socket.
type Server struct {
	logger   *slog.Logger
	clock    clock.Clock
	addr     string
	registry *session.Registry
	queue    *session.RequestQueue
	document *session.Document
	hub      *relay.Hub

	mu        sync.Mutex
	conns     map[string]*client
	listener  net.Listener
	startedAt time.Time

	connections sync.WaitGroup
}

// client is the per-connection bookkeeping the server keeps outside
// the registry: the socket itself and the once-only teardown guard.
type client struct {
	id         string
	remoteAddr string
	conn       net.Conn
	drop       sync.Once
}

// NewServer assembles a session host around shared session state.
func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	registry := session.NewRegistry(opts.Clock, opts.RejectCooldown)
	return &Server{
		logger:   opts.Logger,
		clock:    opts.Clock,
		addr:     opts.ListenAddr,
		registry: registry,
		queue:    session.NewRequestQueue(opts.RequestTTL, registry.IsApproved),
		document: session.NewDocument(),
		hub:      relay.NewHub(opts.SendBuffer, opts.Logger),
		conns:    make(map[string]*client),
	}
}

// Document exposes the shared document state for the upload endpoint.
func (s *Server) Document() *session.Document { return s.document }

// Hub exposes the relay hub for host-originated broadcasts.
func (s *Server) Hub() *relay.Hub { return s.hub }

// Addr returns the bound listen address, valid once Serve has
// started. Tests listen on ":0" and read the port back from here.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts client connections until ctx is cancelled, then
// closes every live connection and waits for their goroutines.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("host: listening on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.startedAt = s.clock.Now()
	s.mu.Unlock()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("session host listening", "addr", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			s.handleConnection(conn)
		}()
	}

	for _, c := range s.snapshotConns() {
		s.dropClient(c, "server shutdown")
	}
	s.connections.Wait()
	return nil
}

func (s *Server) snapshotConns() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// handleConnection registers the client, replays the document
// snapshot, starts the writer, and runs the read loop until the
// connection drops.
func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}

	id := uuid.NewString()
	if _, err := s.registry.Register(id, remoteAddr); err != nil {
		// Only the cooldown can refuse a fresh uuid.
		s.logger.Info("refusing connection", "remote", remoteAddr, "error", err)
		encoder := codec.NewEncoder(conn)
		encoder.Encode(relay.MustEnvelope(relay.EventConnectionStatus, relay.ConnectionStatus{
			Status:  "rejected",
			Message: "a recent edit request from this address was rejected",
		}))
		conn.Close()
		return
	}

	c := &client{id: id, remoteAddr: remoteAddr, conn: conn}
	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	// The status greeting and the document snapshot are queued
	// before the client is visible to Publish, so a late joiner
	// always sees the snapshot before any concurrently relayed
	// event.
	sub := s.hub.Attach(id,
		relay.MustEnvelope(relay.EventConnectionStatus, relay.ConnectionStatus{
			Status: "connected",
		}),
		relay.SyncEnvelope(s.document.Snapshot()),
	)

	s.logger.Info("client connected", "client_id", id, "remote", remoteAddr)

	go s.writeLoop(c, sub)
	s.readLoop(c)
}

// writeLoop drains the hub subscription onto the socket. The channel
// closes when the client detaches or overflows its queue; buffered
// events (a final connection_rejected, say) still drain first.
func (s *Server) writeLoop(c *client, sub *relay.Subscriber) {
	encoder := codec.NewEncoder(c.conn)
	for env := range sub.C {
		if err := encoder.Encode(env); err != nil {
			if !netutil.IsExpectedCloseError(err) {
				s.logger.Warn("write failed", "client_id", c.id, "error", err)
			}
			break
		}
	}
	// Closing the socket here, after the drain, is what lets a final
	// buffered event (connection_rejected) reach the client. It also
	// unblocks the read loop.
	c.conn.Close()
	s.dropClient(c, "write side closed")
}

// readLoop decodes inbound envelopes until the stream ends.
func (s *Server) readLoop(c *client) {
	decoder := codec.NewDecoder(c.conn)
	for {
		var env relay.Envelope
		if err := decoder.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) && !netutil.IsExpectedCloseError(err) {
				s.logger.Warn("malformed event stream", "client_id", c.id, "error", err)
			}
			s.dropClient(c, "read side closed")
			return
		}
		if done := s.dispatch(c, env); done {
			s.dropClient(c, "client disconnected")
			return
		}
	}
}

// dispatch routes one inbound event. Returns true when the client
// asked to disconnect.
func (s *Server) dispatch(c *client, env relay.Envelope) bool {
	switch env.Type {
	case relay.EventRequestEdit:
		s.handleEditRequest(c, env)

	case relay.EventSendCoordinates:
		s.handleStroke(c, env)

	case relay.EventRegisterViewport:
		var viewport relay.Viewport
		if err := env.Decode(&viewport); err != nil {
			s.logger.Debug("bad viewport payload", "client_id", c.id, "error", err)
			return false
		}
		s.registry.SetViewport(c.id, viewport.Width, viewport.Height)

	case relay.EventNewDocument:
		s.handleNewDocument(c, env)

	case relay.EventPageChange:
		s.handlePageChange(c, env)

	case relay.EventClearAnnotations:
		if s.gate(c, env.Type) {
			s.hub.Publish(c.id, relay.Envelope{Type: relay.EventClearAnnotations})
		}

	case relay.EventClearAll:
		if s.gate(c, env.Type) {
			s.document.ClearDocument()
			s.hub.Publish(c.id, relay.Envelope{Type: relay.EventClearAll})
		}

	case relay.EventDisconnect:
		return true

	default:
		s.logger.Debug("unknown event type", "client_id", c.id, "type", env.Type)
	}
	return false
}

// gate checks edit permission for a mutating event. Unapproved
// senders get a permission_denied and the event is dropped.
func (s *Server) gate(c *client, t relay.EventType) bool {
	if s.registry.IsApproved(c.id) {
		return true
	}
	s.hub.Send(c.id, relay.MustEnvelope(relay.EventPermissionDenied, relay.PermissionDenied{
		Reason: fmt.Sprintf("edit permission required for %s", t),
	}))
	return false
}

func (s *Server) handleEditRequest(c *client, env relay.Envelope) {
	if s.registry.IsApproved(c.id) {
		// Already approved: confirm rather than queue.
		s.hub.Send(c.id, relay.MustEnvelope(relay.EventConnectionStatus, relay.ConnectionStatus{
			Status:  "approved",
			CanEdit: true,
		}))
		return
	}

	var req relay.EditRequest
	if len(env.Data) > 0 {
		if err := env.Decode(&req); err != nil {
			s.logger.Debug("bad edit request payload", "client_id", c.id, "error", err)
			return
		}
	}
	s.queue.Enqueue(c.id, c.remoteAddr, req.Question, s.clock.Now())
	s.registry.MarkPending(c.id)
	s.hub.Send(c.id, relay.MustEnvelope(relay.EventConnectionStatus, relay.ConnectionStatus{
		Status:  "pending",
		Message: "waiting for operator approval",
	}))
	s.logger.Info("edit permission requested", "client_id", c.id, "remote", c.remoteAddr)
}

func (s *Server) handleStroke(c *client, env relay.Envelope) {
	if !s.gate(c, env.Type) {
		return
	}
	var stroke relay.Stroke
	if err := env.Decode(&stroke); err != nil {
		s.logger.Debug("bad stroke payload", "client_id", c.id, "error", err)
		return
	}
	// Forward the validated payload bytes under the outbound name.
	s.hub.Publish(c.id, relay.Envelope{Type: relay.EventStroke, Data: env.Data})
}

func (s *Server) handleNewDocument(c *client, env relay.Envelope) {
	if !s.gate(c, env.Type) {
		return
	}
	var doc relay.NewDocument
	if err := env.Decode(&doc); err != nil {
		s.logger.Debug("bad document payload", "client_id", c.id, "error", err)
		return
	}

	// A zero page count is the wire spelling of "no document".
	if doc.TotalPages == 0 {
		s.document.ClearDocument()
		s.hub.Publish(c.id, relay.Envelope{Type: relay.EventClearAll})
		return
	}

	ref := session.DocumentRef{StoreID: doc.StoreID, Name: doc.Name}
	if err := s.document.SetDocument(ref, doc.TotalPages); err != nil {
		s.logger.Debug("rejected document", "client_id", c.id, "error", err)
		return
	}
	if doc.CurrentPage > 0 {
		if err := s.document.GotoPage(doc.CurrentPage); err != nil {
			s.logger.Debug("document arrived with bad page", "client_id", c.id, "error", err)
			doc.CurrentPage = 0
		}
	}
	s.hub.Publish(c.id, relay.MustEnvelope(relay.EventNewDocument, doc))
}

func (s *Server) handlePageChange(c *client, env relay.Envelope) {
	if !s.gate(c, env.Type) {
		return
	}
	var page relay.PageChange
	if err := env.Decode(&page); err != nil {
		s.logger.Debug("bad page payload", "client_id", c.id, "error", err)
		return
	}
	if err := s.document.GotoPage(page.PageNumber); err != nil {
		s.logger.Debug("page out of range", "client_id", c.id, "page", page.PageNumber)
		return
	}
	s.hub.Publish(c.id, relay.MustEnvelope(relay.EventPageChange, page))
}

// dropClient tears a connection down exactly once: hub detach,
// registry removal, pending-request purge. The socket itself is
// closed by the writer once it has drained the detached channel, so
// a final buffered event still goes out. Every disconnect path
// funnels through here.
func (s *Server) dropClient(c *client, reason string) {
	c.drop.Do(func() {
		s.hub.Detach(c.id)
		s.queue.Remove(c.id)
		s.registry.Unregister(c.id)

		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()

		s.logger.Info("client dropped", "client_id", c.id, "reason", reason)
	})
}

// disconnectByID force-drops a client by id. No-op when the client is
// already gone.
func (s *Server) disconnectByID(id, reason string) {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if ok {
		s.dropClient(c, reason)
	}
}
