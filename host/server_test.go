// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/slatecast/slatecast/lib/clock"
	"github.com/slatecast/slatecast/relay"
	"github.com/slatecast/slatecast/session"

	"github.com/slatecast/slatecast/lib/codec"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs a Server on a loopback port and tears it down with
// the test.
func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.ListenAddr == "" {
		opts.ListenAddr = "127.0.0.1:0"
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	server := NewServer(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return server
}

// testClient is one whiteboard client over a real socket. A reader
// goroutine feeds decoded envelopes into events; the channel closes
// when the server drops the connection.
type testClient struct {
	conn    net.Conn
	encoder *codec.Encoder
	events  chan relay.Envelope
}

func dialClient(t *testing.T, server *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("dialing server: %v", err)
	}
	client := &testClient{
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		events:  make(chan relay.Envelope, 64),
	}
	go func() {
		decoder := codec.NewDecoder(conn)
		for {
			var env relay.Envelope
			if decoder.Decode(&env) != nil {
				close(client.events)
				return
			}
			client.events <- env
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return client
}

func (c *testClient) send(t *testing.T, eventType relay.EventType, payload any) {
	t.Helper()
	env, err := relay.NewEnvelope(eventType, payload)
	if err != nil {
		t.Fatalf("encoding %s: %v", eventType, err)
	}
	if err := c.encoder.Encode(env); err != nil {
		t.Fatalf("sending %s: %v", eventType, err)
	}
}

// waitFor returns the next envelope of the given type, discarding
// others.
func (c *testClient) waitFor(t *testing.T, eventType relay.EventType) relay.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-c.events:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", eventType)
			}
			if env.Type == eventType {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

// expectNone asserts no envelope of the given type arrives within d.
func (c *testClient) expectNone(t *testing.T, eventType relay.EventType, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case env, ok := <-c.events:
			if !ok {
				return
			}
			if env.Type == eventType {
				t.Fatalf("unexpected %s", eventType)
			}
		case <-deadline:
			return
		}
	}
}

// expectClosed asserts the server drops the connection.
func (c *testClient) expectClosed(t *testing.T) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.events:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("connection was not closed")
		}
	}
}

// waitPending polls until the queue holds n requests.
func waitPending(t *testing.T, server *Server, n int) []PendingRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		pending := server.PendingRequests()
		if len(pending) == n {
			return pending
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue has %d pending requests, want %d", len(pending), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectGreetingAndEmptySync(t *testing.T) {
	server := startServer(t, Options{})
	client := dialClient(t, server)

	status := client.waitFor(t, relay.EventConnectionStatus)
	var connected relay.ConnectionStatus
	if err := status.Decode(&connected); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if connected.Status != "connected" || connected.CanEdit {
		t.Fatalf("greeting = %+v, want connected view-only", connected)
	}

	syncEnv := client.waitFor(t, relay.EventDocumentSync)
	var sync relay.DocumentSync
	if err := syncEnv.Decode(&sync); err != nil {
		t.Fatalf("decoding sync: %v", err)
	}
	if sync.Active {
		t.Fatalf("sync = %+v, want inactive", sync)
	}
}

func TestLateJoinerGetsDocumentSnapshotFirst(t *testing.T) {
	server := startServer(t, Options{})
	ref := session.DocumentRef{StoreID: "doc-1", Name: "slides.pdf"}
	if err := server.Document().SetDocument(ref, 12); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}
	if err := server.Document().GotoPage(4); err != nil {
		t.Fatalf("GotoPage: %v", err)
	}

	client := dialClient(t, server)

	// The snapshot must precede every relayed event. Only the status
	// greeting may come first.
	for {
		select {
		case env, ok := <-client.events:
			if !ok {
				t.Fatal("connection closed before sync")
			}
			if env.Type == relay.EventConnectionStatus {
				continue
			}
			if env.Type != relay.EventDocumentSync {
				t.Fatalf("got %s before document_sync", env.Type)
			}
			var sync relay.DocumentSync
			if err := env.Decode(&sync); err != nil {
				t.Fatalf("decoding sync: %v", err)
			}
			if !sync.Active || sync.StoreID != "doc-1" || sync.TotalPages != 12 || sync.CurrentPage != 4 {
				t.Fatalf("sync = %+v", sync)
			}
			return
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for document_sync")
		}
	}
}

func TestApprovedStrokeRelaysToPeersOnly(t *testing.T) {
	server := startServer(t, Options{})
	alice := dialClient(t, server)
	bob := dialClient(t, server)

	alice.send(t, relay.EventRequestEdit, relay.EditRequest{Question: "may I draw?"})
	pending := waitPending(t, server, 1)
	if pending[0].Question != "may I draw?" {
		t.Fatalf("pending question = %q", pending[0].Question)
	}

	if err := server.Approve(pending[0].ClientID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// The greeting and the pending acknowledgement arrive first;
	// keep reading status events until edit rights show up.
	for {
		approval := alice.waitFor(t, relay.EventConnectionStatus)
		var status relay.ConnectionStatus
		if err := approval.Decode(&status); err != nil {
			t.Fatalf("decoding status: %v", err)
		}
		if status.CanEdit {
			break
		}
	}

	announced := bob.waitFor(t, relay.EventAllowStudent)
	var allow relay.AllowStudent
	if err := announced.Decode(&allow); err != nil {
		t.Fatalf("decoding allow_student: %v", err)
	}
	if allow.AllowedSID != pending[0].ClientID {
		t.Fatalf("allowed_sid = %q, want %q", allow.AllowedSID, pending[0].ClientID)
	}

	alice.send(t, relay.EventSendCoordinates, relay.Stroke{
		X: 0.25, Y: 0.75, IsStart: true, LineWidth: 3, PenColor: "#ff0000",
	})

	relayed := bob.waitFor(t, relay.EventStroke)
	var stroke relay.Stroke
	if err := relayed.Decode(&stroke); err != nil {
		t.Fatalf("decoding stroke: %v", err)
	}
	if stroke.X != 0.25 || stroke.Y != 0.75 || !stroke.IsStart {
		t.Fatalf("stroke = %+v", stroke)
	}

	// The sender never hears its own stroke back.
	alice.expectNone(t, relay.EventStroke, 200*time.Millisecond)
}

func TestUnapprovedStrokeIsDeniedNotRelayed(t *testing.T) {
	server := startServer(t, Options{})
	alice := dialClient(t, server)
	bob := dialClient(t, server)

	alice.send(t, relay.EventSendCoordinates, relay.Stroke{X: 0.1, Y: 0.2})

	denied := alice.waitFor(t, relay.EventPermissionDenied)
	var reason relay.PermissionDenied
	if err := denied.Decode(&reason); err != nil {
		t.Fatalf("decoding denial: %v", err)
	}
	if reason.Reason == "" {
		t.Fatal("denial carries no reason")
	}
	bob.expectNone(t, relay.EventStroke, 200*time.Millisecond)
}

func TestRejectNotifiesThenDisconnects(t *testing.T) {
	server := startServer(t, Options{})
	alice := dialClient(t, server)

	alice.send(t, relay.EventRequestEdit, relay.EditRequest{})
	pending := waitPending(t, server, 1)

	if err := server.Reject(pending[0].ClientID); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	alice.waitFor(t, relay.EventConnectionRejected)
	alice.expectClosed(t)

	if server.registry.Contains(pending[0].ClientID) {
		t.Fatal("rejected client still registered")
	}
	if server.queue.Len() != 0 {
		t.Fatal("queue not empty after reject")
	}
}

func TestStaleRequestExpiresAndDisconnects(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	server := startServer(t, Options{Clock: clk, RequestTTL: 120 * time.Second})
	alice := dialClient(t, server)

	alice.send(t, relay.EventRequestEdit, relay.EditRequest{Question: "still there?"})
	pending := waitPending(t, server, 1)

	// At exactly the TTL the request is still live.
	clk.Advance(120 * time.Second)
	if n := server.ExpireStale(); n != 0 {
		t.Fatalf("expired %d requests at the TTL boundary, want 0", n)
	}

	clk.Advance(1 * time.Second)
	if n := server.ExpireStale(); n != 1 {
		t.Fatalf("expired %d requests past the TTL, want 1", n)
	}

	alice.waitFor(t, relay.EventConnectionRejected)
	alice.expectClosed(t)
	if server.registry.Contains(pending[0].ClientID) {
		t.Fatal("expired client still registered")
	}

	// A second sweep finds nothing: expiry disconnects exactly once.
	if n := server.ExpireStale(); n != 0 {
		t.Fatalf("second sweep expired %d requests, want 0", n)
	}
}

func TestApproveWithoutRequest(t *testing.T) {
	server := startServer(t, Options{})
	if err := server.Approve("nobody"); err != ErrNoPendingRequest {
		t.Fatalf("Approve(unknown) = %v, want ErrNoPendingRequest", err)
	}
	if err := server.Reject("nobody"); err != ErrNoPendingRequest {
		t.Fatalf("Reject(unknown) = %v, want ErrNoPendingRequest", err)
	}
}

func TestApproveIsIdempotentForApprovedClient(t *testing.T) {
	server := startServer(t, Options{})
	alice := dialClient(t, server)

	alice.send(t, relay.EventRequestEdit, relay.EditRequest{})
	pending := waitPending(t, server, 1)
	if err := server.Approve(pending[0].ClientID); err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	if err := server.Approve(pending[0].ClientID); err != nil {
		t.Fatalf("second Approve: %v", err)
	}
}

func TestPageChangeGatedAndBounded(t *testing.T) {
	server := startServer(t, Options{})
	if err := server.Document().SetDocument(session.DocumentRef{StoreID: "doc"}, 5); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}

	alice := dialClient(t, server)
	bob := dialClient(t, server)

	alice.send(t, relay.EventRequestEdit, relay.EditRequest{})
	pending := waitPending(t, server, 1)
	if err := server.Approve(pending[0].ClientID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	bob.waitFor(t, relay.EventAllowStudent)

	// Out of range: swallowed, state unchanged.
	alice.send(t, relay.EventPageChange, relay.PageChange{PageNumber: 9})
	bob.expectNone(t, relay.EventPageChange, 200*time.Millisecond)
	if got := server.Document().Snapshot().Page; got != 0 {
		t.Fatalf("page = %d after out-of-range turn, want 0", got)
	}

	alice.send(t, relay.EventPageChange, relay.PageChange{PageNumber: 3})
	turned := bob.waitFor(t, relay.EventPageChange)
	var page relay.PageChange
	if err := turned.Decode(&page); err != nil {
		t.Fatalf("decoding page change: %v", err)
	}
	if page.PageNumber != 3 {
		t.Fatalf("relayed page = %d, want 3", page.PageNumber)
	}
	if got := server.Document().Snapshot().Page; got != 3 {
		t.Fatalf("page = %d, want 3", got)
	}
}

func TestSharedDocumentReachesPeersAndLateJoiners(t *testing.T) {
	server := startServer(t, Options{})
	alice := dialClient(t, server)
	bob := dialClient(t, server)

	alice.send(t, relay.EventRequestEdit, relay.EditRequest{})
	pending := waitPending(t, server, 1)
	if err := server.Approve(pending[0].ClientID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	alice.send(t, relay.EventNewDocument, relay.NewDocument{
		StoreID: "doc-9", Name: "notes.pdf", TotalPages: 7,
	})

	announced := bob.waitFor(t, relay.EventNewDocument)
	var doc relay.NewDocument
	if err := announced.Decode(&doc); err != nil {
		t.Fatalf("decoding new document: %v", err)
	}
	if doc.StoreID != "doc-9" || doc.TotalPages != 7 {
		t.Fatalf("announced doc = %+v", doc)
	}

	carol := dialClient(t, server)
	syncEnv := carol.waitFor(t, relay.EventDocumentSync)
	var sync relay.DocumentSync
	if err := syncEnv.Decode(&sync); err != nil {
		t.Fatalf("decoding sync: %v", err)
	}
	if !sync.Active || sync.StoreID != "doc-9" || sync.TotalPages != 7 {
		t.Fatalf("late-join sync = %+v", sync)
	}
}

func TestClearAllResetsDocument(t *testing.T) {
	server := startServer(t, Options{})
	alice := dialClient(t, server)
	bob := dialClient(t, server)

	alice.send(t, relay.EventRequestEdit, relay.EditRequest{})
	pending := waitPending(t, server, 1)
	if err := server.Approve(pending[0].ClientID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := server.Document().SetDocument(session.DocumentRef{StoreID: "doc"}, 3); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}

	alice.send(t, relay.EventClearAll, nil)
	bob.waitFor(t, relay.EventClearAll)
	if server.Document().Snapshot().Active {
		t.Fatal("document still active after clear_all")
	}
}

func TestViewportRecorded(t *testing.T) {
	server := startServer(t, Options{})
	alice := dialClient(t, server)
	alice.waitFor(t, relay.EventConnectionStatus)

	alice.send(t, relay.EventRegisterViewport, relay.Viewport{Width: 1920, Height: 1080})

	deadline := time.Now().Add(2 * time.Second)
	for {
		clients := server.Clients()
		if len(clients) == 1 && clients[0].ViewportWidth == 1920 {
			if clients[0].ViewportHeight != 1080 {
				t.Fatalf("viewport height = %d", clients[0].ViewportHeight)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("viewport never recorded: %+v", clients)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisconnectPurgesAllState(t *testing.T) {
	server := startServer(t, Options{})
	alice := dialClient(t, server)

	alice.send(t, relay.EventRequestEdit, relay.EditRequest{})
	pending := waitPending(t, server, 1)

	alice.send(t, relay.EventDisconnect, nil)
	alice.expectClosed(t)

	deadline := time.Now().Add(2 * time.Second)
	for server.registry.Contains(pending[0].ClientID) || server.queue.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("disconnect left state behind")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweeperExpiresInBackground(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	server := startServer(t, Options{Clock: clk, RequestTTL: 120 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.RunSweeper(ctx, 4*time.Second)
	clk.WaitForTimers(1)

	alice := dialClient(t, server)
	alice.send(t, relay.EventRequestEdit, relay.EditRequest{})
	waitPending(t, server, 1)

	clk.Advance(121 * time.Second)

	alice.waitFor(t, relay.EventConnectionRejected)
	alice.expectClosed(t)

	deadline := time.Now().Add(2 * time.Second)
	for server.queue.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never expired the request")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRejectCooldownBlocksReconnect(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	server := startServer(t, Options{Clock: clk, RejectCooldown: time.Minute})
	alice := dialClient(t, server)

	alice.send(t, relay.EventRequestEdit, relay.EditRequest{})
	pending := waitPending(t, server, 1)
	if err := server.Reject(pending[0].ClientID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	alice.expectClosed(t)

	// Same source address inside the cooldown window: refused.
	retry := dialClient(t, server)
	refused := retry.waitFor(t, relay.EventConnectionStatus)
	var status relay.ConnectionStatus
	if err := refused.Decode(&status); err != nil {
		t.Fatalf("decoding refusal: %v", err)
	}
	if status.Status != "rejected" {
		t.Fatalf("status = %q, want rejected", status.Status)
	}
	retry.expectClosed(t)

	// Past the cooldown the address is welcome again.
	clk.Advance(time.Minute + time.Second)
	welcome := dialClient(t, server)
	accepted := welcome.waitFor(t, relay.EventConnectionStatus)
	if err := accepted.Decode(&status); err != nil {
		t.Fatalf("decoding greeting: %v", err)
	}
	if status.Status != "connected" {
		t.Fatalf("status = %q, want connected", status.Status)
	}
}
