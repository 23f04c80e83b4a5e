// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"
)

// DefaultRequestTTL is how long a pending edit-permission request may
// wait for an operator decision before the sweep expires it and the
// client is force-disconnected.
const DefaultRequestTTL = 120 * time.Second

// questionPreviewLength is how many characters of the free-text
// question survive into the operator list preview.
const questionPreviewLength = 30

// Decision is an operator's resolution of a pending request.
type Decision int

const (
	// DecisionApprove grants edit rights.
	DecisionApprove Decision = iota
	// DecisionReject refuses edit rights; the server disconnects the
	// client.
	DecisionReject
)

// Request is one pending edit-permission request.
type Request struct {
	// ClientID references the requesting ClientSession. The queue
	// does not own the session.
	ClientID string

	// Origin is the client's remote address, carried for operator
	// display so the panel needs no registry lookup.
	Origin string

	// Question is the optional free-text question attached to the
	// request ("may I draw?").
	Question string

	// CreatedAt is when the request entered the queue. A replaced
	// request carries the replacement's time.
	CreatedAt time.Time
}

// Preview returns the question truncated for list display.
func (r Request) Preview() string {
	if len(r.Question) <= questionPreviewLength {
		return r.Question
	}
	return r.Question[:questionPreviewLength] + "..."
}

// RequestQueue is a FIFO of pending edit-permission requests with a
// by-client index. At most one live request exists per client: a
// second request from the same client replaces the first, taking a
// fresh timestamp and queue position. Safe for concurrent use.
type RequestQueue struct {
	// Approved reports whether a client already holds edit rights.
	// Enqueue drops requests from approved clients so the queue
	// never holds a request for one. Nil means nobody is approved.
	Approved func(clientID string) bool

	ttl time.Duration

	mu      sync.Mutex
	pending []*Request
	byID    map[string]*Request
}

// NewRequestQueue creates an empty queue. A ttl of zero means
// DefaultRequestTTL.
func NewRequestQueue(ttl time.Duration, approved func(string) bool) *RequestQueue {
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	return &RequestQueue{
		Approved: approved,
		ttl:      ttl,
		byID:     make(map[string]*Request),
	}
}

// Enqueue inserts a pending request. Silently dropped when the client
// is already approved; a prior pending request from the same client is
// replaced (latest question wins).
func (q *RequestQueue) Enqueue(clientID, origin, question string, now time.Time) {
	if q.Approved != nil && q.Approved(clientID) {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byID[clientID]; ok {
		q.removeLocked(clientID)
	}
	r := &Request{
		ClientID:  clientID,
		Origin:    origin,
		Question:  question,
		CreatedAt: now,
	}
	q.pending = append(q.pending, r)
	q.byID[clientID] = r
}

// Sweep removes requests older than the TTL as of now and returns
// their client ids. The caller must force-disconnect each returned
// client exactly once; expiry is the only bound on queue growth from
// abandoned requests.
func (q *RequestQueue) Sweep(now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []string
	remaining := q.pending[:0]
	for _, r := range q.pending {
		if now.Sub(r.CreatedAt) > q.ttl {
			expired = append(expired, r.ClientID)
			delete(q.byID, r.ClientID)
		} else {
			remaining = append(remaining, r)
		}
	}
	q.pending = remaining
	return expired
}

// Resolve removes the client's pending request. Returns the request
// and true when one existed; false means the operator raced expiry or
// a disconnect, and the caller should treat the action as a no-op.
func (q *RequestQueue) Resolve(clientID string, _ Decision) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.byID[clientID]
	if !ok {
		return Request{}, false
	}
	q.removeLocked(clientID)
	return *r, true
}

// Remove discards any pending request for the client, without a
// decision. Used when the client disconnects.
func (q *RequestQueue) Remove(clientID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(clientID)
}

// Pending returns a snapshot of the queue in insertion order.
func (q *RequestQueue) Pending() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Request, len(q.pending))
	for i, r := range q.pending {
		out[i] = *r
	}
	return out
}

// Len returns the number of pending requests.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Has reports whether the client has a pending request.
func (q *RequestQueue) Has(clientID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[clientID]
	return ok
}

func (q *RequestQueue) removeLocked(clientID string) {
	if _, ok := q.byID[clientID]; !ok {
		return
	}
	delete(q.byID, clientID)
	for i, r := range q.pending {
		if r.ClientID == clientID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
}
