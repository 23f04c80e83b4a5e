// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "sync"

// DocumentRef identifies a shared document. StoreID is the document
// store content hash; late joiners fetch page data with it.
type DocumentRef struct {
	// StoreID is the content-addressed document store id.
	StoreID string

	// Name is the display name the uploader gave the document.
	Name string
}

// DocumentSnapshot is a point-in-time copy of the shared document
// state, replayed to late-joining clients.
type DocumentSnapshot struct {
	// Active is false when no document is shared; the remaining
	// fields are then zero.
	Active bool

	// Document identifies the active document.
	Document DocumentRef

	// TotalPages is the page count of the active document.
	TotalPages int

	// Page is the current 0-based page index, always within
	// [0, TotalPages) while a document is active.
	Page int
}

// Document is the process-wide shared document state. Mutated only by
// document and page events from approved clients (or the operator's
// upload endpoint); read by the relay for late-join sync. Safe for
// concurrent use.
type Document struct {
	mu    sync.Mutex
	state DocumentSnapshot
}

// NewDocument returns empty document state (no active document).
func NewDocument() *Document {
	return &Document{}
}

// SetDocument replaces the active document and resets the current
// page to 0. Returns ErrInvalidPageCount, leaving state unchanged,
// when totalPages < 1. Wire handlers map a zero page count to
// ClearDocument before calling.
func (d *Document) SetDocument(ref DocumentRef, totalPages int) error {
	if totalPages < 1 {
		return ErrInvalidPageCount
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = DocumentSnapshot{
		Active:     true,
		Document:   ref,
		TotalPages: totalPages,
	}
	return nil
}

// ClearDocument removes the active document and resets page and total
// to zero.
func (d *Document) ClearDocument() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = DocumentSnapshot{}
}

// GotoPage moves to the 0-based page index. Returns ErrPageOutOfRange,
// leaving state unchanged, when no document is active or the index
// falls outside [0, TotalPages).
func (d *Document) GotoPage(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.state.Active || index < 0 || index >= d.state.TotalPages {
		return ErrPageOutOfRange
	}
	d.state.Page = index
	return nil
}

// Snapshot returns a copy of the current state for late-join sync.
func (d *Document) Snapshot() DocumentSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
