// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay is the broadcast engine of a whiteboard session. The
// Hub fans events out to every connected client except the sender,
// preserving per-sender order, and isolates slow peers behind bounded
// per-client queues. Event names match the original wire contract so
// existing clients keep working.
package relay

import (
	"fmt"

	"github.com/slatecast/slatecast/lib/codec"
	"github.com/slatecast/slatecast/session"
)

// EventType names a wire event.
type EventType string

// Relayed event types (client to client, via Publish).
const (
	// EventStroke is one normalized ink point or segment endpoint.
	EventStroke EventType = "coordinate_update"

	// EventNewDocument announces a newly shared document.
	EventNewDocument EventType = "new_pdf"

	// EventPageChange announces a page turn.
	EventPageChange EventType = "change_page"

	// EventClearAnnotations clears ink while keeping the page.
	EventClearAnnotations EventType = "clear_annotations"

	// EventClearAll clears ink and the document.
	EventClearAll EventType = "clear_all"
)

// Client-to-host event types (inbound only, never relayed as-is).
const (
	// EventRequestEdit asks the operator for edit permission.
	EventRequestEdit EventType = "request_edit_permission"

	// EventSendCoordinates carries an ink point from an approved
	// client; the host relays it as EventStroke.
	EventSendCoordinates EventType = "send_coordinates"

	// EventRegisterViewport reports the client's canvas size for
	// operator display.
	EventRegisterViewport EventType = "register_viewport"

	// EventDisconnect is a polite goodbye before closing.
	EventDisconnect EventType = "disconnect"
)

// Host-to-client event types (direct sends, never broadcast).
const (
	// EventConnectionStatus reports registration outcome and edit
	// rights to a single client.
	EventConnectionStatus EventType = "connection_status"

	// EventAllowStudent announces a newly approved client.
	EventAllowStudent EventType = "allow_student"

	// EventConnectionRejected tells a client the operator refused
	// its edit request; the server closes the connection after.
	EventConnectionRejected EventType = "connection_rejected"

	// EventPermissionDenied tells an unapproved sender its stroke
	// was dropped.
	EventPermissionDenied EventType = "permission_denied"

	// EventDocumentSync is the one-time late-join replay of the
	// current document state, delivered before any other event.
	EventDocumentSync EventType = "document_sync"
)

// Envelope is one wire message: a type tag plus a CBOR payload.
type Envelope struct {
	Type EventType        `cbor:"type"`
	Data codec.RawMessage `cbor:"data,omitempty"`
}

// NewEnvelope encodes payload into an envelope of the given type.
// A nil payload produces an envelope with no data (clear events).
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("relay: encoding %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

// MustEnvelope is NewEnvelope for payload types the process itself
// defines, where encoding cannot fail.
func MustEnvelope(t EventType, payload any) Envelope {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if err := codec.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("relay: decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// Stroke is the payload of EventStroke. Coordinates are normalized to
// [0,1] against the shared page so viewports of any size agree.
type Stroke struct {
	X         float64 `cbor:"x"`
	Y         float64 `cbor:"y"`
	IsStart   bool    `cbor:"is_start"`
	LineWidth int     `cbor:"line_width"`
	PenColor  string  `cbor:"pen_color"`
}

// EditRequest is the payload of EventRequestEdit.
type EditRequest struct {
	// Question is optional free text shown to the operator.
	Question string `cbor:"question,omitempty"`
}

// Viewport is the payload of EventRegisterViewport.
type Viewport struct {
	Width  int `cbor:"width"`
	Height int `cbor:"height"`
}

// NewDocument is the payload of EventNewDocument. StoreID lets
// viewers fetch the document bytes from the host's store.
type NewDocument struct {
	StoreID     string `cbor:"document_id"`
	Name        string `cbor:"name,omitempty"`
	TotalPages  int    `cbor:"total_pages"`
	CurrentPage int    `cbor:"current_page"`
}

// PageChange is the payload of EventPageChange.
type PageChange struct {
	PageNumber int `cbor:"page_number"`
}

// ConnectionStatus is the payload of EventConnectionStatus.
type ConnectionStatus struct {
	Status  string `cbor:"status"`
	CanEdit bool   `cbor:"can_edit"`
	Message string `cbor:"message,omitempty"`
}

// AllowStudent is the payload of EventAllowStudent.
type AllowStudent struct {
	AllowedSID string `cbor:"allowed_sid"`
}

// PermissionDenied is the payload of EventPermissionDenied.
type PermissionDenied struct {
	Reason string `cbor:"reason"`
}

// DocumentSync is the payload of EventDocumentSync.
type DocumentSync struct {
	Active      bool   `cbor:"active"`
	StoreID     string `cbor:"document_id,omitempty"`
	Name        string `cbor:"name,omitempty"`
	TotalPages  int    `cbor:"total_pages"`
	CurrentPage int    `cbor:"current_page"`
}

// SyncEnvelope builds the late-join replay envelope for a document
// snapshot.
func SyncEnvelope(snap session.DocumentSnapshot) Envelope {
	return MustEnvelope(EventDocumentSync, DocumentSync{
		Active:      snap.Active,
		StoreID:     snap.Document.StoreID,
		Name:        snap.Document.Name,
		TotalPages:  snap.TotalPages,
		CurrentPage: snap.Page,
	})
}
