// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

var (
	// ErrUnknownClient is returned when an operation references a
	// client id absent from the registry. Callers racing a
	// disconnect treat this as benign: log and move on.
	ErrUnknownClient = errors.New("session: unknown client")

	// ErrDuplicateClient is returned by Register when the id is
	// already present. Safe to treat as an idempotent no-op on a
	// retried hello.
	ErrDuplicateClient = errors.New("session: client already registered")

	// ErrRejectCooldown is returned by Register when the client's
	// address was recently rejected and the cooldown has not elapsed.
	ErrRejectCooldown = errors.New("session: address in rejection cooldown")

	// ErrInvalidPageCount is returned by SetDocument for a page
	// count below 1.
	ErrInvalidPageCount = errors.New("session: invalid page count")

	// ErrPageOutOfRange is returned by GotoPage when the index does
	// not fall within the active document. State is unchanged.
	ErrPageOutOfRange = errors.New("session: page out of range")
)
