// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestIsExpectedCloseError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"closed", net.ErrClosed, true},
		{"pipe", syscall.EPIPE, true},
		{"reset", syscall.ECONNRESET, true},
		{"refused", syscall.ECONNREFUSED, false},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsExpectedCloseError(tc.err); got != tc.want {
			t.Errorf("%s: IsExpectedCloseError = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBridgeCopiesBothDirections(t *testing.T) {
	aLocal, aRemote := net.Pipe()
	bLocal, bRemote := net.Pipe()

	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- Bridge(aRemote, bRemote) }()

	// a -> b.
	go aLocal.Write([]byte("ping"))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(bLocal, buf); err != nil {
		t.Fatalf("read via bridge: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("bridged a->b %q", buf)
	}

	// b -> a.
	go bLocal.Write([]byte("pong"))
	if _, err := io.ReadFull(aLocal, buf); err != nil {
		t.Fatalf("read via bridge: %v", err)
	}
	if string(buf) != "pong" {
		t.Errorf("bridged b->a %q", buf)
	}

	// Closing one end tears the whole bridge down cleanly.
	aLocal.Close()
	select {
	case err := <-bridgeDone:
		if err != nil {
			t.Errorf("Bridge returned %v on normal close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Bridge did not return after close")
	}
}

func TestLocalIPReturnsAddress(t *testing.T) {
	ip := LocalIP()
	if net.ParseIP(ip) == nil {
		t.Errorf("LocalIP returned %q, not an IP address", ip)
	}
}
