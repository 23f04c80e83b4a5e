// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides the small network utilities slatecast
// needs: host address discovery for display to the operator, and
// bidirectional byte bridging for the voice channel.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// LocalIP returns the local address the host uses for outbound
// traffic. It opens an unconnected UDP socket toward a public address
// — no packet is sent — and reads the chosen source address back.
// Falls back to 127.0.0.1 when the host has no route.
func LocalIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection
// reset. Bridges that full-close both ends produce ECONNRESET and
// EPIPE on the surviving side; none of these should be logged as
// errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

type copyResult struct {
	bytes int64
	err   error
}

// Bridge copies bytes bidirectionally between a and b until either
// direction finishes, then closes both to unblock the survivor.
// Returns the error from the direction that terminated first, or nil
// when termination was a normal close.
func Bridge(a, b io.ReadWriteCloser) error {
	done := make(chan copyResult, 2)

	go func() {
		n, err := io.Copy(b, a)
		done <- copyResult{n, err}
	}()
	go func() {
		n, err := io.Copy(a, b)
		done <- copyResult{n, err}
	}()

	first := <-done
	a.Close()
	b.Close()
	<-done

	if first.err != nil && !IsExpectedCloseError(first.err) {
		return first.err
	}
	return nil
}
