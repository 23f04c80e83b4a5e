// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// Package voice runs the session's point-to-point voice channel: a
// raw byte-stream bridge between a local audio device and a single
// remote peer. The channel accepts one peer at a time; when either
// side closes, the bridge tears down and the listener waits for the
// next peer.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/slatecast/slatecast/lib/netutil"
)

// State describes the voice channel.
type State int

const (
	// StateListening means no peer is connected.
	StateListening State = iota
	// StateConnected means a peer is bridged to the audio device.
	StateConnected
)

// Device opens the local audio stream. Reads produce capture data
// sent to the peer; writes play back data received from the peer.
// Opened once per peer session and closed when the peer leaves.
type Device func() (io.ReadWriteCloser, error)

// Channel is the voice channel server.
type Channel struct {
	addr   string
	device Device
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	state    State
	updates  chan State
}

// NewChannel creates a channel that will listen on addr and bridge
// peers to the audio device.
func NewChannel(addr string, device Device, logger *slog.Logger) *Channel {
	return &Channel{
		addr:   addr,
		device: device,
		logger: logger,
		// Buffered so state transitions never block the bridge;
		// a slow observer sees the latest transitions it kept up
		// with.
		updates: make(chan State, 8),
	}
}

// Updates delivers state transitions. Transitions that occur while
// the buffer is full are dropped.
func (c *Channel) Updates() <-chan State { return c.updates }

// State returns the current channel state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Addr returns the bound listen address, valid once Serve has
// started.
func (c *Channel) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Serve accepts one peer at a time until ctx is cancelled. Each peer
// gets a fresh device stream; when the bridge ends (either side
// closed) the channel returns to listening.
func (c *Channel) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("voice: listening on %s: %w", c.addr, err)
	}
	c.mu.Lock()
	c.listener = listener
	c.mu.Unlock()
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	c.logger.Info("voice channel listening", "addr", listener.Addr())
	c.setState(StateListening)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.logger.Error("voice accept failed", "error", err)
			continue
		}

		c.logger.Info("voice peer connected", "remote", conn.RemoteAddr())
		c.setState(StateConnected)
		c.bridgePeer(conn)
		c.setState(StateListening)
		c.logger.Info("voice peer left", "remote", conn.RemoteAddr())
	}
}

// bridgePeer runs one peer session to completion.
func (c *Channel) bridgePeer(conn net.Conn) {
	defer conn.Close()

	stream, err := c.device()
	if err != nil {
		c.logger.Error("opening audio device failed", "error", err)
		return
	}
	defer stream.Close()

	if err := netutil.Bridge(conn, stream); err != nil && !netutil.IsExpectedCloseError(err) {
		c.logger.Warn("voice bridge ended with error", "error", err)
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	select {
	case c.updates <- s:
	default:
	}
}
