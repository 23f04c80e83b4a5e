// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/slatecast/slatecast/lib/codec"
)

// Control protocol actions.
const (
	ActionStatus  = "status"
	ActionPending = "pending"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionClients = "clients"
)

// ControlRequest is one operator command. ClientID is required for
// approve and reject, ignored otherwise.
type ControlRequest struct {
	Action   string `cbor:"action"`
	ClientID string `cbor:"client_id,omitempty"`
}

// ControlResponse is the wire envelope for every control reply.
type ControlResponse struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

const (
	controlReadTimeout  = 30 * time.Second
	controlWriteTimeout = 10 * time.Second

	// controlMaxRequest bounds a single control request. Commands
	// are a few dozen bytes; 64 KB is already generous.
	controlMaxRequest = 64 * 1024
)

// ControlServer serves the operator control protocol on a Unix
// socket: one CBOR request, one CBOR response, connection closes.
// Approve and reject mutate session state through the host Server;
// everything else is read-only snapshots.
type ControlServer struct {
	host       *Server
	socketPath string
	logger     *slog.Logger

	active sync.WaitGroup
}

// NewControlServer creates a control server for the given host.
func NewControlServer(host *Server, socketPath string, logger *slog.Logger) *ControlServer {
	return &ControlServer{host: host, socketPath: socketPath, logger: logger}
}

// Serve listens on the Unix socket until ctx is cancelled, then waits
// for in-flight requests. A stale socket file is removed before
// listening and the live one on return.
func (c *ControlServer) Serve(ctx context.Context) error {
	if err := os.Remove(c.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("host: removing stale control socket %s: %w", c.socketPath, err)
	}

	listener, err := net.Listen("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("host: listening on %s: %w", c.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(c.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	c.logger.Info("control socket listening", "path", c.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			c.logger.Error("control accept failed", "error", err)
			continue
		}
		c.active.Add(1)
		go func() {
			defer c.active.Done()
			c.handleConnection(conn)
		}()
	}

	c.active.Wait()
	return nil
}

func (c *ControlServer) handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(controlReadTimeout))

	var req ControlRequest
	if err := codec.NewDecoder(io.LimitReader(conn, controlMaxRequest)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		c.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	result, err := c.execute(req)
	if err != nil {
		c.logger.Debug("control action failed", "action", req.Action, "error", err)
		c.writeError(conn, err.Error())
		return
	}
	c.writeSuccess(conn, result)
}

func (c *ControlServer) execute(req ControlRequest) (any, error) {
	switch req.Action {
	case ActionStatus:
		return c.host.StatusSnapshot(), nil

	case ActionPending:
		return c.host.PendingRequests(), nil

	case ActionClients:
		return c.host.Clients(), nil

	case ActionApprove:
		if req.ClientID == "" {
			return nil, errors.New("missing required field: client_id")
		}
		return nil, c.host.Approve(req.ClientID)

	case ActionReject:
		if req.ClientID == "" {
			return nil, errors.New("missing required field: client_id")
		}
		return nil, c.host.Reject(req.ClientID)

	case "":
		return nil, errors.New("missing required field: action")

	default:
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}
}

func (c *ControlServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	if err := codec.NewEncoder(conn).Encode(ControlResponse{Error: message}); err != nil {
		c.logger.Debug("failed to write control error", "error", err)
	}
}

func (c *ControlServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))

	response := ControlResponse{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			c.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		c.logger.Debug("failed to write control response", "error", err)
	}
}

// ControlClient issues control protocol requests. Each call dials the
// socket, sends one request, and reads one response.
type ControlClient struct {
	// SocketPath is the control socket to dial.
	SocketPath string

	// DialTimeout bounds the connection attempt. Zero means 5s.
	DialTimeout time.Duration
}

func (c *ControlClient) roundTrip(req ControlRequest, out any) error {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("unix", c.SocketPath, timeout)
	if err != nil {
		return fmt.Errorf("host: dialing control socket: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("host: sending %s: %w", req.Action, err)
	}
	var resp ControlResponse
	if err := codec.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("host: reading %s response: %w", req.Action, err)
	}
	if !resp.OK {
		return fmt.Errorf("host: %s: %s", req.Action, resp.Error)
	}
	if out != nil {
		if err := codec.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("host: decoding %s response: %w", req.Action, err)
		}
	}
	return nil
}

// Status fetches the session summary.
func (c *ControlClient) Status() (Status, error) {
	var status Status
	err := c.roundTrip(ControlRequest{Action: ActionStatus}, &status)
	return status, err
}

// Pending fetches the edit-permission queue.
func (c *ControlClient) Pending() ([]PendingRequest, error) {
	var pending []PendingRequest
	err := c.roundTrip(ControlRequest{Action: ActionPending}, &pending)
	return pending, err
}

// Clients fetches the connected-client list.
func (c *ControlClient) Clients() ([]ClientInfo, error) {
	var clients []ClientInfo
	err := c.roundTrip(ControlRequest{Action: ActionClients}, &clients)
	return clients, err
}

// Approve grants edit permission to a pending client.
func (c *ControlClient) Approve(clientID string) error {
	return c.roundTrip(ControlRequest{Action: ActionApprove, ClientID: clientID}, nil)
}

// Reject refuses a pending client's edit request.
func (c *ControlClient) Reject(clientID string) error {
	return c.roundTrip(ControlRequest{Action: ActionReject, ClientID: clientID}, nil)
}
