package ipc

import (
	"context"
	"fmt"
	"net"
	"time"
)

const defaultCallTimeout = 30 * time.Second

// Client talks to the daemon. Each Call uses its own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: defaultCallTimeout}
}

// WithTimeout returns a copy of the client using timeout for each call
// when ctx carries no earlier deadline.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	cp := *c
	cp.timeout = timeout
	return &cp
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Call sends req and decodes the response data into result (which may be
// nil). A daemon-side failure is returned as *RemoteError.
func (c *Client) Call(ctx context.Context, req Request, result any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := WriteMessage(conn, req); err != nil {
		return fmt.Errorf("failed to send %q: %w", req.Action, err)
	}

	var resp Response
	if err := ReadMessage(conn, MaxMessageSize, &resp); err != nil {
		return fmt.Errorf("failed to read %q response: %w", req.Action, err)
	}

	if !resp.OK {
		return &RemoteError{Action: req.Action, Message: resp.Error}
	}
	if result != nil && len(resp.Data) > 0 {
		if err := Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("failed to decode %q response: %w", req.Action, err)
		}
	}
	return nil
}

// Ping checks that a daemon answers on the socket.
func (c *Client) Ping(ctx context.Context) (PingInfo, error) {
	var info PingInfo
	err := c.Call(ctx, Request{Action: ActionPing}, &info)
	return info, err
}
