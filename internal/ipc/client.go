package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"focusd/internal/protocol"
)

// Client performs one-shot calls against a running daemon. It matches the
// transport contract exactly: dial, write one line, read one response,
// close.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient returns a client for the daemon socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: connTimeout}
}

// Call sends method with params and decodes the result into out (out may be
// nil to discard). A response carrying an error comes back as *ErrorBody so
// callers can branch on the code.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	var dialer net.Dialer
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := dialer.DialContext(dctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("ipc: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	req := protocol.Request{
		ProtocolVersion: protocol.Version,
		Method:          method,
		ID:              uuid.NewString(),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("ipc: marshal params: %w", err)
		}
		req.Params = raw
	}

	line, err := json.Marshal(&req)
	if err != nil {
		return fmt.Errorf("ipc: marshal request: %w", err)
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		return fmt.Errorf("ipc: write request: %w", err)
	}

	var resp protocol.Response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return fmt.Errorf("ipc: read response: %w", err)
	}
	if !resp.OK {
		if resp.Error != nil {
			return resp.Error
		}
		return fmt.Errorf("ipc: request failed without error body")
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("ipc: decode result: %w", err)
		}
	}
	return nil
}

// SendEvent submits one lifecycle event and returns the daemon's ack.
func (c *Client) SendEvent(ctx context.Context, ev *protocol.Event) (*protocol.EventResult, error) {
	var res protocol.EventResult
	if err := c.Call(ctx, protocol.MethodEvent, ev, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
