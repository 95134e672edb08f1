// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net"
	"time"

	"github.com/bureau-foundation/swarm/lib/codec"
)

const (
	dialTimeout = 5 * time.Second
	// DefaultResponseTimeout bounds the wait for a reply when ctx has
	// no deadline.
	DefaultResponseTimeout = 45 * time.Second
)

// Error is returned by Call when the server replied ok=false.
type Error struct {
	Action  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Client calls a server. Every Call uses a fresh connection.
type Client struct {
	address string

	// ResponseTimeout overrides DefaultResponseTimeout. Negative means
	// wait as long as ctx allows, for actions such as "perform" whose
	// handler runs for the duration of a remote operation.
	ResponseTimeout time.Duration
}

// NewClient returns a client for address (see ParseAddress).
func NewClient(address string) *Client {
	return &Client{address: address}
}

// Address returns the address the client dials.
func (c *Client) Address() string { return c.address }

// Call sends action with fields and decodes the reply's data into
// result when both are non-nil. A server-side failure is returned as
// *Error; transport failures are plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	maps.Copy(request, fields)
	request["action"] = action

	response, err := c.exchange(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.address, err)
	}
	if !response.OK {
		return &Error{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding %q response: %w", action, err)
		}
	}
	return nil
}

func (c *Client) exchange(ctx context.Context, request any) (*Response, error) {
	network, target, err := ParseAddress(c.address)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, network, target)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	// Abort a blocked read when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	switch half := conn.(type) {
	case *net.UnixConn:
		half.CloseWrite()
	case *net.TCPConn:
		half.CloseWrite()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := c.ResponseTimeout
		if timeout == 0 {
			timeout = DefaultResponseTimeout
		}
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
