// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

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

	"github.com/bureau-foundation/swarm/lib/codec"
)

// ActionFunc handles one action. raw is the complete request map;
// handlers decode their own fields from it. A nil result produces
// {ok: true}; a non-nil result is encoded into the data field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope of every reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

const (
	// readTimeout bounds how long a connected client may take to send
	// its request.
	readTimeout = 30 * time.Second
	// writeTimeout bounds writing the response.
	writeTimeout = 10 * time.Second
	// maxMessageSize caps a request or response. Batch plans and
	// status reports are a few kilobytes.
	maxMessageSize = 1 << 20
)

// Server serves the protocol. Register actions with Handle, then call
// Serve.
type Server struct {
	address  string
	handlers map[string]ActionFunc
	logger   *slog.Logger

	ready    chan struct{}
	mu       sync.Mutex
	listener net.Listener
	active   sync.WaitGroup
}

// NewServer returns a server for address (see ParseAddress).
func NewServer(address string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		address:  address,
		handlers: make(map[string]ActionFunc),
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// Handle registers handler for action. Panics on a duplicate
// registration.
func (s *Server) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, useful with "tcp://127.0.0.1:0".
// Nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight requests. A stale Unix socket file is replaced, and the
// file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	network, target, err := ParseAddress(s.address)
	if err != nil {
		return err
	}
	if network == "unix" {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale socket %s: %w", target, err)
		}
	}
	listener, err := net.Listen(network, target)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	defer func() {
		listener.Close()
		if network == "unix" {
			os.Remove(target)
		}
	}()

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	s.logger.Info("socket server listening", "address", listener.Addr().String(), "network", network)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handle(ctx, conn)
		}()
	}
	s.active.Wait()
	return nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.reply(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	conn.SetReadDeadline(time.Time{})

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.reply(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if header.Action == "" {
		s.reply(conn, Response{Error: "missing required field: action"})
		return
	}
	handler, ok := s.handlers[header.Action]
	if !ok {
		s.reply(conn, Response{Error: fmt.Sprintf("unknown action %q", header.Action)})
		return
	}

	result, err := handler(ctx, raw)
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.reply(conn, Response{Error: err.Error()})
		return
	}
	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.reply(conn, Response{Error: fmt.Sprintf("internal: encoding response: %v", err)})
			return
		}
		response.Data = data
	}
	s.reply(conn, response)
}

func (s *Server) reply(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("writing response failed", "error", err)
	}
}

// Decode unmarshals the request fields of raw into v. Handlers call it
// with a struct carrying cbor tags for their fields.
func Decode(raw []byte, v any) error {
	if err := codec.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid request fields: %w", err)
	}
	return nil
}
