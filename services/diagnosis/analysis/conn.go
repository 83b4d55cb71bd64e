// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const jsonrpcVersion = "2.0"

// =============================================================================
// WIRE MESSAGES
// =============================================================================

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// reply is sent back for requests the service makes of us.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *responseError  `json:"error"`
}

// incoming is any message read from the service: a response (id, no
// method), a notification (method, no id) or a request (both).
type incoming struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *responseError  `json:"error,omitempty"`
}

type response struct {
	result json.RawMessage
	err    *responseError
}

// =============================================================================
// CONNECTION
// =============================================================================

// Conn is a JSON-RPC 2.0 connection framed with Content-Length headers.
//
// Description:
//
//	Requests are correlated to responses by a monotonically increasing
//	integer id. Notifications from the service are logged at debug level;
//	requests from the service are answered with "method not found".
//
// Thread Safety:
//
//	Safe for concurrent use. ReadLoop must run in exactly one goroutine.
type Conn struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex

	nextID    atomic.Int64
	pending   map[int64]chan response
	pendingMu sync.Mutex
	closed    atomic.Bool
}

// NewConn creates a connection reading from r (service stdout) and writing
// to w (service stdin).
func NewConn(r io.Reader, w io.Writer) *Conn {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Conn{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan response),
	}
}

// Call sends a request and decodes its result into result.
//
// Description:
//
//	Blocks until the matching response arrives, the context is done, or the
//	connection closes. A nil result discards the response body.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	method - The method to invoke (e.g., "crud")
//	params - Method parameters, JSON-marshaled
//	result - Pointer to decode the result into, or nil
//
// Outputs:
//
//	error - ErrServerNotRunning, ErrRequestTimeout, *RPCError or
//	ErrInvalidResponse
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if c.closed.Load() {
		return ErrServerNotRunning
	}

	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	// Close sets closed before draining pending under pendingMu, so a call
	// registered here is either seen by the drain or rejected.
	c.pendingMu.Lock()
	if c.closed.Load() {
		c.pendingMu.Unlock()
		return ErrServerNotRunning
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrRequestTimeout, method, ctx.Err())
	case resp := <-ch:
		if resp.err != nil && resp.err.Code == codeConnClosed {
			return fmt.Errorf("%w: %s interrupted", ErrServerNotRunning, method)
		}
		if resp.err != nil {
			return &RPCError{Code: resp.err.Code, Message: resp.err.Message, Data: resp.err.Data}
		}
		if result == nil || len(resp.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.result, result); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, method, err)
		}
		return nil
	}
}

// Notify sends a notification. No response is expected.
func (c *Conn) Notify(method string, params any) error {
	if c.closed.Load() {
		return ErrServerNotRunning
	}
	return c.write(notification{JSONRPC: jsonrpcVersion, Method: method, Params: params})
}

func (c *Conn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := fmt.Fprintf(c.writer, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadLoop reads messages until the stream ends or ctx is done.
//
// Description:
//
//	When the loop exits every pending call fails, so no caller waits on a
//	dead process. End of stream is reported as ErrServerExited unless the
//	connection was closed first.
func (c *Conn) ReadLoop(ctx context.Context) error {
	if c.reader == nil {
		return fmt.Errorf("no reader configured")
	}
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		body, err := c.readMessage()
		if err != nil {
			if c.closed.Load() {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrServerExited
			}
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(body)
	}
}

func (c *Conn) readMessage() ([]byte, error) {
	contentLength := -1
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid Content-Length %q", value)
		}
		contentLength = n
	}
	if contentLength <= 0 {
		return nil, fmt.Errorf("missing or zero Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *Conn) dispatch(body []byte) {
	var msg incoming
	if err := json.Unmarshal(body, &msg); err != nil {
		slog.Warn("Dropping undecodable analysis message", slog.String("error", err.Error()))
		return
	}

	hasID := len(msg.ID) > 0 && !bytes.Equal(msg.ID, []byte("null"))
	switch {
	case msg.Method != "" && hasID:
		_ = c.write(reply{
			JSONRPC: jsonrpcVersion,
			ID:      msg.ID,
			Error:   &responseError{Code: codeMethodNotFound, Message: "method not found: " + msg.Method},
		})
	case msg.Method != "":
		slog.Debug("Analysis notification", slog.String("method", msg.Method))
	case hasID:
		id, err := strconv.ParseInt(string(msg.ID), 10, 64)
		if err != nil {
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		c.pendingMu.Unlock()
		if ok {
			select {
			case ch <- response{result: msg.Result, err: msg.Error}:
			default:
			}
		}
	}
}

// Close stops further sends and fails every pending call. It does not
// close the underlying streams.
func (c *Conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- response{err: &responseError{Code: codeConnClosed, Message: "connection closed"}}:
		default:
		}
		delete(c.pending, id)
	}
}
