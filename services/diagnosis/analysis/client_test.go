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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handlerFunc answers one request of the fake service.
type handlerFunc func(method string, params json.RawMessage) (any, *responseError)

type fakeService struct {
	mu            sync.Mutex
	notifications []string
	serverW       *io.PipeWriter
}

// newTestClient returns a ready client wired to an in-memory service.
func newTestClient(t *testing.T, handle handlerFunc) (*Client, *fakeService) {
	t.Helper()

	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()

	svc := &fakeService{serverW: serverW}
	srv := NewConn(serverR, serverW)

	go func() {
		for {
			body, err := srv.readMessage()
			if err != nil {
				return
			}
			var msg struct {
				ID     *int64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(body, &msg); err != nil {
				return
			}
			if msg.ID == nil {
				svc.mu.Lock()
				svc.notifications = append(svc.notifications, msg.Method)
				svc.mu.Unlock()
				continue
			}
			go func(id int64) {
				result, rerr := handle(msg.Method, msg.Params)
				out := struct {
					JSONRPC string         `json:"jsonrpc"`
					ID      int64          `json:"id"`
					Result  any            `json:"result,omitempty"`
					Error   *responseError `json:"error,omitempty"`
				}{JSONRPC: jsonrpcVersion, ID: id, Result: result, Error: rerr}
				_ = srv.write(out)
			}(*msg.ID)
		}
	}()

	c := NewClient(Config{RootPath: "/workspace", RequestTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	c.attach(ctx, clientR, clientW)
	c.setState(StateReady)

	t.Cleanup(func() {
		cancel()
		_ = serverW.Close()
		_ = clientW.Close()
		_ = serverR.Close()
		_ = clientR.Close()
	})
	return c, svc
}

func TestClient_CRUD(t *testing.T) {
	c, _ := newTestClient(t, func(method string, _ json.RawMessage) (any, *responseError) {
		assert.Equal(t, "crud", method)
		return json.RawMessage(`{
			"functions": [{
				"id": "f1", "name": "getUser",
				"position": {"file": "main.go", "start": {"line": 10, "column": 1}, "end": {"line": 20, "column": 2}},
				"namePosition": {"file": "main.go", "start": {"line": 10, "column": 6}, "end": {"line": 10, "column": 13}},
				"calls": [{"functionId": "f2", "inLoop": true}],
				"queries": [{"tableId": "t1", "type": "select", "raw": "SELECT * FROM users WHERE id = ?", "inLoop": false}]
			}],
			"tables": [{"id": "t1", "name": "users"}]
		}`), nil
	})

	resp, err := c.CRUD(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Functions, 1)
	fn := resp.Functions[0]
	assert.Equal(t, "getUser", fn.Name)
	assert.Equal(t, 10, fn.NamePosition.Start.Line)
	require.Len(t, fn.Calls, 1)
	assert.True(t, fn.Calls[0].InLoop)
	require.Len(t, fn.Queries, 1)
	assert.Equal(t, "t1", fn.Queries[0].TableID)
	assert.Equal(t, []string{"users"}, []string{resp.Tables[0].Name})
}

func TestClient_AddFile(t *testing.T) {
	var got addFileParams
	c, _ := newTestClient(t, func(method string, params json.RawMessage) (any, *responseError) {
		assert.Equal(t, "addFile", method)
		assert.NoError(t, json.Unmarshal(params, &got))
		return nil, nil
	})

	require.NoError(t, c.AddFile(context.Background(), "db/schema.sql", "CREATE TABLE users (id int);"))
	assert.Equal(t, "db/schema.sql", got.Path)
	assert.Equal(t, "CREATE TABLE users (id int);", got.Content)
}

func TestClient_Initialize(t *testing.T) {
	var got initializeParams
	c, _ := newTestClient(t, func(method string, params json.RawMessage) (any, *responseError) {
		assert.Equal(t, "initialize", method)
		assert.NoError(t, json.Unmarshal(params, &got))
		return map[string]any{}, nil
	})

	require.NoError(t, c.initialize(context.Background()))
	assert.Equal(t, "/workspace", got.RootPath)
}

func TestClient_RPCError(t *testing.T) {
	c, _ := newTestClient(t, func(string, json.RawMessage) (any, *responseError) {
		return nil, &responseError{Code: codeMethodNotFound, Message: "unknown method"}
	})

	_, err := c.CRUD(context.Background())
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.True(t, rpcErr.IsMethodNotFound())
	assert.Contains(t, rpcErr.Error(), "unknown method")
}

func TestClient_InvalidResult(t *testing.T) {
	c, _ := newTestClient(t, func(string, json.RawMessage) (any, *responseError) {
		return []int{1, 2, 3}, nil
	})

	_, err := c.CRUD(context.Background())
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	c, _ := newTestClient(t, func(string, json.RawMessage) (any, *responseError) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.CRUD(ctx)
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

func TestClient_ServiceExit(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	c, svc := newTestClient(t, func(string, json.RawMessage) (any, *responseError) {
		<-block
		return nil, nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CRUD(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = svc.serverW.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrServerNotRunning)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not fail after the service exited")
	}

	assert.Eventually(t, func() bool { return c.State() == StateStopped }, time.Second, 10*time.Millisecond)
	_, err := c.CRUD(context.Background())
	assert.ErrorIs(t, err, ErrServerNotRunning)
}

func TestClient_NotRunning(t *testing.T) {
	c := NewClient(Config{Command: "isurus-analyzer"})
	_, err := c.CRUD(context.Background())
	assert.ErrorIs(t, err, ErrServerNotRunning)
	assert.ErrorIs(t, c.AddFile(context.Background(), "a.go", ""), ErrServerNotRunning)
}

func TestClient_StartNotInstalled(t *testing.T) {
	c := NewClient(Config{Command: "isurus-analyzer-that-does-not-exist"})
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrServerNotInstalled)
	assert.Equal(t, StateStopped, c.State())

	assert.ErrorIs(t, c.Start(context.Background()), ErrServerAlreadyStarted)
}

func TestClient_ShutdownIdempotent(t *testing.T) {
	c, _ := newTestClient(t, func(string, json.RawMessage) (any, *responseError) { return nil, nil })
	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, c.State())
}

func TestConn_ReadMessage(t *testing.T) {
	t.Run("reads valid message", func(t *testing.T) {
		msg := `{"jsonrpc":"2.0","id":1,"result":null}`
		c := NewConn(strings.NewReader(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(msg), msg)), nil)

		body, err := c.readMessage()
		require.NoError(t, err)
		assert.Equal(t, msg, string(body))
	})

	t.Run("ignores other headers", func(t *testing.T) {
		msg := `{"jsonrpc":"2.0","id":1,"result":null}`
		input := fmt.Sprintf("Content-Type: application/vscode-jsonrpc; charset=utf-8\r\ncontent-length: %d\r\n\r\n%s", len(msg), msg)
		c := NewConn(strings.NewReader(input), nil)

		body, err := c.readMessage()
		require.NoError(t, err)
		assert.Equal(t, msg, string(body))
	})

	t.Run("missing Content-Length", func(t *testing.T) {
		c := NewConn(strings.NewReader("\r\n{}"), nil)
		_, err := c.readMessage()
		assert.Error(t, err)
	})

	t.Run("EOF on empty input", func(t *testing.T) {
		c := NewConn(strings.NewReader(""), nil)
		_, err := c.readMessage()
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestConn_Write(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(nil, &buf)

	require.NoError(t, c.Notify("initialized", struct{}{}))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Content-Length: "))
	assert.Contains(t, out, `"method":"initialized"`)
	assert.NotContains(t, out, `"id":`)
}

func TestConn_AnswersServiceRequests(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(nil, &buf)

	c.dispatch([]byte(`{"jsonrpc":"2.0","id":"abc","method":"workspace/configuration","params":{}}`))

	out := buf.String()
	assert.Contains(t, out, `"id":"abc"`)
	assert.Contains(t, out, fmt.Sprintf(`"code":%d`, codeMethodNotFound))
}

func TestConn_ClosedRejectsSends(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(nil, &buf)
	c.Close()

	err := c.Call(context.Background(), "crud", nil, nil)
	assert.True(t, errors.Is(err, ErrServerNotRunning))
	assert.ErrorIs(t, c.Notify("exit", nil), ErrServerNotRunning)
}

// closingWriter closes the connection while a request is being written,
// after the call has registered for its response.
type closingWriter struct {
	conn *Conn
}

func (w *closingWriter) Write(p []byte) (int, error) {
	w.conn.Close()
	return len(p), nil
}

func TestConn_CloseDuringCallFailsFast(t *testing.T) {
	w := &closingWriter{}
	c := NewConn(nil, w)
	w.conn = c

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := c.Call(ctx, "crud", nil, nil)
	assert.ErrorIs(t, err, ErrServerNotRunning)
	assert.NotErrorIs(t, err, ErrRequestTimeout)
	assert.Less(t, time.Since(start), time.Second)

	c.pendingMu.Lock()
	assert.Empty(t, c.pending)
	c.pendingMu.Unlock()
}

func TestConn_NilContext(t *testing.T) {
	c := NewConn(nil, &bytes.Buffer{})
	err := c.Call(nil, "crud", nil, nil) //nolint:staticcheck
	assert.Error(t, err)
}
