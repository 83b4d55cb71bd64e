// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis drives the static analysis service, a child process that
// speaks JSON-RPC over its stdin and stdout and reports the CRUD graph of
// the workspace it was initialized with.
package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/isurus/services/diagnosis/crud"
)

// DefaultRequestTimeout bounds a single request when the caller's context
// has no deadline.
const DefaultRequestTimeout = 2 * time.Minute

// shutdownGrace is how long the process gets to exit before it is killed.
const shutdownGrace = 5 * time.Second

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle state of the analysis service.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateStopping
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// CLIENT
// =============================================================================

// Config describes how to launch the analysis service.
type Config struct {
	// Command is the binary, looked up on PATH.
	Command string

	Args []string

	// RootPath is the workspace sent in the initialize request. The process
	// also runs with RootPath as its working directory.
	RootPath string

	// RequestTimeout bounds each request. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
}

type initializeParams struct {
	RootPath string `json:"rootPath"`
}

type addFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Client is a running analysis service.
//
// Description:
//
//	Start spawns the process and performs the initialize request. CRUD and
//	AddFile are then safe to call from any goroutine until Shutdown.
//
// Thread Safety:
//
//	Safe for concurrent use after Start returns successfully.
type Client struct {
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	conn   *Conn

	state   State
	stateMu sync.RWMutex

	cancel   context.CancelFunc
	readDone chan struct{}
}

// NewClient creates a client. The process is not started.
func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Client{
		cfg:      cfg,
		state:    StateUninitialized,
		readDone: make(chan struct{}),
	}
}

// Start launches the service and sends initialize {rootPath}.
//
// Errors:
//
//	ErrServerNotInstalled - Command not found on PATH
//	ErrServerAlreadyStarted - Start called twice
//	ErrInitializeFailed - The initialize request failed
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	c.stateMu.Lock()
	if c.state != StateUninitialized {
		c.stateMu.Unlock()
		return ErrServerAlreadyStarted
	}
	c.state = StateStarting
	c.stateMu.Unlock()

	path, err := exec.LookPath(c.cfg.Command)
	if err != nil {
		c.setState(StateStopped)
		slog.Warn("Analysis service not installed", slog.String("command", c.cfg.Command))
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, c.cfg.Command)
	}

	slog.Info("Starting analysis service",
		slog.String("command", path),
		slog.String("root_path", c.cfg.RootPath),
	)

	// The process outlives the caller's context.
	procCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.cmd = exec.CommandContext(procCtx, path, c.cfg.Args...)
	c.cmd.Dir = c.cfg.RootPath

	if c.stdin, err = c.cmd.StdinPipe(); err != nil {
		c.cleanup()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if c.stdout, err = c.cmd.StdoutPipe(); err != nil {
		c.cleanup()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := c.cmd.Start(); err != nil {
		c.cleanup()
		return fmt.Errorf("start process: %w", err)
	}

	c.attach(procCtx, c.stdout, c.stdin)

	if err := c.initialize(ctx); err != nil {
		_ = c.Shutdown(ctx)
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	c.setState(StateReady)
	slog.Info("Analysis service ready", slog.String("root_path", c.cfg.RootPath))
	return nil
}

// attach wires a connection over r and w and starts its read loop.
func (c *Client) attach(ctx context.Context, r io.Reader, w io.Writer) {
	c.conn = NewConn(r, w)
	go func() {
		defer close(c.readDone)
		if err := c.conn.ReadLoop(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("Analysis service connection lost", slog.String("error", err.Error()))
			c.setState(StateStopped)
		}
	}()
}

func (c *Client) initialize(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.conn.Call(ctx, "initialize", initializeParams{RootPath: c.cfg.RootPath}, nil)
}

// CRUD fetches the CRUD graph of the workspace.
func (c *Client) CRUD(ctx context.Context) (crud.Response, error) {
	var resp crud.Response
	err := c.call(ctx, "crud", nil, &resp)
	return resp, err
}

// AddFile sends one workspace file to the service.
func (c *Client) AddFile(ctx context.Context, path, content string) error {
	return c.call(ctx, "addFile", addFileParams{Path: path, Content: content}, nil)
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if c.State() != StateReady {
		return ErrServerNotRunning
	}

	ctx, span := tracer.Start(ctx, "analysis."+method)
	defer span.End()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := c.conn.Call(ctx, method, params, result)
	recordCall(ctx, method, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Bool("success", true))
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// Shutdown stops the service. The process gets a grace period after its
// stdin closes and is killed afterwards. Multiple calls are safe.
func (c *Client) Shutdown(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state == StateStopped || c.state == StateStopping {
		c.stateMu.Unlock()
		return nil
	}
	c.state = StateStopping
	c.stateMu.Unlock()

	slog.Info("Shutting down analysis service")
	defer c.cleanup()

	if c.conn != nil {
		c.conn.Close()
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}

	if c.cmd != nil && c.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()

		select {
		case <-done:
		case <-ctx.Done():
			_ = c.cmd.Process.Kill()
			<-done
		case <-time.After(shutdownGrace):
			_ = c.cmd.Process.Kill()
			<-done
		}
	}

	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		select {
		case <-c.readDone:
		case <-time.After(time.Second):
		}
	}
	return nil
}

func (c *Client) cleanup() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.stdout != nil {
		_ = c.stdout.Close()
	}
	c.setState(StateStopped)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}
