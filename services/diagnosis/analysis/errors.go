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
	"errors"
	"fmt"
)

// Sentinel errors for analysis service operations.
var (
	// ErrServerNotRunning indicates the analysis service is not ready.
	ErrServerNotRunning = errors.New("analysis service not running")

	// ErrServerNotInstalled indicates the analysis binary was not found.
	ErrServerNotInstalled = errors.New("analysis service not installed")

	// ErrServerAlreadyStarted indicates Start was called twice.
	ErrServerAlreadyStarted = errors.New("analysis service already started")

	// ErrInitializeFailed indicates the initialize request failed.
	ErrInitializeFailed = errors.New("analysis service initialize failed")

	// ErrRequestTimeout indicates a request outlived its context.
	ErrRequestTimeout = errors.New("analysis request timeout")

	// ErrServerExited indicates the process closed its output stream.
	ErrServerExited = errors.New("analysis service exited")

	// ErrInvalidResponse indicates a result could not be decoded.
	ErrInvalidResponse = errors.New("invalid analysis response")
)

// JSON-RPC error codes used by this package.
const (
	codeMethodNotFound = -32601
	codeConnClosed     = -32099
)

// RPCError is an error returned by the analysis service.
type RPCError struct {
	Code    int
	Message string
	Data    any
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound reports whether the service does not implement the method.
func (e *RPCError) IsMethodNotFound() bool {
	return e.Code == codeMethodNotFound
}
