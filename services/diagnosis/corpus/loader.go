// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package corpus feeds the workspace's source files to the analysis
// service, once at startup and then on every change.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FileSink receives file contents. Paths are slash-separated and relative
// to the workspace root.
type FileSink interface {
	AddFile(ctx context.Context, path, content string) error
}

// Extensions lists the file types sent to the analysis service.
var Extensions = []string{".go", ".sql", ".html", ".md", ".cnf", ".conf"}

// SkipDirs are directory names never descended into.
var SkipDirs = []string{"vendor", ".git", "node_modules"}

// Loader sends every eligible file under Root to a sink.
type Loader struct {
	root string
	sink FileSink
}

// NewLoader creates a Loader for root.
func NewLoader(root string, sink FileSink) *Loader {
	return &Loader{root: root, sink: sink}
}

// Root returns the workspace root.
func (l *Loader) Root() string { return l.root }

// Load walks the workspace and sends each eligible file.
//
// # Description
//
// Files are sent sequentially in lexical walk order. An unreadable file is
// logged and skipped. A sink error aborts the walk, since a sink that fails
// once (a stopped analysis service) will fail for every file.
//
// # Outputs
//
//   - int: Number of files sent.
//   - error: A walk or sink error, or ctx.Err() on cancellation.
func (l *Loader) Load(ctx context.Context) (int, error) {
	if ctx == nil {
		return 0, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := tracer.Start(ctx, "corpus.Load")
	defer span.End()

	sent := 0
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == l.root {
				return err
			}
			slog.Debug("Skipping unreadable path", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != l.root && slices.Contains(SkipDirs, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !Eligible(l.rel(path)) {
			return nil
		}

		if err := l.send(ctx, path); err != nil {
			if errors.Is(err, errUnreadable) {
				return nil
			}
			return err
		}
		sent++
		return nil
	})

	recordLoad(ctx, sent, err == nil)
	if err != nil {
		return sent, fmt.Errorf("loading corpus from %s: %w", l.root, err)
	}
	slog.Info("Corpus loaded", slog.String("root", l.root), slog.Int("files", sent))
	return sent, nil
}

var errUnreadable = errors.New("unreadable file")

// send reads path and forwards it under its root-relative name.
func (l *Loader) send(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Skipping unreadable file", slog.String("path", path), slog.String("error", err.Error()))
		return errUnreadable
	}
	return l.sink.AddFile(ctx, l.rel(path), string(content))
}

// rel returns path relative to the root, slash-separated.
func (l *Loader) rel(path string) string {
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Eligible reports whether a root-relative path has a sent extension and
// lies outside the skipped directories.
func Eligible(path string) bool {
	if !slices.Contains(Extensions, strings.ToLower(filepath.Ext(path))) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if slices.Contains(SkipDirs, part) {
			return false
		}
	}
	return true
}
