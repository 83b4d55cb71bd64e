// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/isurus/services/diagnosis/api"
	"github.com/AleutianAI/isurus/services/diagnosis/corpus"
)

var servePort int

// runServe executes the serve command.
//
// # Description
//
// Starts the analysis service, loads and then watches the workspace, and
// serves the HTTP API until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.loadCorpus(ctx); err != nil {
		return err
	}

	watcher, err := corpus.NewWatcher(a.corpus, corpus.DefaultDebounce)
	if err != nil {
		return err
	}
	defer watcher.Stop()
	go func() {
		if err := watcher.Run(ctx); err != nil {
			slog.Warn("Corpus watcher stopped", slog.String("error", err.Error()))
		}
	}()

	var suggester api.Suggester
	if a.memo != nil {
		suggester = a.memo
	}
	router := api.NewRouter("isurus", api.NewHandlers(a.engine, suggester, a.recorder))

	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting isurus API", slog.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down isurus API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
