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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/isurus/services/diagnosis/corpus"
)

var loadWatch bool

// runLoad sends the workspace to the analysis service and, with --watch,
// keeps re-sending changed files until interrupted.
func runLoad(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.corpus.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "loaded %d files from %s\n", n, a.corpus.Root())

	if !loadWatch {
		return nil
	}
	watcher, err := corpus.NewWatcher(a.corpus, corpus.DefaultDebounce)
	if err != nil {
		return err
	}
	defer watcher.Stop()
	if err := watcher.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "re-sent %d changed files\n", watcher.Sent())
	return nil
}
