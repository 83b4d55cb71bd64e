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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/isurus/cmd/isurus/config"
	"github.com/AleutianAI/isurus/pkg/logging"
)

const version = "0.1.0"

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	logDir     string

	// cfg and logger are set by the root PersistentPreRunE.
	cfg    config.IsurusConfig
	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:          "isurus",
		Short:        "Diagnose slow SQL and hot processes after a benchmark",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyLogFlags(cmd, &loaded)
			l, err := newLogger(loaded.Log)
			if err != nil {
				return err
			}
			cfg, logger = loaded, l
			slog.SetDefault(logger.Slog())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	diagnoseCmd = &cobra.Command{
		Use:   "diagnose",
		Short: "Run CPU triage and the SQL diagnosis for the latest benchmark",
		Args:  cobra.NoArgs,
		RunE:  runDiagnose, // Defined in cmd_diagnose.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve diagnoses and suggestions over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	loadCmd = &cobra.Command{
		Use:   "load",
		Short: "Send the workspace sources to the analysis service",
		Args:  cobra.NoArgs,
		RunE:  runLoad, // Defined in cmd_load.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.isurus/isurus.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "directory for log files")

	diagnoseCmd.Flags().BoolVar(&diagnoseJSON, "json", false, "print the report as JSON")
	diagnoseCmd.Flags().BoolVar(&diagnoseSQLOnly, "sql-only", false, "skip CPU triage and diagnose SQL directly")
	diagnoseCmd.Flags().BoolVar(&diagnoseSuggest, "suggest", false, "generate a fix for every plan")

	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")

	loadCmd.Flags().BoolVar(&loadWatch, "watch", false, "keep re-sending files as they change")

	rootCmd.AddCommand(diagnoseCmd, serveCmd, loadCmd)
}

// applyLogFlags lets --log-level and --log-dir override the config.
func applyLogFlags(cmd *cobra.Command, c *config.IsurusConfig) {
	if cmd.Flags().Changed("log-level") {
		c.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-dir") {
		c.Log.Dir = logDir
	}
}

func newLogger(c config.LogConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  c.Dir,
		Service: "isurus",
		JSON:    c.JSON,
	})
}
