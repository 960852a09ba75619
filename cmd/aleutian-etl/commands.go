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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianETL/pkg/logging"
	"github.com/AleutianAI/AleutianETL/services/etl/app"
	"github.com/AleutianAI/AleutianETL/services/etl/config"
	"github.com/AleutianAI/AleutianETL/services/etl/dag"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errRunFailed makes the process exit non-zero after the result was printed.
var errRunFailed = errors.New("run failed")

var (
	configPath   string
	watchInputs  bool
	outputFormat string

	rootCmd = &cobra.Command{
		Use:   "aleutian-etl",
		Short: "Streaming data ETL pipeline",
		Long: `aleutian-etl loads user and viewing-session CSV exports into a
relational warehouse through an eight step pipeline, and a JSON content
catalogue into a document store. It runs as an HTTP service or one-shot.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE:  runServe,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute the pipeline once and print the final status",
		RunE:  runPipelineOnce,
	}

	loadContentCmd = &cobra.Command{
		Use:   "load-content",
		Short: "Load the content catalogue into the document store once",
		RunE:  runLoadContent,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to a YAML configuration file (environment variables override it)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&watchInputs, "watch", false,
		"Start the pipeline whenever an input CSV changes")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json or yaml")

	rootCmd.AddCommand(loadContentCmd)
	loadContentCmd.Flags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json or yaml")

	rootCmd.AddCommand(versionCmd)
}

// bootstrap loads the configuration, installs the logger and builds the app.
func bootstrap(ctx context.Context) (*app.App, config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cfg, nil, err
	}
	// An unset --watch keeps the configured value.
	if watchInputs {
		cfg.Watch.Enabled = true
	}
	lcfg, err := cfg.Logging(app.ServiceName)
	if err != nil {
		return nil, cfg, nil, err
	}
	logger, err := logging.New(lcfg)
	if err != nil {
		logger.Slog().Warn("file logging disabled", slog.String("error", err.Error()))
	}
	slog.SetDefault(logger.Slog())

	a, err := app.New(ctx, cfg, logger.Slog())
	if err != nil {
		_ = logger.Close()
		return nil, cfg, nil, err
	}
	return a, cfg, logger, nil
}

func shutdown(a *app.App, logger *logging.Logger, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		slog.Error("shutdown incomplete", slog.String("error", err.Error()))
	}
	_ = logger.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cfg, logger, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer shutdown(a, logger, cfg.Server.ShutdownTimeout)

	slog.Info("starting ETL service", slog.String("version", version), slog.Int("port", cfg.Server.Port))
	return a.Serve(ctx)
}

func runPipelineOnce(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(outputFormat); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cfg, logger, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer shutdown(a, logger, cfg.Server.ShutdownTimeout)

	if _, err := a.Runner().Start(ctx); err != nil {
		return err
	}
	snap, err := a.Runner().Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for pipeline: %w", err)
	}
	if err := writeOutput(cmd.OutOrStdout(), outputFormat, snap); err != nil {
		return err
	}
	if snap.Status != dag.RunSucceeded {
		return fmt.Errorf("%w: %s", errRunFailed, snap.Error)
	}
	return nil
}

func runLoadContent(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(outputFormat); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cfg, logger, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer shutdown(a, logger, cfg.Server.ShutdownTimeout)

	res, runErr := a.Loader().Run(ctx)
	if err := writeOutput(cmd.OutOrStdout(), outputFormat, res); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("%w: %w", errRunFailed, runErr)
	}
	return nil
}
