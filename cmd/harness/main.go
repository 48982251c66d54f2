// Copyright 2024 Ingest Harness Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the fixture harness CLI: it runs one ingestion
// scenario against the external ingestion tool and verifies the structured
// output against the scenario's golden fixture.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/ingest-harness/internal/config"
	"github.com/your-org/ingest-harness/internal/history"
	"github.com/your-org/ingest-harness/internal/runner"
	"github.com/your-org/ingest-harness/internal/scenario"
	"github.com/your-org/ingest-harness/internal/watch"
)

const defaultScenario = "pdf-fast-reprocess"

var (
	scenarioName   string
	configPath     string
	scenariosFile  string
	updateFixtures bool
	skipCompare    bool
	watchMode      bool
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	rootCmd := &cobra.Command{
		Use:           "harness",
		Short:         "Ingestion fixture harness",
		Long:          "Runs a named ingestion scenario and diffs its structured output against a golden fixture.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), logger)
		},
	}

	rootCmd.Flags().StringVarP(&scenarioName, "scenario", "n", defaultScenario, "Scenario name to run")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "Path to configuration file")
	rootCmd.Flags().StringVar(&scenariosFile, "scenarios-file", "./configs/scenarios.yaml", "Path to scenarios file")
	rootCmd.Flags().BoolVarP(&updateFixtures, "update-fixtures", "u", false, "Refresh the golden fixture from actual output instead of comparing")
	rootCmd.Flags().BoolVar(&skipCompare, "skip-compare", false, "Run ingestion only, skipping the fixture comparison")
	rootCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Re-run the scenario when its input or fixture changes")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("Harness failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(runner.ExitCode(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	registry, err := scenario.Load(scenariosFile)
	if err != nil {
		return fmt.Errorf("failed to load scenarios: %w", err)
	}

	var recorder runner.Recorder
	store, err := history.NewStore(cfg.History.DBPath, logger)
	if err != nil {
		logger.Warn("Run history disabled", zap.Error(err))
	} else {
		recorder = store
		defer func() { _ = store.Close() }()
	}

	r := runner.New(cfg, registry, nil, recorder, logger)
	opts := runner.Options{SkipCompare: skipCompare, UpdateFixture: updateFixtures}

	if watchMode {
		return runWatch(ctx, cfg, registry, r, opts, logger)
	}

	result, err := r.Run(ctx, scenarioName, opts)
	report(result, logger)
	return err
}

// runWatch performs an initial run, then re-runs the scenario after each
// change to its input document or expected fixture tree.
func runWatch(
	ctx context.Context,
	cfg *config.Config,
	registry *scenario.Registry,
	r *runner.Runner,
	opts runner.Options,
	logger *zap.Logger,
) error {
	root, err := runner.FindRoot(cfg.Project.Root, cfg.Project.Marker)
	if err != nil {
		return err
	}

	scen, err := registry.Get(scenarioName)
	if err != nil {
		return err
	}

	result, runErr := r.Run(ctx, scenarioName, opts)
	report(result, logger)
	if runErr != nil {
		logger.Warn("Initial run failed; watching for changes", zap.Error(runErr))
	}

	inputPath := filepath.Join(root, scen.Input)
	fixtureDir := filepath.Join(root, cfg.Output.ExpectedDir, scen.Name)

	candidates := []string{filepath.Dir(inputPath), fixtureDir}
	var paths []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			logger.Warn("Skipping missing watch path", zap.String("path", p))
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return fmt.Errorf("nothing to watch for scenario %q", scenarioName)
	}

	w := watch.New(paths, logger)
	// The input's whole directory is watched because fsnotify cannot watch a
	// single file; only the input document itself and the fixture tree should
	// trigger re-runs.
	w.SetFilter(func(name string) bool {
		return name == inputPath ||
			name == fixtureDir ||
			strings.HasPrefix(name, fixtureDir+string(os.PathSeparator))
	})
	err = w.Run(ctx, func() {
		result, runErr := r.Run(ctx, scenarioName, opts)
		report(result, logger)
		if runErr != nil {
			logger.Warn("Run failed", zap.Error(runErr))
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// report prints a one-line human summary alongside the structured logs.
func report(result *runner.Result, logger *zap.Logger) {
	if result == nil {
		return
	}

	status := "FAIL"
	if result.Passed {
		status = "PASS"
	}
	fmt.Printf("%s %s (%s)\n", status, result.Scenario, result.Duration.Round(time.Millisecond))

	if result.Comparison != nil {
		for _, m := range result.Comparison.Mismatches {
			fmt.Printf("  %s: %s\n", m.File, m.Reason)
			if m.Diff != "" {
				fmt.Println(m.Diff)
			}
		}
	}

	logger.Info("Scenario finished",
		zap.String("scenario", result.Scenario),
		zap.Bool("passed", result.Passed),
		zap.Int("ingest_exit", result.IngestExit),
		zap.Int("compare_exit", result.CompareExit),
		zap.Duration("duration", result.Duration))
}
