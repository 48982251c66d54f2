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

// Package main provides the standalone fixture comparison CLI. It takes one
// positional argument, the scenario name, locates the actual and expected
// output trees under the project root, and reports the diff result through
// its exit status: 0 on match, 1 on mismatch, 2 on operational failure.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/ingest-harness/internal/compare"
	"github.com/your-org/ingest-harness/internal/config"
	"github.com/your-org/ingest-harness/internal/runner"
	"github.com/your-org/ingest-harness/internal/scenario"
)

var (
	configPath    string
	scenariosFile string
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	rootCmd := &cobra.Command{
		Use:           "compare <scenario>",
		Short:         "Diff a scenario's structured output against its golden fixture",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0], logger)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "Path to configuration file")
	rootCmd.Flags().StringVar(&scenariosFile, "scenarios-file", "./configs/scenarios.yaml", "Path to scenarios file")

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Comparison failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(runner.ExitCode(err))
	}
}

func run(name string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	root, err := runner.FindRoot(cfg.Project.Root, cfg.Project.Marker)
	if err != nil {
		return &runner.StepError{Step: "resolve-root", Code: runner.ExitError, Err: err}
	}

	// Unknown scenario names still compare with the default exclude list, so
	// ad-hoc output folders can be checked without registering a scenario.
	excludes := scenario.DefaultMetadataExcludes
	if registry, err := scenario.Load(scenariosFile); err == nil {
		if scen, err := registry.Get(name); err == nil {
			excludes = scen.Excludes()
		}
	}

	excluder, err := compare.NewExcluder(excludes)
	if err != nil {
		return &runner.StepError{Step: "compare", Code: runner.ExitError, Err: err}
	}

	comparer := compare.NewComparer(excluder, logger)
	expectedDir := filepath.Join(root, cfg.Output.ExpectedDir, name)
	actualDir := filepath.Join(root, cfg.Output.Dir, name)

	result, err := comparer.CompareDirs(name, expectedDir, actualDir)
	if err != nil {
		return &runner.StepError{Step: "compare", Code: runner.ExitError, Err: err}
	}

	if !result.Equal() {
		for _, m := range result.Mismatches {
			fmt.Printf("%s: %s\n", m.File, m.Reason)
			if m.Diff != "" {
				fmt.Println(m.Diff)
			}
		}
		return &runner.StepError{
			Step: "compare",
			Code: runner.ExitMismatch,
			Err:  fmt.Errorf("%d artifact(s) differ from fixture", len(result.Mismatches)),
		}
	}

	fmt.Printf("PASS %s (%d files)\n", name, result.Files)
	return nil
}
