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

// Package runner executes one ingestion scenario end-to-end: it resolves the
// project root, invokes the external ingestion CLI, and diffs the structured
// output against the scenario's golden fixture.
//
// Failure handling is two-phase. Root resolution and the ingestion
// invocation are strict: any failure aborts immediately and the comparison
// never runs. The comparison itself is relaxed: it runs exactly once and its
// status becomes the overall result, with no further escalation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/ingest-harness/internal/compare"
	"github.com/your-org/ingest-harness/internal/config"
	"github.com/your-org/ingest-harness/internal/history"
	"github.com/your-org/ingest-harness/internal/scenario"
)

const (
	// ExitMismatch is the exit code for a fixture comparison failure
	ExitMismatch = 1
	// ExitError is the exit code for operational failures (bad root, unreadable trees)
	ExitError = 2
)

// StepError carries the failing step and the exit status the harness must
// propagate to its caller.
type StepError struct {
	Step string
	Code int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed with exit code %d: %v", e.Step, e.Code, e.Err)
}

// Unwrap returns the underlying error
func (e *StepError) Unwrap() error {
	return e.Err
}

// ExitCode extracts the exit status the process should terminate with.
// Non-step errors map to ExitError.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Code
	}
	return ExitError
}

// Execer runs an external command. The real implementation shells out; tests
// substitute a mock.
type Execer interface {
	Run(ctx context.Context, name string, args []string) error
}

// CommandExecer is the os/exec-backed Execer used outside tests.
type CommandExecer struct{}

// Run executes the command with inherited stdout/stderr so ingestion logs
// stream through.
func (CommandExecer) Run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Recorder persists run outcomes; satisfied by *history.Store.
type Recorder interface {
	RecordRun(run history.Run) error
}

// Options control optional runner behavior for one invocation.
type Options struct {
	// SkipCompare runs ingestion only.
	SkipCompare bool
	// UpdateFixture refreshes the golden tree from actual output instead of comparing.
	UpdateFixture bool
}

// Result summarizes one completed (or aborted) scenario run.
type Result struct {
	Scenario    string
	Root        string
	OutputDir   string
	IngestExit  int
	CompareExit int
	Passed      bool
	Duration    time.Duration
	Comparison  *compare.Result
}

// Runner orchestrates scenario execution.
type Runner struct {
	cfg      *config.Config
	registry *scenario.Registry
	execer   Execer
	recorder Recorder
	logger   *zap.Logger
}

// New creates a runner. recorder may be nil, in which case runs are not persisted.
func New(cfg *config.Config, registry *scenario.Registry, execer Execer, recorder Recorder, logger *zap.Logger) *Runner {
	if execer == nil {
		execer = CommandExecer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		registry: registry,
		execer:   execer,
		recorder: recorder,
		logger:   logger,
	}
}

// Run executes the named scenario. The returned error's ExitCode is the
// status the harness process must exit with; a nil error means the run
// passed.
func (r *Runner) Run(ctx context.Context, name string, opts Options) (*Result, error) {
	started := time.Now()

	// Strict phase: a bad root is fatal before anything runs.
	root, err := FindRoot(r.cfg.Project.Root, r.cfg.Project.Marker)
	if err != nil {
		return nil, &StepError{Step: "resolve-root", Code: ExitError, Err: err}
	}

	scen, err := r.registry.Get(name)
	if err != nil {
		return nil, &StepError{Step: "resolve-scenario", Code: ExitError, Err: err}
	}

	outputDir := filepath.Join(root, r.cfg.Output.Dir, scen.Name)
	result := &Result{Scenario: scen.Name, Root: root, OutputDir: outputDir}

	// The output directory is overwritten, never merged, on each run.
	if err := resetDir(outputDir); err != nil {
		return result, &StepError{Step: "prepare-output", Code: ExitError, Err: err}
	}

	args, err := scen.Args(root, outputDir, r.cfg.Ingest.Verbose)
	if err != nil {
		return result, &StepError{Step: "build-args", Code: ExitError, Err: err}
	}

	// Strict phase: a nonzero ingestion exit aborts before the comparison
	// ever runs, propagating the ingestion CLI's own status.
	if err := r.runIngest(ctx, scen, args, result); err != nil {
		result.Duration = time.Since(started)
		r.record(result, started, err)
		return result, err
	}

	if opts.SkipCompare {
		result.Passed = true
		result.Duration = time.Since(started)
		r.record(result, started, nil)
		return result, nil
	}

	// Relaxed phase: the comparison runs exactly once and its status is the
	// final status. A mismatch is reported, not escalated.
	err = r.runCompare(root, scen, outputDir, opts, result)
	result.Duration = time.Since(started)
	r.record(result, started, err)
	return result, err
}

// runIngest invokes the external ingestion CLI for the scenario.
func (r *Runner) runIngest(ctx context.Context, scen scenario.Scenario, args []string, result *Result) error {
	if r.cfg.Ingest.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.Ingest.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	r.logger.Info("Running ingestion",
		zap.String("scenario", scen.Name),
		zap.String("command", r.cfg.Ingest.Command),
		zap.Strings("args", args))

	if err := r.execer.Run(ctx, r.cfg.Ingest.Command, args); err != nil {
		code := ExitError
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		result.IngestExit = code
		r.logger.Error("Ingestion failed",
			zap.String("scenario", scen.Name),
			zap.Int("exit_code", code),
			zap.Error(err))
		return &StepError{Step: "ingest", Code: code, Err: err}
	}

	return nil
}

// runCompare diffs (or refreshes) the golden fixture for the scenario.
func (r *Runner) runCompare(root string, scen scenario.Scenario, outputDir string, opts Options, result *Result) error {
	excluder, err := compare.NewExcluder(scen.Excludes())
	if err != nil {
		result.CompareExit = ExitError
		return &StepError{Step: "compare", Code: ExitError, Err: err}
	}

	comparer := compare.NewComparer(excluder, r.logger)
	expectedDir := filepath.Join(root, r.cfg.Output.ExpectedDir, scen.Name)

	if opts.UpdateFixture {
		if err := comparer.UpdateFixture(expectedDir, outputDir); err != nil {
			result.CompareExit = ExitError
			return &StepError{Step: "update-fixture", Code: ExitError, Err: err}
		}
		result.Passed = true
		return nil
	}

	comparison, err := comparer.CompareDirs(scen.Name, expectedDir, outputDir)
	if err != nil {
		result.CompareExit = ExitError
		return &StepError{Step: "compare", Code: ExitError, Err: err}
	}

	result.Comparison = comparison
	if !comparison.Equal() {
		result.CompareExit = ExitMismatch
		return &StepError{
			Step: "compare",
			Code: ExitMismatch,
			Err:  fmt.Errorf("%d artifact(s) differ from fixture", len(comparison.Mismatches)),
		}
	}

	result.Passed = true
	return nil
}

// record persists the run outcome, best-effort.
func (r *Runner) record(result *Result, started time.Time, runErr error) {
	if r.recorder == nil {
		return
	}

	run := history.Run{
		Scenario:    result.Scenario,
		StartedAt:   started,
		FinishedAt:  started.Add(result.Duration),
		IngestExit:  result.IngestExit,
		CompareExit: result.CompareExit,
		Passed:      result.Passed,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if err := r.recorder.RecordRun(run); err != nil {
		r.logger.Warn("Failed to record run", zap.String("scenario", result.Scenario), zap.Error(err))
	}
}

// resetDir clears and recreates a directory.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear output directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}
