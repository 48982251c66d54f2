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

package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/ingest-harness/internal/config"
	"github.com/your-org/ingest-harness/internal/history"
	"github.com/your-org/ingest-harness/internal/scenario"
)

type mockExecer struct {
	mock.Mock
}

func (m *mockExecer) Run(ctx context.Context, name string, args []string) error {
	called := m.Called(ctx, name, args)
	return called.Error(0)
}

type fakeRecorder struct {
	runs []history.Run
}

func (f *fakeRecorder) RecordRun(run history.Run) error {
	f.runs = append(f.runs, run)
	return nil
}

func testConfig(root string) *config.Config {
	return &config.Config{
		Project: config.ProjectConfig{Root: root, Marker: "example-docs"},
		Ingest:  config.IngestConfig{Command: "fake-ingest", Verbose: true},
		Output:  config.OutputConfig{Dir: "structured-output", ExpectedDir: "expected-output"},
	}
}

func testRunner(t *testing.T, root string, execer Execer, recorder Recorder) *Runner {
	t.Helper()
	registry, err := scenario.NewRegistry(scenario.Default())
	require.NoError(t, err)
	return New(testConfig(root), registry, execer, recorder, zaptest.NewLogger(t))
}

// outputDirFor mirrors the runner's layout: <root>/structured-output/<scenario>.
func outputDirFor(root, name string) string {
	return filepath.Join(root, "structured-output", name)
}

func seedFixture(t *testing.T, root, name, file, content string) {
	t.Helper()
	dir := filepath.Join(root, "expected-output", name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o600))
}

// writeArtifact returns a mock side effect that drops a file into the
// scenario's output directory, standing in for the ingestion CLI.
func writeArtifact(t *testing.T, dir, file, content string) func(mock.Arguments) {
	t.Helper()
	return func(mock.Arguments) {
		require.NoError(t, os.MkdirAll(dir, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o600))
	}
}

// realExitError produces a genuine *exec.ExitError carrying the given code.
func realExitError(t *testing.T, code int) error {
	t.Helper()
	err := exec.Command("sh", "-c", fmt.Sprintf("exit %d", code)).Run()
	require.Error(t, err)
	return err
}

func TestRunPasses(t *testing.T) {
	root := t.TempDir()
	outputDir := outputDirFor(root, "pdf-fast-reprocess")

	// The fixture and the fresh output differ only in excluded metadata.
	seedFixture(t, root, "pdf-fast-reprocess", "doc.json",
		`[{"text": "hello", "filename": "old.png", "metadata": {"data_source": {"date_processed": "2024-01-01T00:00:00"}}}]`)

	execer := new(mockExecer)
	execer.On("Run", mock.Anything, "fake-ingest", mock.Anything).
		Run(writeArtifact(t, outputDir, "doc.json",
			`[{"text": "hello", "filename": "new.png", "metadata": {"data_source": {"date_processed": "2024-06-30T12:00:00"}}}]`)).
		Return(nil)

	recorder := &fakeRecorder{}
	r := testRunner(t, root, execer, recorder)

	result, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{})
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, 0, ExitCode(err))
	require.NotNil(t, result.Comparison)
	assert.True(t, result.Comparison.Equal())

	require.Len(t, recorder.runs, 1)
	assert.Equal(t, "pdf-fast-reprocess", recorder.runs[0].Scenario)
	assert.True(t, recorder.runs[0].Passed)

	execer.AssertExpectations(t)
}

func TestRunReprocessTwiceComparesEqual(t *testing.T) {
	root := t.TempDir()
	outputDir := outputDirFor(root, "pdf-fast-reprocess")

	seedFixture(t, root, "pdf-fast-reprocess", "doc.json",
		`[{"text": "hello", "filename": "seed.png", "metadata": {"data_source": {"date_processed": "2024-01-01T00:00:00"}}}]`)

	// Each invocation emits fresh values for the excluded fields, as a real
	// reprocessing run would.
	invocation := 0
	execer := new(mockExecer)
	execer.On("Run", mock.Anything, "fake-ingest", mock.Anything).
		Run(func(mock.Arguments) {
			invocation++
			content := fmt.Sprintf(
				`[{"text": "hello", "filename": "run-%d.png", "metadata": {"data_source": {"date_processed": "2024-06-30T12:00:0%d"}}}]`,
				invocation, invocation)
			require.NoError(t, os.MkdirAll(outputDir, 0o750))
			require.NoError(t, os.WriteFile(filepath.Join(outputDir, "doc.json"), []byte(content), 0o600))
		}).
		Return(nil)

	r := testRunner(t, root, execer, nil)

	first, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{})
	require.NoError(t, err)
	assert.True(t, first.Passed)

	second, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{})
	require.NoError(t, err)
	assert.True(t, second.Passed)

	assert.Equal(t, 2, invocation)
}

func TestRunPassesIngestFlagsThrough(t *testing.T) {
	root := t.TempDir()
	outputDir := outputDirFor(root, "pdf-fast-reprocess")

	var gotArgs []string
	execer := new(mockExecer)
	execer.On("Run", mock.Anything, "fake-ingest", mock.Anything).
		Run(func(args mock.Arguments) {
			gotArgs = args.Get(2).([]string)
		}).
		Return(nil)

	r := testRunner(t, root, execer, nil)
	_, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{SkipCompare: true})
	require.NoError(t, err)

	assert.Contains(t, gotArgs, "--metadata-exclude")
	assert.Contains(t, gotArgs, "filename,file_directory,metadata.data_source.date_processed")
	assert.Contains(t, gotArgs, "--local-input-path")
	assert.Contains(t, gotArgs, filepath.Join(root, "example-docs/english-and-korean.png"))
	assert.Contains(t, gotArgs, "--structured-output-dir")
	assert.Contains(t, gotArgs, outputDir)
	assert.Contains(t, gotArgs, "--partition-ocr-languages")
	assert.Contains(t, gotArgs, "eng+kor")
	assert.Contains(t, gotArgs, "--verbose")
	assert.Equal(t, "--reprocess", gotArgs[len(gotArgs)-1])
}

func TestRunIngestFailureSkipsComparison(t *testing.T) {
	root := t.TempDir()

	// Even a matching fixture must not be consulted when ingestion fails.
	seedFixture(t, root, "pdf-fast-reprocess", "doc.json", `{}`)

	execer := new(mockExecer)
	execer.On("Run", mock.Anything, "fake-ingest", mock.Anything).
		Return(realExitError(t, 3))

	recorder := &fakeRecorder{}
	r := testRunner(t, root, execer, recorder)

	result, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{})
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "ingest", stepErr.Step)

	// The ingestion CLI's own exit status propagates.
	assert.Equal(t, 3, ExitCode(err))
	assert.Equal(t, 3, result.IngestExit)
	assert.Nil(t, result.Comparison)
	assert.False(t, result.Passed)

	require.Len(t, recorder.runs, 1)
	assert.False(t, recorder.runs[0].Passed)
	assert.NotEmpty(t, recorder.runs[0].Error)
}

func TestRunIngestGenericFailure(t *testing.T) {
	root := t.TempDir()

	execer := new(mockExecer)
	execer.On("Run", mock.Anything, "fake-ingest", mock.Anything).
		Return(errors.New("executable file not found"))

	r := testRunner(t, root, execer, nil)

	_, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{})
	require.Error(t, err)
	assert.Equal(t, ExitError, ExitCode(err))
}

func TestRunMismatch(t *testing.T) {
	root := t.TempDir()
	outputDir := outputDirFor(root, "pdf-fast-reprocess")

	seedFixture(t, root, "pdf-fast-reprocess", "doc.json", `[{"text": "hello"}]`)

	execer := new(mockExecer)
	execer.On("Run", mock.Anything, "fake-ingest", mock.Anything).
		Run(writeArtifact(t, outputDir, "doc.json", `[{"text": "goodbye"}]`)).
		Return(nil)

	recorder := &fakeRecorder{}
	r := testRunner(t, root, execer, recorder)

	result, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{})
	require.Error(t, err)

	assert.Equal(t, ExitMismatch, ExitCode(err))
	assert.Equal(t, ExitMismatch, result.CompareExit)
	assert.False(t, result.Passed)
	require.NotNil(t, result.Comparison)
	assert.Len(t, result.Comparison.Mismatches, 1)

	require.Len(t, recorder.runs, 1)
	assert.Equal(t, ExitMismatch, recorder.runs[0].CompareExit)
}

func TestRunMissingFixtureIsOperationalError(t *testing.T) {
	root := t.TempDir()
	outputDir := outputDirFor(root, "pdf-fast-reprocess")

	execer := new(mockExecer)
	execer.On("Run", mock.Anything, "fake-ingest", mock.Anything).
		Run(writeArtifact(t, outputDir, "doc.json", `{}`)).
		Return(nil)

	r := testRunner(t, root, execer, nil)

	_, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{})
	require.Error(t, err)
	assert.Equal(t, ExitError, ExitCode(err))
}

func TestRunSkipCompare(t *testing.T) {
	root := t.TempDir()

	execer := new(mockExecer)
	execer.On("Run", mock.Anything, "fake-ingest", mock.Anything).Return(nil)

	r := testRunner(t, root, execer, nil)

	// No fixture exists; with comparison skipped that is fine.
	result, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{SkipCompare: true})
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Nil(t, result.Comparison)
}

func TestRunUpdateFixture(t *testing.T) {
	root := t.TempDir()
	outputDir := outputDirFor(root, "pdf-fast-reprocess")

	execer := new(mockExecer)
	execer.On("Run", mock.Anything, "fake-ingest", mock.Anything).
		Run(writeArtifact(t, outputDir, "doc.json", `[{"text": "hello", "filename": "a.png"}]`)).
		Return(nil)

	r := testRunner(t, root, execer, nil)

	result, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{UpdateFixture: true})
	require.NoError(t, err)
	assert.True(t, result.Passed)

	golden, err := os.ReadFile(filepath.Join(root, "expected-output", "pdf-fast-reprocess", "doc.json"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"hello"`)
	assert.NotContains(t, string(golden), "filename")
}

func TestRunUnknownScenario(t *testing.T) {
	root := t.TempDir()

	execer := new(mockExecer)
	r := testRunner(t, root, execer, nil)

	_, err := r.Run(context.Background(), "no-such-scenario", Options{})
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "resolve-scenario", stepErr.Step)
	assert.Equal(t, ExitError, ExitCode(err))
	assert.ErrorIs(t, err, scenario.ErrNotFound)

	execer.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunBadRootIsFatal(t *testing.T) {
	execer := new(mockExecer)
	r := testRunner(t, filepath.Join(t.TempDir(), "missing"), execer, nil)

	_, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{})
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "resolve-root", stepErr.Step)

	execer.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOverwritesOutputDir(t *testing.T) {
	root := t.TempDir()
	outputDir := outputDirFor(root, "pdf-fast-reprocess")

	// Simulate leftovers from a previous run.
	require.NoError(t, os.MkdirAll(outputDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "stale.json"), []byte(`{}`), 0o600))

	execer := new(mockExecer)
	execer.On("Run", mock.Anything, "fake-ingest", mock.Anything).
		Run(writeArtifact(t, outputDir, "doc.json", `{}`)).
		Return(nil)

	r := testRunner(t, root, execer, nil)

	_, err := r.Run(context.Background(), "pdf-fast-reprocess", Options{SkipCompare: true})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outputDir, "stale.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 7, ExitCode(&StepError{Step: "ingest", Code: 7, Err: errors.New("boom")}))
	assert.Equal(t, ExitError, ExitCode(errors.New("plain failure")))

	wrapped := fmt.Errorf("context: %w", &StepError{Step: "compare", Code: ExitMismatch, Err: errors.New("diff")})
	assert.Equal(t, ExitMismatch, ExitCode(wrapped))
}

func TestCommandExecerPropagatesExitStatus(t *testing.T) {
	err := CommandExecer{}.Run(context.Background(), "sh", []string{"-c", "exit 5"})
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 5, exitErr.ExitCode())
}
