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

package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRun(scenario string, startedAt time.Time, passed bool) Run {
	run := Run{
		Scenario:   scenario,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(30 * time.Second),
		Passed:     passed,
	}
	if !passed {
		run.CompareExit = 1
		run.Error = "1 artifact(s) differ from fixture"
	}
	return run
}

func TestStorePing(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Ping())
}

func TestRecordAndListRuns(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordRun(sampleRun("pdf-fast-reprocess", base, true)))
	require.NoError(t, store.RecordRun(sampleRun("pdf-fast-reprocess", base.Add(time.Hour), false)))
	require.NoError(t, store.RecordRun(sampleRun("local-text", base.Add(2*time.Hour), true)))

	runs, err := store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// Newest first.
	assert.Equal(t, "local-text", runs[0].Scenario)
	assert.Equal(t, "pdf-fast-reprocess", runs[1].Scenario)
	assert.False(t, runs[1].Passed)
	assert.Equal(t, 1, runs[1].CompareExit)
	assert.NotEmpty(t, runs[1].Error)
}

func TestListRunsHonorsLimit(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordRun(sampleRun("pdf-fast-reprocess", base.Add(time.Duration(i)*time.Minute), true)))
	}

	runs, err := store.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunsForScenario(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordRun(sampleRun("pdf-fast-reprocess", base, true)))
	require.NoError(t, store.RecordRun(sampleRun("local-text", base.Add(time.Minute), false)))

	runs, err := store.RunsForScenario("local-text", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "local-text", runs[0].Scenario)

	runs, err = store.RunsForScenario("unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLastRun(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordRun(sampleRun("pdf-fast-reprocess", base, false)))
	require.NoError(t, store.RecordRun(sampleRun("pdf-fast-reprocess", base.Add(time.Hour), true)))

	last, err := store.LastRun("pdf-fast-reprocess")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Passed)

	none, err := store.LastRun("never-ran")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordRun(sampleRun("pdf-fast-reprocess", base, true)))
	require.NoError(t, store.RecordRun(sampleRun("pdf-fast-reprocess", base.Add(time.Minute), false)))
	require.NoError(t, store.RecordRun(sampleRun("local-text", base.Add(2*time.Minute), true)))

	stats, err := store.GetStats()
	require.NoError(t, err)

	assert.Equal(t, 3, stats["total_runs"])
	assert.Equal(t, 2, stats["passed"])
	assert.Equal(t, 1, stats["failed"])
	assert.Equal(t, 2, stats["scenarios"])
}

func TestGetStatsEmpty(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.GetStats()
	require.NoError(t, err)

	assert.Equal(t, 0, stats["total_runs"])
	assert.Equal(t, 0, stats["passed"])
}
