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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestFindRootPinned(t *testing.T) {
	dir := t.TempDir()

	root, err := FindRoot(dir, "example-docs")
	require.NoError(t, err)

	// The pinned root wins even without the marker present.
	assert.Equal(t, dir, root)
}

func TestFindRootPinnedMissing(t *testing.T) {
	_, err := FindRoot(filepath.Join(t.TempDir(), "nope"), "example-docs")
	assert.ErrorIs(t, err, ErrNoProjectRoot)
}

func TestFindRootPinnedNotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "root.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := FindRoot(file, "example-docs")
	assert.ErrorIs(t, err, ErrNoProjectRoot)
}

func TestFindRootWalksUpFromWorkingDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	projectRoot := filepath.Join(tmpDir, "project")
	nested := filepath.Join(projectRoot, "scripts", "ci")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(projectRoot, "example-docs"), 0o750))

	chdir(t, nested)

	root, err := FindRoot("", "example-docs")
	require.NoError(t, err)

	// Resolve symlinks so macOS /private/var temp paths compare equal.
	wantRoot, err := filepath.EvalSymlinks(projectRoot)
	require.NoError(t, err)
	gotRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)
}

func TestFindRootNotFound(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := FindRoot("", "zz-no-such-marker-anywhere")
	assert.ErrorIs(t, err, ErrNoProjectRoot)
}
