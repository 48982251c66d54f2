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
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoProjectRoot is returned when no directory containing the root marker
// can be found.
var ErrNoProjectRoot = errors.New("project root not found")

// FindRoot resolves the project root so harness behavior does not depend on
// the caller's working directory. An explicitly pinned root wins; otherwise
// the search walks up from the working directory, then from the executable's
// directory, looking for a directory containing the marker entry.
func FindRoot(explicit, marker string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", fmt.Errorf("failed to resolve project root %s: %w", explicit, err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("%w: pinned root %s is not a directory", ErrNoProjectRoot, abs)
		}
		return abs, nil
	}

	if wd, err := os.Getwd(); err == nil {
		if root, ok := searchUp(wd, marker); ok {
			return root, nil
		}
	}

	if exe, err := os.Executable(); err == nil {
		if root, ok := searchUp(filepath.Dir(exe), marker); ok {
			return root, nil
		}
	}

	return "", fmt.Errorf("%w: no directory containing %q above the working directory or executable", ErrNoProjectRoot, marker)
}

// searchUp walks from dir toward the filesystem root looking for marker.
func searchUp(dir, marker string) (string, bool) {
	for {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
