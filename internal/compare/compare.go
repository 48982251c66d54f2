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

// Package compare checks the structured output of an ingestion run against a
// checked-in golden fixture tree. JSON artifacts are compared structurally
// after stripping environment-dependent metadata fields; everything else is
// compared byte-wise.
package compare

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

var (
	// ErrMissingExpectedDir is returned when the golden fixture tree does not exist
	ErrMissingExpectedDir = errors.New("expected fixture directory does not exist")
	// ErrMissingActualDir is returned when the structured output tree does not exist
	ErrMissingActualDir = errors.New("structured output directory does not exist")
)

// Mismatch describes one difference between the fixture and actual output.
type Mismatch struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
	Diff   string `json:"diff,omitempty"`
}

// Result is the outcome of one fixture comparison.
type Result struct {
	Scenario   string     `json:"scenario"`
	Files      int        `json:"files"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// Equal reports whether the actual output matched the fixture.
func (r *Result) Equal() bool {
	return len(r.Mismatches) == 0
}

// Comparer diffs actual output directories against golden fixture trees.
type Comparer struct {
	excluder *Excluder
	logger   *zap.Logger
}

// NewComparer creates a comparer that strips the given metadata field paths
// from JSON artifacts before diffing.
func NewComparer(excluder *Excluder, logger *zap.Logger) *Comparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Comparer{excluder: excluder, logger: logger}
}

// CompareDirs compares the actual output tree against the expected fixture
// tree. Missing or extra artifacts are mismatches; differing content is a
// mismatch. Operational failures (unreadable trees, malformed programs)
// return an error instead.
func (c *Comparer) CompareDirs(scenario, expectedDir, actualDir string) (*Result, error) {
	if _, err := os.Stat(expectedDir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExpectedDir, expectedDir)
	}
	if _, err := os.Stat(actualDir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingActualDir, actualDir)
	}

	expected, err := listFiles(expectedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list expected files: %w", err)
	}
	actual, err := listFiles(actualDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list actual files: %w", err)
	}

	result := &Result{Scenario: scenario, Files: len(expected)}

	actualSet := make(map[string]bool, len(actual))
	for _, rel := range actual {
		actualSet[rel] = true
	}
	expectedSet := make(map[string]bool, len(expected))
	for _, rel := range expected {
		expectedSet[rel] = true
	}

	for _, rel := range expected {
		if !actualSet[rel] {
			result.Mismatches = append(result.Mismatches, Mismatch{File: rel, Reason: "missing from actual output"})
		}
	}
	for _, rel := range actual {
		if !expectedSet[rel] {
			result.Mismatches = append(result.Mismatches, Mismatch{File: rel, Reason: "not present in fixture"})
		}
	}

	for _, rel := range expected {
		if !actualSet[rel] {
			continue
		}
		mismatch, err := c.compareFile(rel, filepath.Join(expectedDir, rel), filepath.Join(actualDir, rel))
		if err != nil {
			return nil, err
		}
		if mismatch != nil {
			result.Mismatches = append(result.Mismatches, *mismatch)
		}
	}

	if !result.Equal() {
		c.logger.Warn("Fixture comparison failed",
			zap.String("scenario", scenario),
			zap.Int("mismatches", len(result.Mismatches)))
	} else {
		c.logger.Info("Fixture comparison passed",
			zap.String("scenario", scenario),
			zap.Int("files", result.Files))
	}

	return result, nil
}

// compareFile compares one artifact, returning a mismatch description or nil.
func (c *Comparer) compareFile(rel, expectedPath, actualPath string) (*Mismatch, error) {
	expectedBytes, err := os.ReadFile(expectedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file %s: %w", expectedPath, err)
	}
	actualBytes, err := os.ReadFile(actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read output file %s: %w", actualPath, err)
	}

	if !isJSONFile(rel) {
		if !bytes.Equal(expectedBytes, actualBytes) {
			return &Mismatch{File: rel, Reason: "content differs"}, nil
		}
		return nil, nil
	}

	expectedDoc, err := c.normalize(expectedBytes)
	if err != nil {
		return nil, fmt.Errorf("fixture file %s: %w", rel, err)
	}
	actualDoc, err := c.normalize(actualBytes)
	if err != nil {
		return nil, fmt.Errorf("output file %s: %w", rel, err)
	}

	if diff := cmp.Diff(expectedDoc, actualDoc); diff != "" {
		return &Mismatch{File: rel, Reason: "structured content differs", Diff: diff}, nil
	}

	return nil, nil
}

// normalize decodes a JSON artifact and strips excluded fields.
func (c *Comparer) normalize(raw []byte) (interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if c.excluder == nil {
		return doc, nil
	}
	return c.excluder.Apply(doc)
}

// UpdateFixture rewrites the golden fixture tree from actual output. JSON
// artifacts are stored with excluded fields already stripped and keys sorted,
// so checked-in fixtures never carry environment-dependent values.
func (c *Comparer) UpdateFixture(expectedDir, actualDir string) error {
	if _, err := os.Stat(actualDir); err != nil {
		return fmt.Errorf("%w: %s", ErrMissingActualDir, actualDir)
	}

	if err := os.RemoveAll(expectedDir); err != nil {
		return fmt.Errorf("failed to clear fixture directory: %w", err)
	}

	files, err := listFiles(actualDir)
	if err != nil {
		return fmt.Errorf("failed to list actual files: %w", err)
	}

	for _, rel := range files {
		src := filepath.Join(actualDir, rel)
		dst := filepath.Join(expectedDir, rel)

		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return fmt.Errorf("failed to create fixture directory: %w", err)
		}

		raw, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("failed to read output file %s: %w", src, err)
		}

		if isJSONFile(rel) {
			doc, err := c.normalize(raw)
			if err != nil {
				return fmt.Errorf("output file %s: %w", rel, err)
			}
			raw, err = json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode fixture file %s: %w", rel, err)
			}
			raw = append(raw, '\n')
		}

		if err := os.WriteFile(dst, raw, 0o600); err != nil {
			return fmt.Errorf("failed to write fixture file %s: %w", dst, err)
		}
	}

	c.logger.Info("Fixture updated", zap.String("dir", expectedDir), zap.Int("files", len(files)))
	return nil
}

// listFiles returns the relative paths of all regular files under root, sorted.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func isJSONFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
