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

// Package scenario defines the declarative test-scenario descriptor consumed
// by the fixture runner: a named input document plus the fixed ingestion-CLI
// flag set that produces its structured output.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"mvdan.cc/sh/v3/shell"
)

var (
	// ErrNotFound is returned when a scenario name is not registered
	ErrNotFound = errors.New("scenario not found")
	// ErrInvalidScenario is returned when a scenario descriptor fails validation
	ErrInvalidScenario = errors.New("invalid scenario")
)

// DefaultMetadataExcludes are the metadata field paths stripped before
// comparison because they vary across runs and environments.
var DefaultMetadataExcludes = []string{
	"filename",
	"file_directory",
	"metadata.data_source.date_processed",
}

var (
	nameRe      = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	languagesRe = regexp.MustCompile(`^[a-z]{2,3}(\+[a-z]{2,3})*$`)
)

// Scenario describes one fixture test case: an input document and the
// ingestion flags that produce its golden output folder.
type Scenario struct {
	Name            string   `mapstructure:"name"`
	Input           string   `mapstructure:"input"`
	OCRLanguages    string   `mapstructure:"ocr_languages"`
	MetadataExclude []string `mapstructure:"metadata_exclude"`
	// ExtraArgs is a raw command-line fragment appended to the ingestion
	// invocation, split with POSIX shell word rules.
	ExtraArgs string `mapstructure:"extra_args"`
}

// Default returns the built-in scenario used when no scenarios file exists.
func Default() Scenario {
	return Scenario{
		Name:            "pdf-fast-reprocess",
		Input:           "example-docs/english-and-korean.png",
		OCRLanguages:    "eng+kor",
		MetadataExclude: append([]string(nil), DefaultMetadataExcludes...),
	}
}

// Validate checks the descriptor for structural problems.
func (s Scenario) Validate() error {
	if !nameRe.MatchString(s.Name) {
		return fmt.Errorf("%w: name %q must be non-empty kebab-case", ErrInvalidScenario, s.Name)
	}

	if s.Input == "" {
		return fmt.Errorf("%w: %s: input path is required", ErrInvalidScenario, s.Name)
	}
	if filepath.IsAbs(s.Input) {
		return fmt.Errorf("%w: %s: input path must be relative to the project root", ErrInvalidScenario, s.Name)
	}
	if strings.Contains(s.Input, "..") {
		return fmt.Errorf("%w: %s: input path must not traverse outside the project root", ErrInvalidScenario, s.Name)
	}

	if s.OCRLanguages != "" && !languagesRe.MatchString(s.OCRLanguages) {
		return fmt.Errorf("%w: %s: ocr_languages %q must be +-joined lowercase language codes",
			ErrInvalidScenario, s.Name, s.OCRLanguages)
	}

	for _, field := range s.MetadataExclude {
		if strings.TrimSpace(field) == "" || strings.Contains(field, ",") {
			return fmt.Errorf("%w: %s: metadata exclude field %q is malformed", ErrInvalidScenario, s.Name, field)
		}
	}

	if _, err := s.extraFields(); err != nil {
		return fmt.Errorf("%w: %s: extra_args: %v", ErrInvalidScenario, s.Name, err)
	}

	return nil
}

// Excludes returns the effective metadata exclude list, falling back to the
// environment-dependent defaults when the descriptor names none.
func (s Scenario) Excludes() []string {
	if len(s.MetadataExclude) > 0 {
		return s.MetadataExclude
	}
	return DefaultMetadataExcludes
}

// Args renders the full ingestion-CLI argument list for this scenario.
// root is the project root; outputDir is the absolute per-scenario
// structured-output destination. Flag order is fixed so invocations are
// reproducible byte-for-byte in logs.
func (s Scenario) Args(root, outputDir string, verbose bool) ([]string, error) {
	args := []string{
		"--metadata-exclude", strings.Join(s.Excludes(), ","),
		"--local-input-path", filepath.Join(root, s.Input),
		"--structured-output-dir", outputDir,
	}

	if s.OCRLanguages != "" {
		args = append(args, "--partition-ocr-languages", s.OCRLanguages)
	}

	if verbose {
		args = append(args, "--verbose")
	}

	// Always bypass any cached prior result so each run rewrites the output
	// directory from scratch.
	args = append(args, "--reprocess")

	extra, err := s.extraFields()
	if err != nil {
		return nil, err
	}
	args = append(args, extra...)

	return args, nil
}

func (s Scenario) extraFields() ([]string, error) {
	if strings.TrimSpace(s.ExtraArgs) == "" {
		return nil, nil
	}
	return shell.Fields(s.ExtraArgs, nil)
}

// Registry holds the named scenarios available to the harness.
type Registry struct {
	scenarios map[string]Scenario
	order     []string
}

// NewRegistry builds a registry from the given scenarios, validating each.
func NewRegistry(scenarios ...Scenario) (*Registry, error) {
	r := &Registry{scenarios: make(map[string]Scenario)}
	for _, s := range scenarios {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.scenarios[s.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate scenario %q", ErrInvalidScenario, s.Name)
		}
		r.scenarios[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r, nil
}

// Load reads a scenarios file (YAML) and returns the registry it defines.
// A missing file is not an error: the registry then contains only the
// built-in default scenario.
func Load(path string) (*Registry, error) {
	if _, err := os.Stat(path); err != nil {
		return NewRegistry(Default())
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read scenarios file %s: %w", path, err)
	}

	var file struct {
		Scenarios []Scenario `mapstructure:"scenarios"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenarios file %s: %w", path, err)
	}

	if len(file.Scenarios) == 0 {
		return NewRegistry(Default())
	}

	return NewRegistry(file.Scenarios...)
}

// Get returns the named scenario.
func (r *Registry) Get(name string) (Scenario, error) {
	s, ok := r.scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s, nil
}

// Names returns the registered scenario names in definition order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
