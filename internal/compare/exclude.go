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

package compare

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"
)

var fieldTokenRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Excluder strips environment-dependent metadata fields from decoded JSON
// documents before comparison. Exclusion paths are dot-joined field names
// interpreted relative to each element object; a bare field name is also
// removed from the element's nested metadata object, matching how the
// ingestion CLI names its exclude fields.
type Excluder struct {
	paths []string
	code  *gojq.Code
}

// NewExcluder compiles the given exclusion paths into a jq del() program.
func NewExcluder(paths []string) (*Excluder, error) {
	var targets []string
	for _, path := range paths {
		tokens := strings.Split(path, ".")
		for _, tok := range tokens {
			if !fieldTokenRe.MatchString(tok) {
				return nil, fmt.Errorf("invalid exclusion path %q: bad field name %q", path, tok)
			}
		}
		selector := "." + strings.Join(tokens, ".")
		targets = append(targets, selector)
		if len(tokens) == 1 {
			targets = append(targets, ".metadata"+selector)
		}
	}

	program := "."
	if len(targets) > 0 {
		strip := fmt.Sprintf("del(%s)", strings.Join(targets, ", "))
		program = fmt.Sprintf(
			"def strip: %s; if type == \"array\" then map(if type == \"object\" then strip else . end) "+
				"elif type == \"object\" then strip else . end",
			strip,
		)
	}

	query, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("failed to parse exclusion program: %w", err)
	}

	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile exclusion program: %w", err)
	}

	return &Excluder{paths: append([]string(nil), paths...), code: code}, nil
}

// Paths returns the exclusion paths this excluder was built from.
func (e *Excluder) Paths() []string {
	return append([]string(nil), e.paths...)
}

// Apply returns a copy of the decoded JSON document with excluded fields
// removed. The input must use encoding/json's generic types
// (map[string]interface{}, []interface{}, float64, string, bool, nil).
func (e *Excluder) Apply(doc interface{}) (interface{}, error) {
	iter := e.code.Run(doc)

	var out interface{}
	var got bool
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("exclusion program failed: %w", err)
		}
		out = v
		got = true
	}

	if !got {
		return nil, fmt.Errorf("exclusion program produced no output")
	}
	return out, nil
}
