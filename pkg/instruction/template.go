// Copyright 2025 Kadir Pekel
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

// Package instruction resolves state placeholders in agent instructions.
//
//	{variable}       session state
//	{app:variable}   app scoped state
//	{user:variable}  user scoped state
//	{temp:variable}  invocation scoped state
//	{variable?}      optional, empty when missing
//
// Anything else inside braces, such as JSON examples, is left untouched.
package instruction

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/kadirpekel/concierge/pkg/agent"
)

var validPrefixes = []string{"app", "user", "temp"}

var placeholderRegex = regexp.MustCompile(`{+[^{}]*}+`)

// InjectState replaces placeholders with values from the context state.
// A required placeholder without a value is an error.
func InjectState(ctx agent.ReadonlyContext, template string) (string, error) {
	if template == "" {
		return "", nil
	}
	var b strings.Builder
	last := 0
	for _, loc := range placeholderRegex.FindAllStringIndex(template, -1) {
		b.WriteString(template[last:loc[0]])
		repl, err := replace(ctx, template[loc[0]:loc[1]])
		if err != nil {
			return "", err
		}
		b.WriteString(repl)
		last = loc[1]
	}
	b.WriteString(template[last:])
	return b.String(), nil
}

func replace(ctx agent.ReadonlyContext, match string) (string, error) {
	name := strings.TrimSpace(strings.Trim(match, "{}"))
	name, optional := strings.CutSuffix(name, "?")
	if !isValidStateName(name) {
		return match, nil
	}

	state := ctx.ReadonlyState()
	if state == nil {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("session state not available for %q", name)
	}
	val, err := state.Get(name)
	if err != nil {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("state key %q: %w", name, err)
	}
	if val == nil {
		return "", nil
	}
	return fmt.Sprint(val), nil
}

func isValidStateName(name string) bool {
	prefix, rest, found := strings.Cut(name, ":")
	if !found {
		return isIdentifier(name)
	}
	return slices.Contains(validPrefixes, prefix) && isIdentifier(rest)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
