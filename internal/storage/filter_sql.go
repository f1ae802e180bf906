// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"strings"

	"github.com/nightscape/holon/internal/types"
)

// compileFilter renders a Filter tree into a parameterized WHERE
// clause: every value is bound as a "?" placeholder, never
// interpolated, so Filter compilation cannot be used for SQL injection
// regardless of field-name or value content (field names are still
// identifier-quoted, not parameterized, since SQL does not allow
// parameter placeholders for identifiers).
func compileFilter(f types.Filter, args *[]interface{}) string {
	switch f.Op {
	case types.FilterEq:
		*args = append(*args, toDriverValue(f.Value))
		return fmt.Sprintf("%s = ?", quoteIdent(f.Field))
	case types.FilterIn:
		if len(f.Values) == 0 {
			return "0" // empty IN(): never matches
		}
		placeholders := make([]string, len(f.Values))
		for i, v := range f.Values {
			placeholders[i] = "?"
			*args = append(*args, toDriverValue(v))
		}
		return fmt.Sprintf("%s IN (%s)", quoteIdent(f.Field), strings.Join(placeholders, ", "))
	case types.FilterIsNull:
		return fmt.Sprintf("%s IS NULL", quoteIdent(f.Field))
	case types.FilterIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", quoteIdent(f.Field))
	case types.FilterAnd:
		return joinChildren(f.Children, "AND", args)
	case types.FilterOr:
		return joinChildren(f.Children, "OR", args)
	default:
		return "1"
	}
}

func joinChildren(children []types.Filter, op string, args *[]interface{}) string {
	if len(children) == 0 {
		if op == "AND" {
			return "1"
		}
		return "0"
	}
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = "(" + compileFilter(c, args) + ")"
	}
	return strings.Join(parts, " "+op+" ")
}
