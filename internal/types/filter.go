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

package types

// FilterOp discriminates the Filter predicate-tree node kinds.
type FilterOp int

const (
	FilterEq FilterOp = iota
	FilterIn
	FilterIsNull
	FilterIsNotNull
	FilterAnd
	FilterOr
)

// Filter is a recursive predicate tree compiled to a safe, parameterized
// WHERE clause by the storage backend. It doubles as the Predicate
// interface consumed by the Queryable Cache (C8) for its
// compiles-to-SQL vs in-memory-fallback decision.
type Filter struct {
	Op       FilterOp
	Field    string  // Eq, In, IsNull, IsNotNull
	Value    Value   // Eq
	Values   []Value // In
	Children []Filter // And, Or
}

// Eq builds an equality filter.
func Eq(field string, v Value) Filter { return Filter{Op: FilterEq, Field: field, Value: v} }

// In builds a set-membership filter.
func In(field string, values []Value) Filter { return Filter{Op: FilterIn, Field: field, Values: values} }

// IsNull builds a NULL-check filter.
func IsNull(field string) Filter { return Filter{Op: FilterIsNull, Field: field} }

// IsNotNull builds a NOT NULL-check filter.
func IsNotNull(field string) Filter { return Filter{Op: FilterIsNotNull, Field: field} }

// And conjoins filters.
func And(children ...Filter) Filter { return Filter{Op: FilterAnd, Children: children} }

// Or disjoins filters.
func Or(children ...Filter) Filter { return Filter{Op: FilterOr, Children: children} }

// All builds the always-true filter (an empty conjunction), used to
// select every row of a relation.
func All() Filter { return Filter{Op: FilterAnd} }

// Matches evaluates the filter against an in-memory entity, used by
// the Queryable Cache's fallback path when a predicate does
// not compile to SQL (the Filter tree always does, but callers may wrap
// it inside richer predicates that don't).
func (f Filter) Matches(e *StorageEntity) bool {
	switch f.Op {
	case FilterEq:
		v, ok := e.Get(f.Field)
		return ok && v.Equal(f.Value)
	case FilterIn:
		v, ok := e.Get(f.Field)
		if !ok {
			return false
		}
		for _, candidate := range f.Values {
			if v.Equal(candidate) {
				return true
			}
		}
		return false
	case FilterIsNull:
		v, ok := e.Get(f.Field)
		return !ok || v.IsNull()
	case FilterIsNotNull:
		v, ok := e.Get(f.Field)
		return ok && !v.IsNull()
	case FilterAnd:
		for _, c := range f.Children {
			if !c.Matches(e) {
				return false
			}
		}
		return true
	case FilterOr:
		for _, c := range f.Children {
			if c.Matches(e) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
