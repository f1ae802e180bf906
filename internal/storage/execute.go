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
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/nightscape/holon/internal/types"
)

// rewriteNamedParams rewrites "$name" placeholders to "?" in the order
// they first appear, returning the rewritten SQL and the positional
// argument list built from named, for execute_sql.
func rewriteNamedParams(sql string, named map[string]types.Value) (string, []interface{}) {
	var out strings.Builder
	var args []interface{}
	seen := make(map[string]bool)

	i := 0
	for i < len(sql) {
		c := sql[i]
		if c == '$' && i+1 < len(sql) && isIdentStart(sql[i+1]) {
			j := i + 1
			for j < len(sql) && isIdentPart(sql[j]) {
				j++
			}
			name := sql[i+1 : j]
			out.WriteByte('?')
			args = append(args, toDriverValue(named[name]))
			seen[name] = true
			i = j
			continue
		}
		out.WriteByte(c)
		i++
	}
	return out.String(), args
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// ExecuteSQL runs a query with named ($name) parameters and returns the
// result set as StorageEntity rows keyed by result column name. It is
// also used by higher layers (the Backend Engine) to run compiled
// PRQL output.
func (p *Pool) ExecuteSQL(ctx context.Context, sql string, named map[string]types.Value) ([]*types.StorageEntity, error) {
	rewritten, args := rewriteNamedParams(sql, named)
	rows, err := p.db.QueryContext(ctx, rewritten, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "executing sql %q", sql)
	}
	return scanRows(rows, nil)
}

// QuerySQL runs sql with already-positional driver args — the shape
// internal/query.Compile emits — and returns the result set as
// StorageEntity rows keyed by result column name. Used by
// internal/engine's execute_query/watch_query, which run PRQL-compiled
// SQL rather than the named-parameter execute_sql surface.
func (p *Pool) QuerySQL(ctx context.Context, sql string, args ...interface{}) ([]*types.StorageEntity, error) {
	rows, err := p.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "executing sql %q", sql)
	}
	return scanRows(rows, nil)
}

// ExecSQL runs a non-query statement (CREATE VIEW, DROP VIEW) with
// positional args, for DDL internal/engine issues around watch_query's
// materialized views.
func (p *Pool) ExecSQL(ctx context.Context, sql string, args ...interface{}) error {
	_, err := p.db.ExecContext(ctx, sql, args...)
	return errors.Wrapf(err, "executing sql %q", sql)
}
