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
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/nightscape/holon/internal/types"
)

// versionColumn is the internal reconciliation-cursor column attached
// to every materialized table.
const versionColumn = "_version"

func sqlType(t types.FieldType) string {
	switch t {
	case types.FieldInteger:
		return "INTEGER"
	case types.FieldBoolean:
		return "INTEGER"
	case types.FieldDateTime:
		return "TEXT"
	case types.FieldJSON:
		return "TEXT"
	case types.FieldReference:
		return "TEXT"
	default:
		return "TEXT"
	}
}

// CreateEntity materializes schema's table, its secondary indexes, and
// the internal _version column, idempotently.
func (p *Pool) CreateEntity(ctx context.Context, schema *types.Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	var cols []string
	for _, f := range schema.Fields {
		col := fmt.Sprintf("%s %s", quoteIdent(f.Name), sqlType(f.Type))
		if f.PrimaryKey {
			col += " PRIMARY KEY"
		} else if f.Required {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	cols = append(cols, fmt.Sprintf("%s TEXT", quoteIdent(versionColumn)))

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(schema.TableName), strings.Join(cols, ", "))
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "creating table %s", schema.TableName)
	}

	for _, f := range schema.IndexedFields() {
		idxName := fmt.Sprintf("idx_%s_%s", schema.TableName, f.Name)
		idxStmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent(idxName), quoteIdent(schema.TableName), quoteIdent(f.Name))
		if _, err := p.db.ExecContext(ctx, idxStmt); err != nil {
			return errors.Wrapf(err, "creating index on %s.%s", schema.TableName, f.Name)
		}
	}

	p.registerSchema(schema)
	return p.ensureChangeTriggers(ctx, schema)
}
