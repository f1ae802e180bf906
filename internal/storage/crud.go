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
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/nightscape/holon/internal/types"
)

// ErrNotFound is returned by Update, Delete and GetVersion when no row
// matches the given id; Get reports a missing row with ok == false.
var ErrNotFound = errors.New("storage: entity not found")

func (p *Pool) schemaFor(table string) *types.Schema {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()
	return p.schemas[table]
}

func (p *Pool) registerSchema(s *types.Schema) {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()
	if p.schemas == nil {
		p.schemas = make(map[string]*types.Schema)
	}
	p.schemas[s.TableName] = s
}

// Get retrieves a single row by primary key. ok is false when the row
// does not exist.
func (p *Pool) Get(ctx context.Context, table, id string) (*types.StorageEntity, bool, error) {
	schema := p.schemaFor(table)
	pk := "id"
	if schema != nil {
		pk = schema.PrimaryKey
	}
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", quoteIdent(table), quoteIdent(pk)), id)
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s/%s", table, id)
	}
	entities, err := scanRows(rows, schema)
	if err != nil {
		return nil, false, err
	}
	if len(entities) == 0 {
		return nil, false, nil
	}
	return entities[0].WithoutRowID(), true, nil
}

// Query returns every row matching filter.
func (p *Pool) Query(ctx context.Context, table string, filter types.Filter) ([]*types.StorageEntity, error) {
	schema := p.schemaFor(table)
	var args []interface{}
	where := compileFilter(filter, &args)
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s", quoteIdent(table), where), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", table)
	}
	entities, err := scanRows(rows, schema)
	if err != nil {
		return nil, err
	}
	for i, e := range entities {
		entities[i] = e.WithoutRowID()
	}
	return entities, nil
}

// Insert creates a new row and records the change in the CDC shadow
// log within the same transaction.
func (p *Pool) Insert(ctx context.Context, table string, entity *types.StorageEntity) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning insert transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	fields := entity.Fields()
	cols := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	args := make([]interface{}, len(fields))
	for i, f := range fields {
		cols[i] = quoteIdent(f)
		placeholders[i] = "?"
		v, _ := entity.Get(f)
		args[i] = toDriverValue(v)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrapf(err, "insert into %s", table)
	}
	if err := p.appendChangeLog(ctx, tx, table, "created", entity.ID(), entity); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing insert")
}

// Update modifies fields of an existing row by primary key.
func (p *Pool) Update(ctx context.Context, table, id string, fields *types.StorageEntity) error {
	schema := p.schemaFor(table)
	pk := "id"
	if schema != nil {
		pk = schema.PrimaryKey
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning update transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	names := fields.Fields()
	if len(names) == 0 {
		return tx.Commit()
	}
	sets := make([]string, len(names))
	args := make([]interface{}, 0, len(names)+1)
	for i, f := range names {
		sets[i] = fmt.Sprintf("%s = ?", quoteIdent(f))
		v, _ := fields.Get(f)
		args = append(args, toDriverValue(v))
	}
	args = append(args, id)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", quoteIdent(table), strings.Join(sets, ", "), quoteIdent(pk))
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrapf(err, "update %s/%s", table, id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	merged := fields.Clone()
	merged.Set(pk, types.NewString(id))
	if err := p.appendChangeLog(ctx, tx, table, "updated", id, merged); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing update")
}

// Delete removes a row by primary key.
func (p *Pool) Delete(ctx context.Context, table, id string) error {
	schema := p.schemaFor(table)
	pk := "id"
	if schema != nil {
		pk = schema.PrimaryKey
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning delete transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(table), quoteIdent(pk)), id)
	if err != nil {
		return errors.Wrapf(err, "delete %s/%s", table, id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := p.appendChangeLog(ctx, tx, table, "deleted", id, nil); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing delete")
}

// GetVersion returns the opaque per-row reconciliation cursor used by
// provider reconciliation.
func (p *Pool) GetVersion(ctx context.Context, table, id string) (string, error) {
	schema := p.schemaFor(table)
	pk := "id"
	if schema != nil {
		pk = schema.PrimaryKey
	}
	var v sql.NullString
	err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", quoteIdent(versionColumn), quoteIdent(table), quoteIdent(pk)), id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "get version %s/%s", table, id)
	}
	return v.String, nil
}

// SetVersion updates the opaque per-row reconciliation cursor.
func (p *Pool) SetVersion(ctx context.Context, table, id, version string) error {
	schema := p.schemaFor(table)
	pk := "id"
	if schema != nil {
		pk = schema.PrimaryKey
	}
	_, err := p.db.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", quoteIdent(table), quoteIdent(versionColumn), quoteIdent(pk)), version, id)
	return errors.Wrapf(err, "set version %s/%s", table, id)
}
