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

// Package pgmirror is a concrete SyncableProvider-compatible
// operations.DataSource/CrudOperations backed by Postgres (C7): it is
// the "real upstream" half of a Queryable Cache (C8) pairing — wrap a
// *pgmirror.Provider in internal/cache.New as the upstream DataSource,
// and the cache handles the local SQLite mirror, one-shot Sync, and
// write-through.
//
// Grounded on a StagingPool/StagingQuerier reconciliation shape and a
// stdpool-style pool-open helper, narrowed to the fields this repo
// actually needs: a much larger staging/target pool surface would
// span concerns (staging AND target pools) that this repo keeps
// separate.
package pgmirror

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/types"
)

// ErrNotFound is returned by Update and Delete when no row matches the
// given id; Get reports a missing row with ok == false.
var ErrNotFound = errors.New("pgmirror: entity not found")

// Open connects a pgxpool to connString, following a
// parse-config-then-connect shape.
func Open(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parsing postgres connection string")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	return pool, nil
}

// Provider mirrors one Postgres table as an operations.DataSource and,
// where the table is writable, a CrudOperations.
type Provider struct {
	pool   *pgxpool.Pool
	schema *types.Schema
}

// New wraps an already-open pgxpool for schema's table.
func New(pool *pgxpool.Pool, schema *types.Schema) *Provider {
	return &Provider{pool: pool, schema: schema}
}

// EntityName satisfies operations.DataSource.
func (p *Provider) EntityName() string { return p.schema.TableName }

// Schema satisfies operations.DataSource.
func (p *Provider) Schema() *types.Schema { return p.schema }

func (p *Provider) quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Get satisfies operations.DataSource.
func (p *Provider) Get(ctx context.Context, id string) (*types.StorageEntity, bool, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", p.columnList(), p.quoteIdent(p.schema.TableName), p.quoteIdent(p.schema.PrimaryKey))
	rows, err := p.pool.Query(ctx, stmt, id)
	if err != nil {
		return nil, false, errors.Wrapf(err, "pgmirror: get %s/%s", p.schema.TableName, id)
	}
	defer rows.Close()
	entities, err := p.scanRows(rows)
	if err != nil {
		return nil, false, err
	}
	if len(entities) == 0 {
		return nil, false, nil
	}
	return entities[0], true, nil
}

// Query satisfies operations.DataSource, compiling filter to a
// parameterized Postgres WHERE clause.
func (p *Provider) Query(ctx context.Context, filter types.Filter) ([]*types.StorageEntity, error) {
	var args []interface{}
	where := p.compileFilter(filter, &args)
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s", p.columnList(), p.quoteIdent(p.schema.TableName), where)
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pgmirror: query %s", p.schema.TableName)
	}
	defer rows.Close()
	return p.scanRows(rows)
}

// Insert satisfies operations.CrudOperations.
func (p *Provider) Insert(ctx context.Context, entity *types.StorageEntity) error {
	fields := entity.Fields()
	cols := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	args := make([]interface{}, len(fields))
	for i, f := range fields {
		cols[i] = p.quoteIdent(f)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		v, _ := entity.Get(f)
		args[i] = toDriverValue(v)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", p.quoteIdent(p.schema.TableName), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err := p.pool.Exec(ctx, stmt, args...)
	return errors.Wrapf(err, "pgmirror: insert into %s", p.schema.TableName)
}

// Update satisfies operations.CrudOperations.
func (p *Provider) Update(ctx context.Context, id string, fields *types.StorageEntity) error {
	names := fields.Fields()
	if len(names) == 0 {
		return nil
	}
	sets := make([]string, len(names))
	args := make([]interface{}, 0, len(names)+1)
	for i, f := range names {
		sets[i] = fmt.Sprintf("%s = $%d", p.quoteIdent(f), i+1)
		v, _ := fields.Get(f)
		args = append(args, toDriverValue(v))
	}
	args = append(args, id)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", p.quoteIdent(p.schema.TableName), strings.Join(sets, ", "), p.quoteIdent(p.schema.PrimaryKey), len(args))
	tag, err := p.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return errors.Wrapf(err, "pgmirror: update %s/%s", p.schema.TableName, id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete satisfies operations.CrudOperations.
func (p *Provider) Delete(ctx context.Context, id string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", p.quoteIdent(p.schema.TableName), p.quoteIdent(p.schema.PrimaryKey))
	tag, err := p.pool.Exec(ctx, stmt, id)
	if err != nil {
		return errors.Wrapf(err, "pgmirror: delete %s/%s", p.schema.TableName, id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Provider) columnList() string {
	names := make([]string, len(p.schema.Fields))
	for i, f := range p.schema.Fields {
		names[i] = p.quoteIdent(f.Name)
	}
	return strings.Join(names, ", ")
}

func (p *Provider) scanRows(rows pgx.Rows) ([]*types.StorageEntity, error) {
	var out []*types.StorageEntity
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "pgmirror: scanning row")
		}
		e := types.NewStorageEntity()
		for i, f := range p.schema.Fields {
			if i >= len(values) {
				break
			}
			e.Set(f.Name, fromDriverValue(f.Type, values[i]))
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "pgmirror: reading rows")
}

// compileFilter renders a types.Filter tree as a Postgres WHERE
// clause using $N placeholders, the same shape as
// internal/storage/filter_sql.go's compileFilter adapted for pgx's
// positional-parameter style instead of sqlite's `?`.
func (p *Provider) compileFilter(f types.Filter, args *[]interface{}) string {
	switch f.Op {
	case types.FilterEq:
		*args = append(*args, toDriverValue(f.Value))
		return fmt.Sprintf("%s = $%d", p.quoteIdent(f.Field), len(*args))
	case types.FilterIn:
		if len(f.Values) == 0 {
			return "FALSE"
		}
		placeholders := make([]string, len(f.Values))
		for i, v := range f.Values {
			*args = append(*args, toDriverValue(v))
			placeholders[i] = fmt.Sprintf("$%d", len(*args))
		}
		return fmt.Sprintf("%s IN (%s)", p.quoteIdent(f.Field), strings.Join(placeholders, ", "))
	case types.FilterIsNull:
		return fmt.Sprintf("%s IS NULL", p.quoteIdent(f.Field))
	case types.FilterIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", p.quoteIdent(f.Field))
	case types.FilterAnd:
		return p.joinChildren(f.Children, "AND", "TRUE", args)
	case types.FilterOr:
		return p.joinChildren(f.Children, "OR", "FALSE", args)
	default:
		return "TRUE"
	}
}

func (p *Provider) joinChildren(children []types.Filter, op, identity string, args *[]interface{}) string {
	if len(children) == 0 {
		return identity
	}
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = p.compileFilter(c, args)
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

func toDriverValue(v types.Value) interface{} {
	switch v.Kind() {
	case types.KindNull:
		return nil
	case types.KindBoolean:
		return v.Bool()
	case types.KindInteger:
		return v.Int()
	case types.KindFloat:
		return v.Float()
	case types.KindDateTime:
		return v.Time()
	default:
		return v.AsString()
	}
}

func fromDriverValue(t types.FieldType, raw interface{}) types.Value {
	if raw == nil {
		return types.Null
	}
	switch t {
	case types.FieldInteger:
		switch n := raw.(type) {
		case int64:
			return types.NewInteger(n)
		case int32:
			return types.NewInteger(int64(n))
		}
	case types.FieldBoolean:
		if b, ok := raw.(bool); ok {
			return types.NewBoolean(b)
		}
	case types.FieldDateTime:
		if ts, ok := raw.(time.Time); ok {
			return types.NewDateTime(ts)
		}
	case types.FieldReference:
		return types.NewReference(fmt.Sprintf("%v", raw))
	}
	return types.NewString(fmt.Sprintf("%v", raw))
}

var _ operations.DataSource = (*Provider)(nil)
var _ operations.CrudOperations = (*Provider)(nil)
