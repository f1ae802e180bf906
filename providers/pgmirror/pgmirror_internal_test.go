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

// This file tests the pure SQL-rendering and value-conversion helpers
// that do not require a live Postgres connection. Provider.Get/Query/
// Insert/Update/Delete need an actual pgxpool.Pool and are exercised by
// the higher layers (internal/cache) against a fake DataSource
// instead; a real integration test against Postgres is out of scope
// for a connection-less test run.
package pgmirror

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/types"
)

func widgetSchema() *types.Schema {
	return &types.Schema{
		TableName:  "widgets",
		PrimaryKey: types.ReservedID,
		Fields: []types.FieldDescriptor{
			{Name: types.ReservedID, Type: types.FieldString, PrimaryKey: true},
			{Name: "name", Type: types.FieldString},
			{Name: "count", Type: types.FieldInteger},
		},
	}
}

func TestColumnListQuotesEveryField(t *testing.T) {
	p := &Provider{schema: widgetSchema()}
	require.Equal(t, `"id", "name", "count"`, p.columnList())
}

func TestCompileFilterEqUsesPositionalPlaceholder(t *testing.T) {
	p := &Provider{schema: widgetSchema()}
	var args []interface{}
	where := p.compileFilter(types.Eq("name", types.NewString("gear")), &args)
	require.Equal(t, `"name" = $1`, where)
	require.Equal(t, []interface{}{"gear"}, args)
}

func TestCompileFilterAndJoinsChildrenWithIncrementingPlaceholders(t *testing.T) {
	p := &Provider{schema: widgetSchema()}
	var args []interface{}
	f := types.And(
		types.Eq("name", types.NewString("gear")),
		types.Eq("count", types.NewInteger(2)),
	)
	where := p.compileFilter(f, &args)
	require.Equal(t, `("name" = $1 AND "count" = $2)`, where)
	require.Equal(t, []interface{}{"gear", int64(2)}, args)
}

func TestCompileFilterEmptyInNeverMatches(t *testing.T) {
	p := &Provider{schema: widgetSchema()}
	var args []interface{}
	where := p.compileFilter(types.In("name", nil), &args)
	require.Equal(t, "FALSE", where)
	require.Empty(t, args)
}

func TestCompileFilterAllIsTrue(t *testing.T) {
	p := &Provider{schema: widgetSchema()}
	var args []interface{}
	require.Equal(t, "TRUE", p.compileFilter(types.All(), &args))
}

func TestToDriverValueConvertsEachKind(t *testing.T) {
	require.Nil(t, toDriverValue(types.Null))
	require.Equal(t, true, toDriverValue(types.NewBoolean(true)))
	require.Equal(t, int64(3), toDriverValue(types.NewInteger(3)))
	require.Equal(t, "gear", toDriverValue(types.NewString("gear")))
}

func TestFromDriverValueConvertsByDeclaredType(t *testing.T) {
	require.True(t, fromDriverValue(types.FieldInteger, nil).IsNull())
	require.EqualValues(t, 3, fromDriverValue(types.FieldInteger, int64(3)).Int())
	require.True(t, fromDriverValue(types.FieldBoolean, true).Bool())
	require.Equal(t, "x", fromDriverValue(types.FieldString, "x").Str())
}
