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

package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/types"
)

func TestExecuteSQLRewritesNamedParams(t *testing.T) {
	pool := openPool(t)
	ctx := context.Background()
	require.NoError(t, pool.Insert(ctx, "widgets", types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).Set("name", types.NewString("gear")).Set("count", types.NewInteger(2))))
	require.NoError(t, pool.Insert(ctx, "widgets", types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("2")).Set("name", types.NewString("sprocket")).Set("count", types.NewInteger(2))))

	rows, err := pool.ExecuteSQL(ctx, `SELECT id FROM widgets WHERE name = $name`,
		map[string]types.Value{"name": types.NewString("gear")})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "1", rows[0].MustGet("id").Str())
}

func TestExecuteSQLReusesRepeatedNamedParam(t *testing.T) {
	pool := openPool(t)
	ctx := context.Background()
	require.NoError(t, pool.Insert(ctx, "widgets", types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).Set("name", types.NewString("gear")).Set("count", types.NewInteger(2))))

	rows, err := pool.ExecuteSQL(ctx, `SELECT id FROM widgets WHERE count = $n OR count = $n`,
		map[string]types.Value{"n": types.NewInteger(2)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestQuerySQLUsesPositionalArgs(t *testing.T) {
	pool := openPool(t)
	ctx := context.Background()
	require.NoError(t, pool.Insert(ctx, "widgets", types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).Set("name", types.NewString("gear")).Set("count", types.NewInteger(2))))

	rows, err := pool.QuerySQL(ctx, `SELECT name FROM widgets WHERE id = ?`, "1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "gear", rows[0].MustGet("name").Str())
}

func TestExecSQLRunsDDL(t *testing.T) {
	pool := openPool(t)
	ctx := context.Background()
	require.NoError(t, pool.Insert(ctx, "widgets", types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).Set("name", types.NewString("gear")).Set("count", types.NewInteger(2))))

	require.NoError(t, pool.ExecSQL(ctx, `CREATE VIEW gear_view AS SELECT id FROM widgets WHERE name = 'gear'`))
	rows, err := pool.QuerySQL(ctx, `SELECT id FROM gear_view`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
