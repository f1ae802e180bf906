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

package tasks_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/storage"
	"github.com/nightscape/holon/internal/types"
	"github.com/nightscape/holon/providers/tasks"
)

func newProvider(t *testing.T) *tasks.Provider {
	t.Helper()
	pool, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	p, err := tasks.New(context.Background(), pool)
	require.NoError(t, err)
	return p
}

func insertTask(t *testing.T, p *tasks.Provider, id, content string) {
	t.Helper()
	require.NoError(t, p.Insert(context.Background(), types.NewStorageEntity().
		Set(types.ReservedID, types.NewString(id)).
		Set("content", types.NewString(content)).
		Set("completed", types.NewBoolean(false)).
		Set("priority", types.NewInteger(0))))
}

func findOp(t *testing.T, p *tasks.Provider, name string) types.OperationEntry {
	t.Helper()
	for _, e := range p.Operations() {
		if e.Descriptor.Name == name {
			return e
		}
	}
	t.Fatalf("operation %q not found", name)
	return types.OperationEntry{}
}

func TestSetFieldUpdatesAndReturnsInverse(t *testing.T) {
	p := newProvider(t)
	insertTask(t, p, "1", "buy milk")

	setField := findOp(t, p, "set_field")
	action, err := setField.Fn(context.Background(), types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).
		Set("field", types.NewString("content")).
		Set("value", types.NewString("buy oat milk")))
	require.NoError(t, err)
	require.True(t, action.IsReversible())

	row, found, err := p.Get(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "buy oat milk", row.MustGet("content").Str())

	// applying the inverse restores the original value.
	_, err = setField.Fn(context.Background(), action.Operation.Params)
	require.NoError(t, err)
	row, _, err = p.Get(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, "buy milk", row.MustGet("content").Str())
}

func TestSetFieldMissingRowIsBlockNotFound(t *testing.T) {
	p := newProvider(t)
	setField := findOp(t, p, "set_field")
	_, err := setField.Fn(context.Background(), types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("missing")).
		Set("field", types.NewString("content")).
		Set("value", types.NewString("x")))
	require.Error(t, err)
	require.True(t, types.IsBlockNotFound(err))
}

func TestSetFieldEmptyFieldNameIsInvalidOperation(t *testing.T) {
	p := newProvider(t)
	insertTask(t, p, "1", "buy milk")
	setField := findOp(t, p, "set_field")
	_, err := setField.Fn(context.Background(), types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).
		Set("field", types.NewString("")).
		Set("value", types.NewString("x")))
	require.Error(t, err)
	require.True(t, types.IsInvalidOperation(err))
}

func TestSetCompletionShortcutRoundTripsThroughUndo(t *testing.T) {
	p := newProvider(t)
	insertTask(t, p, "1", "buy milk")

	setCompletion := findOp(t, p, "set_completion")
	action, err := setCompletion.Fn(context.Background(), types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).
		Set("value", types.NewBoolean(true)))
	require.NoError(t, err)
	require.True(t, action.IsReversible())
	require.Equal(t, "set_completion", action.Operation.OpName)

	row, _, err := p.Get(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, row.MustGet("completed").Bool())

	_, err = setCompletion.Fn(context.Background(), action.Operation.Params)
	require.NoError(t, err)
	row, _, err = p.Get(context.Background(), "1")
	require.NoError(t, err)
	require.False(t, row.MustGet("completed").Bool())
}

func TestSetPriorityShortcut(t *testing.T) {
	p := newProvider(t)
	insertTask(t, p, "1", "buy milk")

	setPriority := findOp(t, p, "set_priority")
	_, err := setPriority.Fn(context.Background(), types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).
		Set("value", types.NewInteger(5)))
	require.NoError(t, err)

	row, _, err := p.Get(context.Background(), "1")
	require.NoError(t, err)
	require.EqualValues(t, 5, row.MustGet("priority").Int())
}
