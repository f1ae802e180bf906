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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/engine"
	"github.com/nightscape/holon/internal/oplog"
	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/storage"
	"github.com/nightscape/holon/internal/types"
	"github.com/nightscape/holon/providers/tasks"
)

func newTestServer(t *testing.T) (*Server, *tasks.Provider) {
	t.Helper()
	pool, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	p, err := tasks.New(context.Background(), pool)
	require.NoError(t, err)

	registry := operations.NewRegistry()
	registry.RegisterProvider(p)
	dispatcher := operations.NewDispatcher(registry)
	dispatcher.RegisterCrud(p)

	eng := engine.New(pool, dispatcher, oplog.New(0), 0)
	t.Cleanup(eng.Close)
	return NewServer(eng), p
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func TestHandleQueryReturnsRows(t *testing.T) {
	s, p := newTestServer(t)
	require.NoError(t, p.Insert(context.Background(), types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).
		Set("content", types.NewString("buy milk")).
		Set("completed", types.NewBoolean(false)).
		Set("priority", types.NewInteger(0))))

	w := doJSON(t, s, http.MethodPost, "/query", queryRequest{Source: "from tasks | select {id, content}"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp queryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rows, 1)
	require.Equal(t, "buy milk", resp.Rows[0].MustGet("content").Str())
}

func TestHandleQueryBadSourceReturns400(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/query", queryRequest{Source: "not a valid pipeline |||"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleOperationDispatchesAndUndoRedoRoundTrip(t *testing.T) {
	s, p := newTestServer(t)
	require.NoError(t, p.Insert(context.Background(), types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).
		Set("content", types.NewString("buy milk")).
		Set("completed", types.NewBoolean(false)).
		Set("priority", types.NewInteger(0))))

	w := doJSON(t, s, http.MethodPost, "/operation", operationRequest{
		EntityName: "tasks",
		OpName:     "set_completion",
		Params: types.NewStorageEntity().
			Set(types.ReservedID, types.NewString("1")).
			Set("value", types.NewBoolean(true)),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var opResp operationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opResp))
	require.True(t, opResp.Reversible)

	row, _, err := p.Get(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, row.MustGet("completed").Bool())

	w = doJSON(t, s, http.MethodPost, "/undo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var undoResp undoRedoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &undoResp))
	require.True(t, undoResp.Applied)

	row, _, err = p.Get(context.Background(), "1")
	require.NoError(t, err)
	require.False(t, row.MustGet("completed").Bool())

	w = doJSON(t, s, http.MethodPost, "/redo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &undoResp))
	require.True(t, undoResp.Applied)
}

func TestHandleOperationUnknownEntityReturns400(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/operation", operationRequest{
		EntityName: "ghost",
		OpName:     "set_field",
		Params:     types.NewStorageEntity(),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWatchMissingQueryParamReturns400(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/watch", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRowChangeToJSONMarksKindAndOmitsDataForDelete(t *testing.T) {
	origin := types.LocalOrigin("", "")
	created := engine.RowChange{RelationName: "tasks", Change: types.Created[*types.StorageEntity](
		types.NewStorageEntity().Set(types.ReservedID, types.NewString("1")), origin)}
	wire := rowChangeToJSON(created)
	require.Equal(t, "created", wire.Kind)
	require.Equal(t, "1", wire.ID)
	require.NotNil(t, wire.Data)

	deleted := engine.RowChange{RelationName: "tasks", Change: types.Deleted[*types.StorageEntity]("1", origin)}
	wire = rowChangeToJSON(deleted)
	require.Equal(t, "deleted", wire.Kind)
	require.Nil(t, wire.Data)
}
