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

package stream_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/stream"
	"github.com/nightscape/holon/internal/types"
)

func idOf(s string) string { return s }

func TestCoalesceUnderTwoChangesIsANoOp(t *testing.T) {
	origin := types.LocalOrigin("", "")
	changes := []types.Change[string]{types.Created("a", origin)}
	require.Equal(t, changes, stream.Coalesce("widgets", changes, idOf))
}

func TestCoalesceDeleteThenInsertBecomesUpdate(t *testing.T) {
	origin := types.LocalOrigin("", "")
	changes := []types.Change[string]{
		types.Deleted[string]("1", origin),
		types.Created("1", origin),
	}
	out := stream.Coalesce("widgets", changes, idOf)
	require.Len(t, out, 1)
	require.Equal(t, types.ChangeUpdated, out[0].Kind())
	require.Equal(t, "1", out[0].ID())
	require.Equal(t, "1", out[0].Data())
}

func TestCoalesceInsertThenDeleteCancels(t *testing.T) {
	origin := types.LocalOrigin("", "")
	changes := []types.Change[string]{
		types.Created("1", origin),
		types.Deleted[string]("1", origin),
	}
	out := stream.Coalesce("widgets", changes, idOf)
	require.Empty(t, out)
}

func TestCoalesceUpdateThenUpdateKeepsLatest(t *testing.T) {
	origin := types.LocalOrigin("", "")
	changes := []types.Change[string]{
		types.Updated("1", "first", origin),
		types.Updated("1", "second", origin),
	}
	out := stream.Coalesce("widgets", changes, idOf)
	require.Len(t, out, 1)
	require.Equal(t, "second", out[0].Data())
}

func TestCoalesceIndependentIDsAreUnaffected(t *testing.T) {
	origin := types.LocalOrigin("", "")
	changes := []types.Change[string]{
		types.Created("1", origin),
		types.Created("2", origin),
	}
	out := stream.Coalesce("widgets", changes, idOf)
	require.Len(t, out, 2)
}
