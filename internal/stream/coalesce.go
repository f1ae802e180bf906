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

package stream

import "github.com/nightscape/holon/internal/types"

// Coalesce applies the CDC coalescing laws to one CDC burst for a
// single relation:
//
//	Delete(k) . Insert(k) == Update(k)
//	Insert(k) . Delete(k) == epsilon
//
// Coalescing is scoped to the input slice only — callers must invoke
// this once per relation, per burst; it must never be applied across
// independently-published batches ("no coalescing across
// batches").
//
// The algorithm is the same last-writer-wins-by-key shape as
// msort.UniqueByKey (internal/util/msort/msort.go), adapted from
// deduplicating []types.Mutation by latest HLC time to merging
// adjacent Created/Deleted pairs for the same entity id by arrival
// order within the burst.
// idOf recovers an entity's id from its Created payload — Change
// itself only stores an explicit id for Updated/Deleted, by design
// never keying on a raw ROWID — so Coalesce needs the caller's own id
// accessor to treat Created events as coalescing participants too.
func Coalesce[T any](relation string, changes []types.Change[T], idOf func(T) string) []types.Change[T] {
	if len(changes) < 2 {
		return changes
	}

	out := make([]types.Change[T], 0, len(changes))
	// index[id] is the position in out holding that id's pending
	// change; removed entries are deleted from the map and flagged in
	// the parallel `removed` set so compact() can drop them without
	// needing a generic zero-value sentinel for T.
	index := make(map[string]int, len(changes))
	removed := make(map[int]bool, len(changes))
	coalesced := 0

	for _, c := range changes {
		id := changeID(c, idOf)
		if id == "" {
			out = append(out, c)
			continue
		}

		pos, seen := index[id]
		if !seen {
			index[id] = len(out)
			out = append(out, c)
			continue
		}

		prev := out[pos]
		switch {
		case prev.Kind() == types.ChangeDeleted && c.Kind() != types.ChangeDeleted:
			// Delete(k) . Insert(k) == Update(k)
			out[pos] = types.Updated(id, c.Data(), c.Origin())
			coalesced++
		case prev.Kind() == types.ChangeCreated && c.Kind() == types.ChangeDeleted:
			// Insert(k) . Delete(k) == epsilon: the pair cancels.
			removed[pos] = true
			delete(index, id)
			coalesced++
		default:
			// Any other adjacency (Updated -> Deleted, Updated ->
			// Updated, ...) is not a special coalescing law: the later
			// event simply replaces the pending one for this id.
			out[pos] = c
		}
	}

	if coalesced > 0 {
		metricChangesCoalesced.WithLabelValues(relation).Add(float64(coalesced))
	}
	return compact(out, removed)
}

func changeID[T any](c types.Change[T], idOf func(T) string) string {
	switch c.Kind() {
	case types.ChangeUpdated, types.ChangeDeleted:
		return c.ID()
	case types.ChangeCreated:
		if idOf == nil {
			return ""
		}
		return idOf(c.Data())
	default:
		return ""
	}
}

func compact[T any](out []types.Change[T], removed map[int]bool) []types.Change[T] {
	if len(removed) == 0 {
		return out
	}
	dest := 0
	for i, c := range out {
		if removed[i] {
			continue
		}
		out[dest] = c
		dest++
	}
	return out[:dest]
}
