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
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nightscape/holon/internal/stream"
	"github.com/nightscape/holon/internal/telemetry"
	"github.com/nightscape/holon/internal/types"
	"github.com/nightscape/holon/internal/util/stopper"
)

// changeLogTable is the shadow log every mutation appends to, in the
// same transaction as the row write. modernc.org/sqlite is a CGo-free
// embedded engine with no native row-level CDC callback (unlike the
// libsql/turso engine the original source targets); this statement-
// level shadow log, drained by a poller, stands in for the underlying
// SQL engine's own CDC callback.
const changeLogTable = "_holon_changes"

func (p *Pool) ensureChangeLog() error {
	_, err := p.db.Exec(`CREATE TABLE IF NOT EXISTS ` + quoteIdent(changeLogTable) + ` (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		relation TEXT NOT NULL,
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		data TEXT,
		operation_id TEXT,
		trace_id TEXT
	)`)
	return errors.Wrap(err, "creating change log table")
}

// ensureChangeTriggers is a no-op hook kept for symmetry with a future
// dialect that does support native triggers; for sqlite the shadow-log
// append happens explicitly in crud.go's Insert/Update/Delete instead of
// via a CREATE TRIGGER statement, since modernc.org/sqlite's trigger
// support cannot invoke Go code.
func (p *Pool) ensureChangeTriggers(_ context.Context, _ *types.Schema) error { return nil }

// loggedField preserves a Value's Kind alongside its string rendition
// so the poller can reconstruct a typed StorageEntity rather than
// collapsing every field to a String, which would corrupt downstream
// comparisons (e.g. a cache upserting an Integer "completed" flag).
type loggedField struct {
	Kind  types.Kind `json:"k"`
	Value string     `json:"v"`
}

func (p *Pool) appendChangeLog(ctx context.Context, tx *sql.Tx, relation, kind, entityID string, data *types.StorageEntity) error {
	var payload []byte
	if data != nil {
		m := make(map[string]loggedField, len(data.Fields()))
		for _, f := range data.Fields() {
			v, _ := data.Get(f)
			m[f] = loggedField{Kind: v.Kind(), Value: v.AsString()}
		}
		var err error
		payload, err = json.Marshal(m)
		if err != nil {
			return errors.Wrap(err, "encoding change log payload")
		}
	}
	operationID := telemetry.OperationIDFromContext(ctx)
	traceID := telemetry.TraceIDFromContext(ctx)
	_, err := tx.Exec(`INSERT INTO `+quoteIdent(changeLogTable)+` (relation, kind, entity_id, data, operation_id, trace_id) VALUES (?, ?, ?, ?, ?, ?)`,
		relation, kind, entityID, string(payload), operationID, traceID)
	return errors.Wrap(err, "appending to change log")
}

// RowChange is what CDC subscribers receive: the relation a mutation
// occurred on, plus the Change itself.
type RowChange struct {
	RelationName string
	Change       types.Change[*types.StorageEntity]
}

// Handle must be retained for the life of a row_changes subscription;
// dropping it (calling Close) ends the subscription.
type Handle struct {
	sub *stream.Subscription[*types.StorageEntity]
}

// Close releases the subscription.
func (h *Handle) Close() { h.sub.Close() }

// cdcHub owns one Topic per relation and the poller that drains the
// shadow log into them.
type cdcHub struct {
	mu      sync.Mutex
	topics  map[string]*stream.Topic[*types.StorageEntity]
	lastSeq int64
	pollCap int
}

func (p *Pool) hub() *cdcHub {
	p.hubOnce.Do(func() {
		cap := p.channelCapacity
		if cap <= 0 {
			cap = stream.DefaultCapacity
		}
		p.cdcHub = &cdcHub{topics: make(map[string]*stream.Topic[*types.StorageEntity]), pollCap: cap}
	})
	return p.cdcHub
}

func (h *cdcHub) topicFor(relation string) *stream.Topic[*types.StorageEntity] {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[relation]
	if !ok {
		t = stream.NewTopic[*types.StorageEntity](relation, h.pollCap)
		h.topics[relation] = t
	}
	return t
}

// RowChanges subscribes to the backend's change-data-capture stream
// for a single relation. The first call starts a
// background poller; subsequent calls for other relations share it.
func (p *Pool) RowChanges(ctx context.Context, relation string) (*Handle, <-chan stream.Envelope[*types.StorageEntity]) {
	p.startPollerOnce()
	sub := p.hub().topicFor(relation).Subscribe(ctx)
	return &Handle{sub: sub}, sub.C()
}

// RelationFeed adapts one relation's CDC stream to the
// operations.ChangeNotifications contract the cache and engine layers
// consume, hiding the Envelope/LagError plumbing RowChanges exposes
// directly.
type RelationFeed struct {
	pool     *Pool
	relation string
}

// Feed returns a RelationFeed for relation, satisfying
// operations.ChangeNotifications[*types.StorageEntity].
func (p *Pool) Feed(relation string) *RelationFeed {
	return &RelationFeed{pool: p, relation: relation}
}

// Subscribe starts (or joins) the poller and returns a channel of
// Batches; from is accepted for interface compatibility but the
// storage backend's broadcast is always live-forward from the moment
// of the call — a full resync (sync()) is expected to have
// already run against replayed/Beginning state before Ingest is
// started.
func (f *RelationFeed) Subscribe(ctx context.Context, from types.StreamPosition) (<-chan types.Batch[*types.StorageEntity], error) {
	_, envelopes := f.pool.RowChanges(ctx, f.relation)
	out := make(chan types.Batch[*types.StorageEntity], stream.DefaultCapacity)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-envelopes:
				if !ok {
					return
				}
				if env.Err != nil {
					telemetry.StreamLagEvents.WithLabelValues(f.relation).Inc()
					log.WithError(env.Err).WithField("relation", f.relation).Warn("relation feed: lag event")
					continue
				}
				select {
				case out <- env.Batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *Pool) startPollerOnce() {
	p.pollerOnce.Do(func() {
		sc := stopper.WithContext(context.Background())
		p.pollerStop = sc
		sc.Go(func() error {
			p.pollLoop(sc)
			return nil
		})
	})
}

// StopPoller halts the background shadow-log poller. Intended for
// clean shutdown in tests and in cmd/holon.
func (p *Pool) StopPoller() {
	if p.pollerStop != nil {
		p.pollerStop.Stop()
	}
}

func (p *Pool) pollLoop(sc *stopper.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sc.Stopping():
			return
		case <-ticker.C:
			if err := p.drainChangeLog(); err != nil {
				log.WithError(err).Warn("cdc poller: failed to drain change log")
			}
		}
	}
}

func (p *Pool) drainChangeLog() error {
	hub := p.hub()
	rows, err := p.db.Query(`SELECT seq, relation, kind, entity_id, data, operation_id, trace_id FROM `+quoteIdent(changeLogTable)+` WHERE seq > ? ORDER BY seq ASC`, hub.lastSeq)
	if err != nil {
		return errors.Wrap(err, "querying change log")
	}
	defer rows.Close()

	byRelation := make(map[string][]types.Change[*types.StorageEntity])
	var maxSeq int64
	var processedSeqs []int64
	for rows.Next() {
		var seq int64
		var relation, kind, entityID string
		var data, operationID, traceID sql.NullString
		if err := rows.Scan(&seq, &relation, &kind, &entityID, &data, &operationID, &traceID); err != nil {
			return errors.Wrap(err, "scanning change log row")
		}
		if seq > maxSeq {
			maxSeq = seq
		}
		processedSeqs = append(processedSeqs, seq)

		origin := types.LocalOrigin(operationID.String, traceID.String)
		switch kind {
		case "created":
			byRelation[relation] = append(byRelation[relation], types.Created[*types.StorageEntity](decodeLogPayload(data), origin))
		case "updated":
			byRelation[relation] = append(byRelation[relation], types.Updated[*types.StorageEntity](entityID, decodeLogPayload(data), origin))
		case "deleted":
			byRelation[relation] = append(byRelation[relation], types.Deleted[*types.StorageEntity](entityID, origin))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(processedSeqs) == 0 {
		return nil
	}

	for relation, changes := range byRelation {
		coalesced := stream.Coalesce(relation, changes, func(e *types.StorageEntity) string { return e.ID() })
		if dropped := len(changes) - len(coalesced); dropped > 0 {
			telemetry.CDCChangesCoalesced.WithLabelValues(relation).Add(float64(dropped))
		}
		if len(coalesced) == 0 {
			continue
		}
		hub.topicFor(relation).Publish(types.NewBatch(relation, coalesced))
		telemetry.CDCBatchesEmitted.WithLabelValues(relation).Inc()
	}

	hub.lastSeq = maxSeq
	_, err = p.db.Exec(`DELETE FROM `+quoteIdent(changeLogTable)+` WHERE seq <= ?`, maxSeq)
	return errors.Wrap(err, "trimming change log")
}

func decodeLogPayload(data sql.NullString) *types.StorageEntity {
	e := types.NewStorageEntity()
	if !data.Valid || data.String == "" {
		return e
	}
	var m map[string]loggedField
	if err := json.Unmarshal([]byte(data.String), &m); err != nil {
		return e
	}
	for k, lf := range m {
		e.Set(k, valueFromLogged(lf))
	}
	return e
}

func valueFromLogged(lf loggedField) types.Value {
	switch lf.Kind {
	case types.KindNull:
		return types.Null
	case types.KindBoolean:
		return types.NewBoolean(lf.Value == "true")
	case types.KindInteger:
		var n int64
		neg := false
		s := lf.Value
		if len(s) > 0 && s[0] == '-' {
			neg = true
			s = s[1:]
		}
		for _, c := range s {
			if c < '0' || c > '9' {
				n = 0
				break
			}
			n = n*10 + int64(c-'0')
		}
		if neg {
			n = -n
		}
		return types.NewInteger(n)
	case types.KindReference:
		return types.NewReference(lf.Value)
	case types.KindJSON:
		return types.NewJSON(lf.Value)
	default:
		return types.NewString(lf.Value)
	}
}
