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

// Package stream implements the Change Stream Fabric: bounded
// broadcast of typed Batches, CDC-to-batch conversion, and the
// DELETE+INSERT coalescing law.
//
// The broadcast mechanics are adapted from the notify.Var pattern
// observed in internal/source/cdc/resolver.go (a value cell that
// interested goroutines watch for changes) generalized from "one
// latest value" to "a bounded queue of Batches per subscriber", with
// independent per-subscriber queues so a lagged subscriber does not
// block others.
package stream

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/nightscape/holon/internal/types"
)

// DefaultCapacity is the minimum bounded channel capacity enforced for
// every row_changes/watch_query subscriber queue.
const DefaultCapacity = 1024

// LagError is delivered to a subscriber in place of a batch when its
// queue overflowed; the stream continues afterward.
type LagError struct {
	Dropped int
}

func (e *LagError) Error() string {
	return "subscriber lagged, dropped batches"
}

// Envelope is what a subscriber receives: exactly one of Batch or Err
// is populated. Err is a *LagError for a lag event; any other error
// (none currently produced) would signal stream termination.
type Envelope[T any] struct {
	Batch types.Batch[T]
	Err   error
}

// Subscription is a live receiver on a Topic. Callers must call Close
// when done; Close is idempotent.
type Subscription[T any] struct {
	ch     chan Envelope[T]
	topic  *Topic[T]
	once   sync.Once
}

// C returns the receive channel. It is closed when the topic is closed
// or the subscription is individually removed.
func (s *Subscription[T]) C() <-chan Envelope[T] { return s.ch }

// Close cancels the subscription and releases its slot on the topic:
// dropping a returned stream cancels its subscription.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.topic.remove(s)
		close(s.ch)
	})
}

// Topic is a bounded multi-subscriber broadcast of Batches for one
// relation. Senders never block: a full subscriber queue causes the
// newest batch to be dropped for that subscriber and a LagError queued
// in its place.
type Topic[T any] struct {
	relationName string
	capacity     int

	mu   sync.Mutex
	subs map[*Subscription[T]]struct{}
}

// NewTopic constructs a Topic for the given relation with at least
// DefaultCapacity per-subscriber buffering.
func NewTopic[T any](relationName string, capacity int) *Topic[T] {
	if capacity < DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &Topic[T]{relationName: relationName, capacity: capacity, subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new receiver. The returned Subscription must be
// Closed by the caller (directly, or by canceling ctx) to release its
// resources. Capacity is at least DefaultCapacity.
func (t *Topic[T]) Subscribe(ctx context.Context) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan Envelope[T], t.capacity), topic: t}
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()
	if ctx != nil {
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
	}
	return sub
}

func (t *Topic[T]) remove(sub *Subscription[T]) {
	t.mu.Lock()
	delete(t.subs, sub)
	t.mu.Unlock()
}

// Publish fans a batch out to every current subscriber. It never
// blocks: a subscriber whose queue is full is sent a lag notice
// instead, per a try-send + drop-newest policy.
func (t *Topic[T]) Publish(batch types.Batch[T]) {
	metricBatchesPublished.WithLabelValues(t.relationName).Inc()
	t.mu.Lock()
	subs := make([]*Subscription[T], 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- Envelope[T]{Batch: batch}:
		default:
			metricBatchesDropped.WithLabelValues(t.relationName).Inc()
			log.WithField("relation", t.relationName).Warn("subscriber lagged, dropping batch")
			t.reportLag(s)
		}
	}
}

// reportLag attempts to enqueue a LagError without blocking; if the
// lag notice itself can't be enqueued the subscriber is already as
// informed as it can be (it will see a gap in sequence next time it
// drains — a lag event is best-effort, not guaranteed-delivery).
func (t *Topic[T]) reportLag(s *Subscription[T]) {
	select {
	case s.ch <- Envelope[T]{Err: &LagError{Dropped: 1}}:
	default:
	}
}

// SubscriberCount reports the current number of live subscriptions,
// used by tests and diagnostics.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
