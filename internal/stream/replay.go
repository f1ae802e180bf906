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

import (
	"context"

	"github.com/nightscape/holon/internal/types"
)

// ComposedSubscription joins a synchronous replay slice with a live
// Subscription, presenting both through one channel. Replay is
// enqueued from a background goroutine so that a replay larger than
// the channel capacity cannot deadlock the caller that's waiting to
// start ranging over C().
type ComposedSubscription[T any] struct {
	ch   chan Envelope[T]
	live *Subscription[T]
}

// C returns the combined receive channel: replay batches first (in
// order), then whatever the live subscription emits from the point it
// was created.
func (c *ComposedSubscription[T]) C() <-chan Envelope[T] { return c.ch }

// Close releases the underlying live subscription.
func (c *ComposedSubscription[T]) Close() { c.live.Close() }

// ComposeReplay returns a stream that first plays back `replay`
// (typically one Created batch per currently-live entity, // property 9) and then continues with whatever `live` emits. The
// background goroutine feeding replay respects ctx cancellation.
func ComposeReplay[T any](ctx context.Context, replay []types.Batch[T], live *Subscription[T]) *ComposedSubscription[T] {
	out := make(chan Envelope[T], DefaultCapacity)
	go func() {
		for _, b := range replay {
			select {
			case out <- Envelope[T]{Batch: b}:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case env, ok := <-live.C():
				if !ok {
					close(out)
					return
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return &ComposedSubscription[T]{ch: out, live: live}
}
