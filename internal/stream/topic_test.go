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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/stream"
	"github.com/nightscape/holon/internal/types"
)

func TestNewTopicFloorsCapacityAtDefault(t *testing.T) {
	topic := stream.NewTopic[string]("widgets", 1)
	sub := topic.Subscribe(context.Background())
	defer sub.Close()
	require.Equal(t, 1, topic.SubscriberCount())
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	topic := stream.NewTopic[string]("widgets", 0)
	a := topic.Subscribe(context.Background())
	b := topic.Subscribe(context.Background())
	defer a.Close()
	defer b.Close()
	require.Equal(t, 2, topic.SubscriberCount())

	batch := types.NewBatch("widgets", []types.Change[string]{types.Created("1", types.LocalOrigin("", ""))})
	topic.Publish(batch)

	for _, sub := range []*stream.Subscription[string]{a, b} {
		select {
		case env := <-sub.C():
			require.NoError(t, env.Err)
			require.Equal(t, "widgets", env.Batch.RelationName)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for published batch")
		}
	}
}

func TestSubscriptionClosedByContextCancellation(t *testing.T) {
	topic := stream.NewTopic[string]("widgets", 0)
	ctx, cancel := context.WithCancel(context.Background())
	sub := topic.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		return topic.SubscriberCount() == 0
	}, time.Second, time.Millisecond)

	_, ok := <-sub.C()
	require.False(t, ok, "channel must be closed once the subscription is removed")
}

func TestCloseIsIdempotent(t *testing.T) {
	topic := stream.NewTopic[string]("widgets", 0)
	sub := topic.Subscribe(context.Background())
	sub.Close()
	require.NotPanics(t, sub.Close)
}
