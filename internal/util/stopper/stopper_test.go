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

package stopper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/util/stopper"
)

func TestStopClosesStopping(t *testing.T) {
	sc := stopper.WithContext(context.Background())
	sc.Stop()
	select {
	case <-sc.Stopping():
	case <-time.After(time.Second):
		t.Fatal("Stopping() never closed after Stop")
	}
}

func TestWaitBlocksUntilGoroutinesReturn(t *testing.T) {
	sc := stopper.WithContext(context.Background())
	started := make(chan struct{})
	sc.Go(func() error {
		close(started)
		<-sc.Stopping()
		return nil
	})
	<-started
	require.NoError(t, sc.Wait())
}

func TestWaitReturnsFirstCollectedError(t *testing.T) {
	sc := stopper.WithContext(context.Background())
	boom := errors.New("boom")
	sc.Go(func() error { return boom })
	sc.Go(func() error { return nil })
	require.ErrorIs(t, sc.Wait(), boom)
}

func TestParentCancellationClosesStopping(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	sc := stopper.WithContext(parent)
	cancel()
	select {
	case <-sc.Stopping():
	case <-time.After(time.Second):
		t.Fatal("Stopping() never closed after parent cancellation")
	}
}
