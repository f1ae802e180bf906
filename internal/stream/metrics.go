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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric vocabulary adapted from internal/staging/stage/metrics.go:
// one counter per relation for processed vs dropped events, plus a
// coalesced-event counter specific to this package's DELETE+INSERT
// merging rule.
var (
	metricBatchesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holon",
		Subsystem: "stream",
		Name:      "batches_published_total",
		Help:      "Number of change batches published per relation.",
	}, []string{"relation"})

	metricBatchesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holon",
		Subsystem: "stream",
		Name:      "batches_dropped_total",
		Help:      "Number of change batches dropped for a lagging subscriber.",
	}, []string{"relation"})

	metricChangesCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holon",
		Subsystem: "stream",
		Name:      "changes_coalesced_total",
		Help:      "Number of Delete+Insert / Insert+Delete pairs coalesced within a burst.",
	}, []string{"relation"})
)
