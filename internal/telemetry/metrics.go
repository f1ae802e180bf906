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

// Package telemetry holds the prometheus counters/histograms and the
// otel tracer shared across the backend: CDC batch counts, coalescing
// drops, stream lag events, and operation dispatch latency, grounded
// on internal/staging/stage/metrics.go's package-level promauto vars
// (this package has no internal/util/metrics helper package left to
// import LatencyBuckets/TableLabels from, so it declares its own, same
// shape).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// LatencyBuckets mirrors metrics.LatencyBuckets: a log-ish spread from
// 1ms to ~16s, suitable for both an in-process operation dispatch and
// a cross-network provider sync.
var LatencyBuckets = []float64{
	.001, .002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 16,
}

// RelationLabels tags a metric by the entity/relation it concerns,
// mirroring metrics.TableLabels.
var RelationLabels = []string{"relation"}

var (
	// OperationDispatchLatency records ExecuteOperation's wall time per
	// entity.
	OperationDispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "holon_operation_dispatch_duration_seconds",
		Help:    "time spent dispatching one operation call, by entity",
		Buckets: LatencyBuckets,
	}, RelationLabels)

	// OperationDispatchErrors counts failed ExecuteOperation calls.
	OperationDispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holon_operation_dispatch_errors_total",
		Help: "the number of operation dispatch calls that returned an error",
	}, RelationLabels)

	// CDCBatchesEmitted counts change batches published to a relation's
	// topic, by relation (internal/storage/cdc.go, internal/engine's
	// watch_query view poller).
	CDCBatchesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holon_cdc_batches_emitted_total",
		Help: "the number of CDC change batches published, by relation",
	}, RelationLabels)

	// CDCChangesCoalesced counts how many raw changes were dropped by
	// stream.Coalesce before publication — the gap between changes
	// observed in a poll burst and changes actually emitted.
	CDCChangesCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holon_cdc_changes_coalesced_total",
		Help: "the number of raw changes absorbed by coalescing before publication, by relation",
	}, RelationLabels)

	// StreamLagEvents counts LagError deliveries — a subscriber fell
	// behind stream.DefaultCapacity and had to drop to a gap marker.
	StreamLagEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holon_stream_lag_events_total",
		Help: "the number of times a stream subscriber received a LagError, by relation",
	}, RelationLabels)
)

// Tracer is the shared otel tracer carrying trace context through
// compile_query/execute_query/execute_operation, propagated
// idiomatically via context.Context rather than a bespoke
// thread-local.
var Tracer = otel.Tracer("github.com/nightscape/holon")

var _ trace.Tracer = Tracer
