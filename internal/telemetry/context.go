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

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type operationIDKey struct{}

// WithOperationID attaches the id of the operation currently executing
// to ctx, so any mutation performed while this ctx is live can stamp
// its origin with the operation that caused it.
func WithOperationID(ctx context.Context, operationID string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, operationID)
}

// OperationIDFromContext recovers the id set by WithOperationID, or ""
// if ctx carries none (a background poller, a sync from an upstream
// provider, or any other mutation not triggered by execute_operation).
func OperationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(operationIDKey{}).(string)
	return id
}

// TraceIDFromContext recovers the hex trace id of the otel span active
// on ctx, or "" if ctx carries no span context — the same
// context.Context propagation path compile_query/execute_query/
// execute_operation use for tracing doubles as the source of the trace
// id a Change's Origin copies onto CDC events caused by that request.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
