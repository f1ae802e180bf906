// Package engine implements the Backend Engine (C13): a facade
// composing internal/query's compiler, internal/storage's execution
// surface, internal/operations' dispatcher, and internal/oplog's undo
// stack into the small public API a front-end actually calls.
//
// Grounded on internal/source/logical/provider.go's Factory — a
// composition root with no state of its own beyond references to the
// pieces it wires together — generalized from "build one logical
// replication Handler" to "serve one query/operation round trip".
package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nightscape/holon/internal/oplog"
	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/query"
	"github.com/nightscape/holon/internal/storage"
	"github.com/nightscape/holon/internal/telemetry"
	"github.com/nightscape/holon/internal/types"
)

// Engine is the Backend Engine facade.
type Engine struct {
	pool       *storage.Pool
	dispatcher *operations.Dispatcher
	log        *oplog.Log
	transforms *query.TransformPipeline

	views *viewRegistry
}

// New composes an Engine over already-constructed components; cmd/holon
// is responsible for wiring pool/dispatcher/log/providers before
// calling this. channelCapacity overrides watch_query's per-view
// stream buffering (<= 0 keeps the library default); cmd/holon plumbs
// its --channel-capacity flag through here the same way it calls
// pool.SetChannelCapacity for row_changes/sync streams.
func New(pool *storage.Pool, dispatcher *operations.Dispatcher, log *oplog.Log, channelCapacity int) *Engine {
	return &Engine{
		pool:       pool,
		dispatcher: dispatcher,
		log:        log,
		transforms: query.NewTransformPipeline(),
		views:      newViewRegistry(pool, channelCapacity),
	}
}

// CompiledQuery is the result of CompileQuery: executable SQL plus the
// UI-agnostic RenderSpec split off the trailing `render(...)` call and
// every `derive { ui = render(...) }` row template.
type CompiledQuery struct {
	SQL    string
	Args   []interface{}
	Render types.RenderSpec
}

// CompileQuery runs the PRQL parser, the Pl/Rq transform pipeline, row
// template extraction, and the query/render split, and compiles the
// remaining relational pipeline to SQL. It performs no I/O.
func (e *Engine) CompileQuery(source string) (*CompiledQuery, error) {
	_, span := telemetry.Tracer.Start(context.Background(), "engine.compile_query")
	defer span.End()

	m, err := query.Parse(source)
	if err != nil {
		return nil, err
	}
	if err := e.transforms.Run(m); err != nil {
		return nil, err
	}
	templates, err := query.ExtractRowTemplates(m)
	if err != nil {
		return nil, err
	}
	renderArgs, err := query.SplitModule(m)
	if err != nil {
		return nil, err
	}

	var root types.RenderExpr
	if len(renderArgs) > 0 {
		root, err = query.ToRenderSpec(renderArgs[0])
		if err != nil {
			return nil, err
		}
	}

	compiled, err := query.Compile(m)
	if err != nil {
		return nil, err
	}

	return &CompiledQuery{
		SQL:  compiled.SQL,
		Args: compiled.Args,
		Render: types.RenderSpec{
			Root:         root,
			RowTemplates: templates,
		},
	}, nil
}

// ExecuteQuery runs already-compiled SQL with positional args and
// returns the result rows (execute_query).
func (e *Engine) ExecuteQuery(ctx context.Context, sql string, args []interface{}) ([]*types.StorageEntity, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "engine.execute_query")
	defer span.End()
	return e.pool.QuerySQL(ctx, sql, args...)
}

// QueryAndWatch runs source's compile/execute/watch round trip in one
// call (query_and_watch): compiles source, executes it for
// the initial row set, and opens a live watch on the same SQL.
func (e *Engine) QueryAndWatch(ctx context.Context, source string) (*types.RenderSpec, []*types.StorageEntity, *WatchHandle, <-chan RowChange, error) {
	compiled, err := e.CompileQuery(source)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rows, err := e.ExecuteQuery(ctx, compiled.SQL, compiled.Args)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	handle, changes, err := e.WatchQuery(ctx, compiled.SQL, compiled.Args)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return &compiled.Render, rows, handle, changes, nil
}

// ExecuteOperation dispatches one operation call, appends the returned
// inverse to the Operation Log (clearing the redo stack), and returns
// the UndoAction (execute_operation). The span is started from the
// caller's ctx (the inbound request's, for cmd/holon's HTTP handler)
// rather than a detached background context, so the trace id it
// carries is available to Dispatcher.ExecuteOperation and, from there,
// to the Origin of any Change the operation causes.
func (e *Engine) ExecuteOperation(ctx context.Context, entityName, opName string, params *types.StorageEntity) (types.UndoAction, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "engine.execute_operation",
		trace.WithAttributes(attribute.String("entity", entityName), attribute.String("op", opName)))
	defer span.End()

	action, err := e.dispatcher.ExecuteOperation(ctx, entityName, opName, params)
	if err != nil {
		return types.Irreversible, err
	}
	e.log.Append(types.Operation{EntityName: entityName, OpName: opName, Params: params}, action)
	return action, nil
}

// Undo pops and executes the most recent reversible operation's
// inverse.
func (e *Engine) Undo(ctx context.Context) (bool, error) { return e.log.Undo(ctx, e.dispatcher) }

// Redo re-applies the most recently undone operation.
func (e *Engine) Redo(ctx context.Context) (bool, error) { return e.log.Redo(ctx, e.dispatcher) }

// CanUndo reports whether Undo would do anything.
func (e *Engine) CanUndo() bool { return e.log.CanUndo() }

// CanRedo reports whether Redo would do anything.
func (e *Engine) CanRedo() bool { return e.log.CanRedo() }

// SyncAll runs every registered SyncableProvider's resync concurrently.
func (e *Engine) SyncAll(ctx context.Context) error { return e.dispatcher.SyncAll(ctx) }

// Sync runs one named provider's resync.
func (e *Engine) Sync(ctx context.Context, providerName string) error {
	return e.dispatcher.Sync(ctx, providerName)
}

// Close releases every live watch view and its poller.
func (e *Engine) Close() { e.views.closeAll() }
