package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/engine"
	"github.com/nightscape/holon/internal/oplog"
	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/storage"
	"github.com/nightscape/holon/internal/types"
	"github.com/nightscape/holon/providers/tasks"
)

func newEngine(t *testing.T) (*engine.Engine, *tasks.Provider) {
	t.Helper()
	pool, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	p, err := tasks.New(context.Background(), pool)
	require.NoError(t, err)

	registry := operations.NewRegistry()
	registry.RegisterProvider(p)
	dispatcher := operations.NewDispatcher(registry)
	dispatcher.RegisterCrud(p)

	e := engine.New(pool, dispatcher, oplog.New(0), 0)
	t.Cleanup(e.Close)
	return e, p
}

func insertTask(t *testing.T, p *tasks.Provider, id, content string) {
	t.Helper()
	require.NoError(t, p.Insert(context.Background(), types.NewStorageEntity().
		Set(types.ReservedID, types.NewString(id)).
		Set("content", types.NewString(content)).
		Set("completed", types.NewBoolean(false)).
		Set("priority", types.NewInteger(0))))
}

func TestCompileQueryAndExecuteQueryRoundTrip(t *testing.T) {
	e, p := newEngine(t)
	insertTask(t, p, "1", "buy milk")

	compiled, err := e.CompileQuery("from tasks | select {id, content}")
	require.NoError(t, err)
	require.Contains(t, compiled.SQL, "FROM \"tasks\"")

	rows, err := e.ExecuteQuery(context.Background(), compiled.SQL, compiled.Args)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "buy milk", rows[0].MustGet("content").Str())
}

func TestCompileQuerySplitsTrailingRender(t *testing.T) {
	e, p := newEngine(t)
	insertTask(t, p, "1", "buy milk")

	compiled, err := e.CompileQuery("from tasks | select {id, content} | render(object(label=content))")
	require.NoError(t, err)
	require.NotNil(t, compiled.Render.Root)
	require.NotContains(t, compiled.SQL, "render")
}

func TestExecuteOperationAppendsToLogAndUndoRestores(t *testing.T) {
	e, p := newEngine(t)
	insertTask(t, p, "1", "buy milk")

	_, err := e.ExecuteOperation(context.Background(), "tasks", "set_completion", types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("1")).
		Set("value", types.NewBoolean(true)))
	require.NoError(t, err)

	row, _, err := p.Get(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, row.MustGet("completed").Bool())
	require.True(t, e.CanUndo())

	ok, err := e.Undo(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	row, _, err = p.Get(context.Background(), "1")
	require.NoError(t, err)
	require.False(t, row.MustGet("completed").Bool())
	require.True(t, e.CanRedo())

	ok, err = e.Redo(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	row, _, err = p.Get(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, row.MustGet("completed").Bool())
}

func TestExecuteOperationUnknownEntityErrors(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.ExecuteOperation(context.Background(), "ghost", "set_field", types.NewStorageEntity())
	require.Error(t, err)
	require.True(t, types.IsUnknownOperation(err))
}

func TestSyncAllWithNoSyncableProvidersSucceeds(t *testing.T) {
	e, _ := newEngine(t)
	// tasks.Provider is not itself Syncable, so SyncAll over an empty
	// sync registry must simply succeed with nothing to do.
	require.NoError(t, e.SyncAll(context.Background()))
}

func TestWatchQueryObservesInserts(t *testing.T) {
	e, p := newEngine(t)

	compiled, err := e.CompileQuery("from tasks | select {id, content}")
	require.NoError(t, err)

	handle, changes, err := e.WatchQuery(context.Background(), compiled.SQL, compiled.Args)
	require.NoError(t, err)
	defer handle.Close()

	insertTask(t, p, "1", "buy milk")

	select {
	case c := <-changes:
		require.Equal(t, types.ChangeCreated, c.Change.Kind())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch_query change")
	}
}
