package oplog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/oplog"
	"github.com/nightscape/holon/internal/types"
)

// stubDispatcher replays whatever UndoAction its scripted responses
// table maps the (entityName, opName) pair it's called with; calls are
// also recorded for assertions.
type stubDispatcher struct {
	responses map[string]types.UndoAction
	calls     []types.Operation
}

func newStub() *stubDispatcher {
	return &stubDispatcher{responses: make(map[string]types.UndoAction)}
}

func (s *stubDispatcher) on(entityName, opName string, action types.UndoAction) {
	s.responses[entityName+"/"+opName] = action
}

func (s *stubDispatcher) ExecuteOperation(_ context.Context, entityName, opName string, params *types.StorageEntity) (types.UndoAction, error) {
	s.calls = append(s.calls, types.Operation{EntityName: entityName, OpName: opName, Params: params})
	return s.responses[entityName+"/"+opName], nil
}

func TestAppendClearsRedoStack(t *testing.T) {
	l := oplog.New(10)
	d := newStub()

	l.Append(types.Operation{EntityName: "blocks", OpName: "move_block"},
		types.Undo(types.Operation{EntityName: "blocks", OpName: "move_block"}))
	require.True(t, l.CanUndo())

	applied, err := l.Undo(context.Background(), d)
	require.NoError(t, err)
	require.True(t, applied)
	require.True(t, l.CanRedo())

	// appending a new entry must clear the redo stack.
	l.Append(types.Operation{EntityName: "blocks", OpName: "indent"}, types.Irreversible)
	require.False(t, l.CanRedo())
}

func TestUndoSkipsIrreversibleEntries(t *testing.T) {
	l := oplog.New(10)
	d := newStub()

	l.Append(types.Operation{EntityName: "blocks", OpName: "move_up"}, types.Irreversible)
	require.False(t, l.CanUndo())

	inverse := types.Undo(types.Operation{EntityName: "blocks", OpName: "move_block", Params: types.NewStorageEntity()})
	l.Append(types.Operation{EntityName: "blocks", OpName: "move_block"}, inverse)
	require.True(t, l.CanUndo())

	d.on("blocks", "move_block", types.Irreversible)
	applied, err := l.Undo(context.Background(), d)
	require.NoError(t, err)
	require.True(t, applied)
	require.Len(t, d.calls, 1)
	require.Equal(t, "move_block", d.calls[0].OpName)
}

// TestUndoRedoRoundTrip exercises testable properties 5 and 6: undo
// followed by redo restores the prior logical state, and repeated
// undo/redo cycling is idempotent with respect to stack sizes.
func TestUndoRedoRoundTrip(t *testing.T) {
	l := oplog.New(10)
	d := newStub()

	forward := types.Operation{EntityName: "blocks", OpName: "indent", Params: types.NewStorageEntity()}
	inverse := types.Undo(types.Operation{EntityName: "blocks", OpName: "outdent", Params: types.NewStorageEntity()})
	l.Append(forward, inverse)

	d.on("blocks", "outdent", types.Undo(forward))

	applied, err := l.Undo(context.Background(), d)
	require.NoError(t, err)
	require.True(t, applied)
	require.False(t, l.CanUndo())
	require.True(t, l.CanRedo())

	applied, err = l.Redo(context.Background(), d)
	require.NoError(t, err)
	require.True(t, applied)
	require.True(t, l.CanUndo())
	require.False(t, l.CanRedo())

	// doing it again must behave identically (idempotent cycling).
	applied, err = l.Undo(context.Background(), d)
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = l.Redo(context.Background(), d)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestUndoRedoOnEmptyLogIsNoop(t *testing.T) {
	l := oplog.New(10)
	d := newStub()

	applied, err := l.Undo(context.Background(), d)
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = l.Redo(context.Background(), d)
	require.NoError(t, err)
	require.False(t, applied)
}

func TestAppendTrimsOldestPastMaxSize(t *testing.T) {
	l := oplog.New(2)
	d := newStub()

	for i := 0; i < 5; i++ {
		l.Append(types.Operation{EntityName: "blocks", OpName: "indent"},
			types.Undo(types.Operation{EntityName: "blocks", OpName: "outdent", Params: types.NewStorageEntity()}))
	}
	d.on("blocks", "outdent", types.Irreversible)

	// only maxSize entries should survive; undo twice should succeed,
	// a third time should find nothing left.
	applied, err := l.Undo(context.Background(), d)
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = l.Undo(context.Background(), d)
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = l.Undo(context.Background(), d)
	require.NoError(t, err)
	require.False(t, applied)
}

func TestNewDefaultsNonPositiveMaxSize(t *testing.T) {
	l := oplog.New(0)
	require.NotNil(t, l)
	d := newStub()
	applied, err := l.Undo(context.Background(), d)
	require.NoError(t, err)
	require.False(t, applied)
}
