package operations_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/types"
)

// fakeCrud is an in-memory operations.CrudOperations double, keyed by
// entity ID, used to exercise the dispatcher's generic create/update/
// delete fallback independent of any real storage backend.
type fakeCrud struct {
	mu   sync.Mutex
	name string
	rows map[string]*types.StorageEntity
}

func newFakeCrud(name string) *fakeCrud {
	return &fakeCrud{name: name, rows: make(map[string]*types.StorageEntity)}
}

func (f *fakeCrud) EntityName() string      { return f.name }
func (f *fakeCrud) Schema() *types.Schema   { return &types.Schema{} }

func (f *fakeCrud) Get(ctx context.Context, id string) (*types.StorageEntity, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	return row, ok, nil
}

func (f *fakeCrud) Query(ctx context.Context, filter types.Filter) ([]*types.StorageEntity, error) {
	return nil, nil
}

func (f *fakeCrud) Insert(ctx context.Context, entity *types.StorageEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[entity.ID()] = entity
	return nil
}

func (f *fakeCrud) Update(ctx context.Context, id string, fields *types.StorageEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id] = fields
	return nil
}

func (f *fakeCrud) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

var _ operations.CrudOperations = (*fakeCrud)(nil)

type fakeSync struct {
	name string
	err  error
	mu   sync.Mutex
	hits int
}

func (f *fakeSync) ProviderName() string { return f.name }
func (f *fakeSync) Sync(ctx context.Context) error {
	f.mu.Lock()
	f.hits++
	f.mu.Unlock()
	return f.err
}

var _ operations.SyncableProvider = (*fakeSync)(nil)

func row(id string) *types.StorageEntity {
	return types.NewStorageEntity().Set(types.ReservedID, types.NewString(id))
}

func TestDispatcherPrefersRegisteredOperationOverGenericCrud(t *testing.T) {
	registry := operations.NewRegistry()
	registry.RegisterProvider(staticOperationProvider{entries: []types.OperationEntry{
		{
			Descriptor: types.OperationDescriptor{EntityName: "blocks", Name: "create"},
			Fn: func(_ context.Context, params *types.StorageEntity) (types.UndoAction, error) {
				return types.Undo(types.Operation{EntityName: "blocks", OpName: "delete", Params: params}), nil
			},
		},
	}})
	d := operations.NewDispatcher(registry)
	crud := newFakeCrud("blocks")
	d.RegisterCrud(crud)

	action, err := d.ExecuteOperation(context.Background(), "blocks", "create", row("a"))
	require.NoError(t, err)
	require.True(t, action.IsReversible())
	// the registered entry must have run instead of the generic fallback,
	// so the fake CRUD provider must never have been reached.
	_, found, _ := crud.Get(context.Background(), "a")
	require.False(t, found)
}

func TestDispatcherPreconditionFailureIsInvalidOperation(t *testing.T) {
	registry := operations.NewRegistry()
	registry.RegisterProvider(staticOperationProvider{entries: []types.OperationEntry{
		{
			Descriptor: types.OperationDescriptor{
				EntityName:   "blocks",
				Name:         "archive",
				Precondition: func(current, params *types.StorageEntity) bool { return false },
			},
			Fn: noopFn,
		},
	}})
	d := operations.NewDispatcher(registry)

	_, err := d.ExecuteOperation(context.Background(), "blocks", "archive", row("a"))
	require.Error(t, err)
	require.True(t, types.IsInvalidOperation(err))
}

func TestDispatcherGenericCrudFallback(t *testing.T) {
	d := operations.NewDispatcher(operations.NewRegistry())
	crud := newFakeCrud("blocks")
	d.RegisterCrud(crud)

	action, err := d.ExecuteOperation(context.Background(), "blocks", "create", row("a"))
	require.NoError(t, err)
	require.True(t, action.IsReversible())
	require.Equal(t, "delete", action.Operation.OpName)
	_, found, _ := crud.Get(context.Background(), "a")
	require.True(t, found)

	action, err = d.ExecuteOperation(context.Background(), "blocks", "update", types.NewStorageEntity().
		Set(types.ReservedID, types.NewString("a")).Set("x", types.NewInteger(1)))
	require.NoError(t, err)
	require.True(t, action.IsReversible())
	require.Equal(t, "update", action.Operation.OpName)

	action, err = d.ExecuteOperation(context.Background(), "blocks", "delete", row("a"))
	require.NoError(t, err)
	require.True(t, action.IsReversible())
	require.Equal(t, "create", action.Operation.OpName)
	_, found, _ = crud.Get(context.Background(), "a")
	require.False(t, found)
}

func TestDispatcherUnknownOperationFallsThroughToUnknownOperationError(t *testing.T) {
	d := operations.NewDispatcher(operations.NewRegistry())
	d.RegisterCrud(newFakeCrud("blocks"))

	_, err := d.ExecuteOperation(context.Background(), "blocks", "teleport", row("a"))
	require.Error(t, err)
	require.True(t, types.IsUnknownOperation(err))
}

func TestDispatcherUnknownEntityIsUnknownOperationError(t *testing.T) {
	d := operations.NewDispatcher(operations.NewRegistry())
	_, err := d.ExecuteOperation(context.Background(), "widgets", "create", row("a"))
	require.Error(t, err)
	require.True(t, types.IsUnknownOperation(err))
}

func TestSyncAllRunsEveryProviderAndPropagatesFirstError(t *testing.T) {
	d := operations.NewDispatcher(operations.NewRegistry())
	ok1 := &fakeSync{name: "one"}
	ok2 := &fakeSync{name: "two"}
	d.RegisterSyncable(ok1)
	d.RegisterSyncable(ok2)
	require.NoError(t, d.SyncAll(context.Background()))
	require.Equal(t, 1, ok1.hits)
	require.Equal(t, 1, ok2.hits)

	failing := &fakeSync{name: "three", err: errors.New("boom")}
	d.RegisterSyncable(failing)
	require.Error(t, d.SyncAll(context.Background()))
}

func TestSyncUnknownProviderIsInvalidOperation(t *testing.T) {
	d := operations.NewDispatcher(operations.NewRegistry())
	err := d.Sync(context.Background(), "nonexistent")
	require.Error(t, err)
	require.True(t, types.IsInvalidOperation(err))
}

func TestSyncNamedProvider(t *testing.T) {
	d := operations.NewDispatcher(operations.NewRegistry())
	s := &fakeSync{name: "one"}
	d.RegisterSyncable(s)
	require.NoError(t, d.Sync(context.Background(), "one"))
	require.Equal(t, 1, s.hits)
}
