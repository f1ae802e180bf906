package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/cache"
	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/storage"
	"github.com/nightscape/holon/internal/types"
	"github.com/nightscape/holon/internal/util/stopper"
)

func testSchema() *types.Schema {
	return &types.Schema{
		TableName:  "widgets",
		PrimaryKey: types.ReservedID,
		Fields: []types.FieldDescriptor{
			{Name: types.ReservedID, Type: types.FieldString, PrimaryKey: true},
			{Name: "name", Type: types.FieldString},
		},
	}
}

func widget(id, name string) *types.StorageEntity {
	return types.NewStorageEntity().
		Set(types.ReservedID, types.NewString(id)).
		Set("name", types.NewString(name))
}

// fakeUpstream is an in-memory operations.DataSource/CrudOperations
// double standing in for a real upstream provider the cache mirrors.
type fakeUpstream struct {
	rows     map[string]*types.StorageEntity
	readOnly bool
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{rows: make(map[string]*types.StorageEntity)}
}

func (f *fakeUpstream) EntityName() string    { return "widgets" }
func (f *fakeUpstream) Schema() *types.Schema { return testSchema() }

func (f *fakeUpstream) Get(ctx context.Context, id string) (*types.StorageEntity, bool, error) {
	row, ok := f.rows[id]
	return row, ok, nil
}

func (f *fakeUpstream) Query(ctx context.Context, filter types.Filter) ([]*types.StorageEntity, error) {
	out := make([]*types.StorageEntity, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeUpstream) Insert(ctx context.Context, entity *types.StorageEntity) error {
	f.rows[entity.ID()] = entity
	return nil
}

func (f *fakeUpstream) Update(ctx context.Context, id string, fields *types.StorageEntity) error {
	f.rows[id] = fields
	return nil
}

func (f *fakeUpstream) Delete(ctx context.Context, id string) error {
	delete(f.rows, id)
	return nil
}

var _ operations.CrudOperations = (*fakeUpstream)(nil)

func newCache(t *testing.T, upstream *fakeUpstream, writable bool) *cache.Cache {
	t.Helper()
	pool, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	var crud operations.CrudOperations
	if writable {
		crud = upstream
	}
	c, err := cache.New(context.Background(), pool, testSchema(), upstream, crud)
	require.NoError(t, err)
	return c
}

func TestCacheSyncMirrorsUpstreamRows(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.rows["1"] = widget("1", "gear")
	c := newCache(t, upstream, false)

	require.NoError(t, c.Sync(context.Background()))
	row, err := c.GetByID(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, "gear", row.MustGet("name").Str())
}

func TestCacheGetByIDFallsBackToUpstreamAndMirrors(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.rows["1"] = widget("1", "gear")
	c := newCache(t, upstream, false)

	row, err := c.GetByID(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, "gear", row.MustGet("name").Str())

	found, err := c.Query(context.Background(), types.All())
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestCacheGetByIDMissingReturnsBlockNotFound(t *testing.T) {
	c := newCache(t, newFakeUpstream(), false)
	_, err := c.GetByID(context.Background(), "nonexistent")
	require.Error(t, err)
	require.True(t, types.IsBlockNotFound(err))

	_, found, err := c.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCacheWritesFailOnReadOnlyUpstream(t *testing.T) {
	c := newCache(t, newFakeUpstream(), false)
	err := c.Insert(context.Background(), widget("1", "gear"))
	require.Error(t, err)
	require.True(t, types.IsInvalidOperation(err))

	err = c.Update(context.Background(), "1", widget("1", "gear"))
	require.Error(t, err)
	require.True(t, types.IsInvalidOperation(err))

	err = c.Delete(context.Background(), "1")
	require.Error(t, err)
	require.True(t, types.IsInvalidOperation(err))
}

func TestCacheWritesThroughAndMirrorLocally(t *testing.T) {
	upstream := newFakeUpstream()
	c := newCache(t, upstream, true)

	require.NoError(t, c.Insert(context.Background(), widget("1", "gear")))
	_, ok := upstream.rows["1"]
	require.True(t, ok)
	row, err := c.GetByID(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, "gear", row.MustGet("name").Str())

	require.NoError(t, c.Update(context.Background(), "1", widget("1", "sprocket")))
	row, err = c.GetByID(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, "sprocket", row.MustGet("name").Str())

	require.NoError(t, c.Delete(context.Background(), "1"))
	_, found, err := c.Get(context.Background(), "1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCacheQueryPredicateFiltersInMemory(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.rows["1"] = widget("1", "gear")
	upstream.rows["2"] = widget("2", "sprocket")
	c := newCache(t, upstream, false)
	require.NoError(t, c.Sync(context.Background()))

	matched, err := c.QueryPredicate(context.Background(), func(e *types.StorageEntity) bool {
		return e.MustGet("name").Str() == "gear"
	})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, "1", matched[0].ID())
}

// fakeNotifier is a minimal operations.ChangeNotifications double that
// replays a fixed slice of batches, one per receive, then closes.
type fakeNotifier struct {
	batches []types.Batch[*types.StorageEntity]
}

func (n *fakeNotifier) Subscribe(ctx context.Context, from types.StreamPosition) (<-chan types.Batch[*types.StorageEntity], error) {
	ch := make(chan types.Batch[*types.StorageEntity], len(n.batches))
	for _, b := range n.batches {
		ch <- b
	}
	close(ch)
	return ch, nil
}

var _ operations.ChangeNotifications[*types.StorageEntity] = (*fakeNotifier)(nil)

func TestCacheIngestAppliesCreatedUpdatedDeleted(t *testing.T) {
	c := newCache(t, newFakeUpstream(), false)
	origin := types.LocalOrigin("", "")
	notifier := &fakeNotifier{batches: []types.Batch[*types.StorageEntity]{
		types.NewBatch("widgets", []types.Change[*types.StorageEntity]{
			types.Created[*types.StorageEntity](widget("1", "gear"), origin),
		}),
		types.NewBatch("widgets", []types.Change[*types.StorageEntity]{
			types.Updated[*types.StorageEntity]("1", widget("1", "sprocket"), origin),
		}),
		types.NewBatch("widgets", []types.Change[*types.StorageEntity]{
			types.Deleted[*types.StorageEntity]("1", origin),
		}),
	}}

	sc := stopper.WithContext(context.Background())
	require.NoError(t, c.Ingest(sc, notifier, types.Beginning))

	require.Eventually(t, func() bool {
		_, found, err := c.Get(context.Background(), "1")
		return err == nil && !found
	}, time.Second, time.Millisecond)

	require.NoError(t, sc.Wait())
}
