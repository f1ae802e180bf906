// Package cache implements the Queryable Cache (C8): a local mirror of
// an upstream DataSource kept current either by a one-shot Sync or by
// a long-lived Ingest loop over a live change stream, serving get_by_id
// and query out of the local mirror with upstream fallback on miss.
//
// The upsert/delete SQL-building this package needs was previously
// drafted directly against *sql.DB in a root-level sink.go and
// resolved_table.go (resolvedTable.computeUpsert /
// resolvedTable.computeDelete, generic placeholder-per-column SQL
// construction keyed off a target schema); that logic has been folded
// into internal/storage's typed CRUD instead of being reimplemented
// here, so Cache only orchestrates calls into *storage.Pool — see
// DESIGN.md for the disposition of those two source files.
package cache

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/storage"
	"github.com/nightscape/holon/internal/types"
	"github.com/nightscape/holon/internal/util/stopper"
)

// Cache mirrors one upstream entity kind into a local storage.Pool
// table, a generic Cache<T>.
type Cache struct {
	pool     *storage.Pool
	schema   *types.Schema
	upstream operations.DataSource
	crud     operations.CrudOperations // nil if upstream is read-only

	mu        sync.RWMutex
	ingesting bool

	syncGroup singleflight.Group
}

// New materializes the mirror table and returns a ready Cache. crud may
// be nil when the upstream is read-only (writes then always fail with
// InvalidOperation).
func New(ctx context.Context, pool *storage.Pool, schema *types.Schema, upstream operations.DataSource, crud operations.CrudOperations) (*Cache, error) {
	if err := pool.CreateEntity(ctx, schema); err != nil {
		return nil, err
	}
	return &Cache{pool: pool, schema: schema, upstream: upstream, crud: crud}, nil
}

// EntityName satisfies operations.DataSource.
func (c *Cache) EntityName() string { return c.schema.TableName }

// Schema satisfies operations.DataSource.
func (c *Cache) Schema() *types.Schema { return c.schema }

// Sync performs a one-shot full resync from the upstream, upserting
// every row it returns into the local mirror (sync()). Concurrent
// callers collapse onto a single in-flight resync via syncGroup, so a
// dispatcher.SyncAll racing a manually triggered sync(provider_name)
// for the same entity runs the upstream query once.
func (c *Cache) Sync(ctx context.Context) error {
	_, err, _ := c.syncGroup.Do(c.schema.TableName, func() (interface{}, error) {
		rows, err := c.upstream.Query(ctx, types.All())
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if err := c.upsert(ctx, row); err != nil {
				return nil, err
			}
		}
		log.WithField("entity", c.schema.TableName).WithField("rows", len(rows)).Debug("cache: full resync complete")
		return nil, nil
	})
	return err
}

// ProviderName satisfies operations.SyncableProvider, letting the
// dispatcher's sync_all/sync(provider_name) drive this cache's resync
// directly.
func (c *Cache) ProviderName() string { return c.schema.TableName }

func (c *Cache) upsert(ctx context.Context, row *types.StorageEntity) error {
	_, found, err := c.pool.Get(ctx, c.schema.TableName, row.ID())
	if err != nil {
		return err
	}
	if found {
		return c.pool.Update(ctx, c.schema.TableName, row.ID(), row)
	}
	return c.pool.Insert(ctx, c.schema.TableName, row)
}

// Ingest starts a long-lived task that consumes notifier's
// live change stream from `from` and applies each Change to the local
// mirror, keeping it current without further polling. It runs until sc
// stops.
func (c *Cache) Ingest(sc *stopper.Context, notifier operations.ChangeNotifications[*types.StorageEntity], from types.StreamPosition) error {
	c.mu.Lock()
	if c.ingesting {
		c.mu.Unlock()
		return nil
	}
	c.ingesting = true
	c.mu.Unlock()

	batches, err := notifier.Subscribe(sc, from)
	if err != nil {
		return err
	}
	sc.Go(func() error {
		for {
			select {
			case <-sc.Stopping():
				return nil
			case batch, ok := <-batches:
				if !ok {
					return nil
				}
				c.applyBatch(sc, batch)
			}
		}
	})
	return nil
}

func (c *Cache) applyBatch(ctx context.Context, batch types.Batch[*types.StorageEntity]) {
	for _, change := range batch.Changes {
		var err error
		switch change.Kind() {
		case types.ChangeCreated:
			err = c.upsert(ctx, change.Data())
		case types.ChangeUpdated:
			err = c.upsert(ctx, change.Data())
		case types.ChangeDeleted:
			err = c.pool.Delete(ctx, c.schema.TableName, change.ID())
			if err == storage.ErrNotFound {
				err = nil
			}
		}
		if err != nil {
			log.WithError(err).WithField("entity", c.schema.TableName).Warn("cache: failed to apply ingested change")
		}
	}
}

// GetByID serves from the local mirror, falling back to the upstream
// and mirroring the result on a miss (get_by_id).
func (c *Cache) GetByID(ctx context.Context, id string) (*types.StorageEntity, error) {
	entity, found, err := c.pool.Get(ctx, c.schema.TableName, id)
	if err != nil {
		return nil, err
	}
	if found {
		return entity, nil
	}
	upstreamEntity, found, err := c.upstream.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NewBlockNotFound(id)
	}
	if err := c.upsert(ctx, upstreamEntity); err != nil {
		log.WithError(err).Warn("cache: failed to mirror upstream row after miss")
	}
	return upstreamEntity, nil
}

// Get is the operations.DataSource-shaped alias of GetByID, returning
// ok=false rather than a BlockNotFound error on miss.
func (c *Cache) Get(ctx context.Context, id string) (*types.StorageEntity, bool, error) {
	entity, err := c.GetByID(ctx, id)
	if types.IsBlockNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entity, true, nil
}

// Query compiles filter to SQL and runs it against the local mirror
// (query<Predicate>).
func (c *Cache) Query(ctx context.Context, filter types.Filter) ([]*types.StorageEntity, error) {
	return c.pool.Query(ctx, c.schema.TableName, filter)
}

// QueryPredicate is the in-memory fallback path for predicates that do
// not reduce to a types.Filter tree: it loads the full local mirror and
// applies pred in process, matching "SQL-compile-or-
// memory-fallback" strategy for query<Predicate>.
func (c *Cache) QueryPredicate(ctx context.Context, pred func(*types.StorageEntity) bool) ([]*types.StorageEntity, error) {
	all, err := c.pool.Query(ctx, c.schema.TableName, types.All())
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Insert writes through to the upstream CrudOperations (when present)
// and mirrors the accepted row locally.
func (c *Cache) Insert(ctx context.Context, entity *types.StorageEntity) error {
	if c.crud == nil {
		return types.NewInvalidOperation(c.schema.TableName + " is read-only")
	}
	if err := c.crud.Insert(ctx, entity); err != nil {
		return err
	}
	return c.upsert(ctx, entity)
}

// Update writes through to the upstream and mirrors the merged row.
func (c *Cache) Update(ctx context.Context, id string, fields *types.StorageEntity) error {
	if c.crud == nil {
		return types.NewInvalidOperation(c.schema.TableName + " is read-only")
	}
	if err := c.crud.Update(ctx, id, fields); err != nil {
		return err
	}
	merged, found, err := c.crud.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return c.upsert(ctx, merged)
}

// Delete writes through to the upstream and evicts the local mirror row.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if c.crud == nil {
		return types.NewInvalidOperation(c.schema.TableName + " is read-only")
	}
	if err := c.crud.Delete(ctx, id); err != nil {
		return err
	}
	err := c.pool.Delete(ctx, c.schema.TableName, id)
	if err == storage.ErrNotFound {
		return nil
	}
	return err
}

var _ operations.DataSource = (*Cache)(nil)
var _ operations.CrudOperations = (*Cache)(nil)
var _ operations.SyncableProvider = (*Cache)(nil)
