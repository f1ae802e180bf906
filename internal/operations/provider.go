// Package operations implements the Operation Metadata Registry (C5),
// the Operation Dispatcher (C6), and the Provider Contract (C7)
// interfaces every entity provider (providers/blocks, providers/tasks,
// providers/pgmirror) must satisfy.
//
// The split of "what a provider can do" into small composable
// interfaces — a mandatory DataSource, plus optional
// ChangeNotifications/SyncableProvider/OperationProvider capabilities —
// mirrors the Conn/Applier/Stager capability interfaces in
// internal/types/types.go, where a target only implements the
// sub-interfaces it actually supports and callers type-assert for the
// rest.
package operations

import (
	"context"

	"github.com/nightscape/holon/internal/types"
)

// DataSource is the mandatory capability every provider exposes: plain
// CRUD against one entity kind.
type DataSource interface {
	EntityName() string
	Schema() *types.Schema
	Get(ctx context.Context, id string) (*types.StorageEntity, bool, error)
	Query(ctx context.Context, filter types.Filter) ([]*types.StorageEntity, error)
}

// CrudOperations is the optional capability for providers that accept
// direct mutation (as opposed to read-only upstreams); the cache (C8)
// routes generic create/update/delete through this when a provider
// does not register entity-specific operations for them.
type CrudOperations interface {
	DataSource
	Insert(ctx context.Context, entity *types.StorageEntity) error
	Update(ctx context.Context, id string, fields *types.StorageEntity) error
	Delete(ctx context.Context, id string) error
}

// ChangeNotifications is the optional capability for providers that can
// push live Change events, generic over the provider's own row
// representation.
type ChangeNotifications[T any] interface {
	Subscribe(ctx context.Context, from types.StreamPosition) (<-chan types.Batch[T], error)
}

// SyncableProvider is the optional capability for providers backed by
// an external system that must be pulled on demand (sync_all /
// sync(provider_name)).
type SyncableProvider interface {
	ProviderName() string
	Sync(ctx context.Context) error
}

// OperationProvider is the optional capability for providers that
// register entity-specific operations beyond generic CRUD; the
// Operation Metadata Registry aggregates these per entity.
type OperationProvider interface {
	Operations() []types.OperationEntry
}
