package operations

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"github.com/nightscape/holon/internal/telemetry"
	"github.com/nightscape/holon/internal/types"
)

const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// Dispatcher is the Operation Dispatcher: it resolves
// (entity_name, op_name, params) to an UndoAction, trying an
// entity-specific registered operation first, then the provider's own
// generic CRUD (create/update/delete), then any wildcard ("*")
// operation, failing with UnknownOperationError if nothing matches.
type Dispatcher struct {
	registry *Registry

	mu   sync.RWMutex
	crud map[string]CrudOperations // entityName -> provider
	sync map[string]SyncableProvider
}

// NewDispatcher builds a Dispatcher backed by registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		crud:     make(map[string]CrudOperations),
		sync:     make(map[string]SyncableProvider),
	}
}

// RegisterCrud associates a CrudOperations provider with the entity
// name it serves, used for the generic create/update/delete fallback.
func (d *Dispatcher) RegisterCrud(p CrudOperations) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crud[p.EntityName()] = p
}

// RegisterSyncable registers a provider reachable by name via Sync /
// SyncAll.
func (d *Dispatcher) RegisterSyncable(p SyncableProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sync[p.ProviderName()] = p
}

// ExecuteOperation dispatches one operation call and returns the
// UndoAction its OperationFunc produced, stamped with entityName. A
// fresh operation id is minted and attached to ctx (alongside whatever
// trace span ctx already carries) so every mutation the dispatched
// OperationFunc performs can stamp its origin with both.
func (d *Dispatcher) ExecuteOperation(ctx context.Context, entityName, opName string, params *types.StorageEntity) (types.UndoAction, error) {
	ctx = telemetry.WithOperationID(ctx, uuid.NewString())
	start := time.Now()
	action, err := d.executeOperation(ctx, entityName, opName, params)
	telemetry.OperationDispatchLatency.WithLabelValues(entityName).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.OperationDispatchErrors.WithLabelValues(entityName).Inc()
	}
	return action, err
}

func (d *Dispatcher) executeOperation(ctx context.Context, entityName, opName string, params *types.StorageEntity) (types.UndoAction, error) {
	entry, registered := d.registry.Lookup(entityName, opName)
	if !registered || entry.Descriptor.IsWildcard() {
		d.mu.RLock()
		provider, hasCrud := d.crud[entityName]
		d.mu.RUnlock()
		if hasCrud {
			if action, err, handled := d.dispatchGenericCrud(ctx, provider, opName, params); handled {
				if err != nil {
					return types.Irreversible, err
				}
				return action.WithEntityName(entityName), nil
			}
		}
	}

	if registered {
		if entry.Descriptor.Precondition != nil {
			current, _, _ := d.getCurrent(ctx, entityName, params)
			if !entry.Descriptor.Precondition(current, params) {
				return types.Irreversible, types.NewInvalidOperation(entityName + "." + opName + ": precondition failed")
			}
		}
		action, err := entry.Fn(ctx, params)
		if err != nil {
			return types.Irreversible, err
		}
		return action.WithEntityName(entityName), nil
	}

	return types.Irreversible, types.NewUnknownOperation(entityName, opName)
}

func (d *Dispatcher) getCurrent(ctx context.Context, entityName string, params *types.StorageEntity) (*types.StorageEntity, bool, error) {
	d.mu.RLock()
	provider, ok := d.crud[entityName]
	d.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return provider.Get(ctx, params.ID())
}

// dispatchGenericCrud implements the generic create/update/delete
// fallback. create returns a delete inverse; update and delete read
// the row first and return an update/create inverse carrying the prior
// row, or Irreversible when no prior row was found.
func (d *Dispatcher) dispatchGenericCrud(ctx context.Context, p CrudOperations, opName string, params *types.StorageEntity) (types.UndoAction, error, bool) {
	switch opName {
	case opCreate:
		if err := p.Insert(ctx, params); err != nil {
			return types.Irreversible, err, true
		}
		return types.Undo(types.Operation{EntityName: p.EntityName(), OpName: opDelete, Params: params}), nil, true
	case opUpdate:
		id := params.ID()
		before, found, err := p.Get(ctx, id)
		if err != nil {
			return types.Irreversible, err, true
		}
		if err := p.Update(ctx, id, params); err != nil {
			return types.Irreversible, err, true
		}
		if !found {
			return types.Irreversible, nil, true
		}
		return types.Undo(types.Operation{EntityName: p.EntityName(), OpName: opUpdate, Params: before}), nil, true
	case opDelete:
		id := params.ID()
		before, found, err := p.Get(ctx, id)
		if err != nil {
			return types.Irreversible, err, true
		}
		if err := p.Delete(ctx, id); err != nil {
			return types.Irreversible, err, true
		}
		if !found {
			return types.Irreversible, nil, true
		}
		return types.Undo(types.Operation{EntityName: p.EntityName(), OpName: opCreate, Params: before}), nil, true
	default:
		return types.Irreversible, nil, false
	}
}

// SyncAll runs every registered SyncableProvider concurrently,
// stopping at the first error (sync_all), grounded on
// internal/source/logical/serial_events.go's use of
// golang.org/x/sync/errgroup for bounded concurrent fan-out.
func (d *Dispatcher) SyncAll(ctx context.Context) error {
	d.mu.RLock()
	providers := make([]SyncableProvider, 0, len(d.sync))
	for _, p := range d.sync {
		providers = append(providers, p)
	}
	d.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			log.WithField("provider", p.ProviderName()).Debug("syncing provider")
			return p.Sync(ctx)
		})
	}
	return g.Wait()
}

// Sync runs a single named provider's sync (sync(provider_name)).
func (d *Dispatcher) Sync(ctx context.Context, providerName string) error {
	d.mu.RLock()
	p, ok := d.sync[providerName]
	d.mu.RUnlock()
	if !ok {
		return types.NewInvalidOperation("unknown provider: " + providerName)
	}
	return p.Sync(ctx)
}
