// Package chaos wraps an operations.CrudOperations provider so property
// tests can inject transient upstream failures without the
// failure-and-retry logic leaking into internal/operations' dispatcher
// itself.
//
// Ported in spirit, not code, from
// internal/source/logical/chaos.go's WithChaos: a probability-gated
// wrapper around each method of the interface it fronts, returning a
// sentinel error instead of delegating. That version wraps a Dialect/
// Events/Batch replication pipeline; this package wraps the much
// smaller DataSource/CrudOperations/SyncableProvider provider surface
// (internal/operations/provider.go) instead, since that — not a
// replication Dialect — is this codebase's equivalent seam between
// "business logic" and "the upstream system that can fail".
package chaos

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/types"
)

// ErrChaos is the error injected by a Provider wrapper.
var ErrChaos = errors.New("chaos")

// doChaos is a convenient place to set a breakpoint.
func doChaos(msg string) error {
	return errors.WithMessage(ErrChaos, msg)
}

// Provider wraps an operations.CrudOperations and injects ErrChaos on
// each method with independent probability prob. If the delegate also
// implements operations.SyncableProvider, the returned Provider does
// too, with Sync subject to the same injection.
type Provider struct {
	delegate operations.CrudOperations
	prob     float32
}

var _ operations.DataSource = (*Provider)(nil)
var _ operations.CrudOperations = (*Provider)(nil)

// WithChaos wraps delegate so that each DataSource/CrudOperations call
// fails with ErrChaos with independent probability prob. delegate is
// returned unwrapped when prob <= 0.
//
// This intentionally uses the package global math/rand source rather
// than a seeded *rand.Rand, since the methods below are expected to be
// called from multiple goroutines and there is no useful notion of
// "repeatable chaos" once that happens.
func WithChaos(delegate operations.CrudOperations, prob float32) operations.CrudOperations {
	if prob <= 0 {
		return delegate
	}
	if syncable, ok := delegate.(operations.SyncableProvider); ok {
		return &syncableProvider{
			Provider: Provider{delegate: delegate, prob: prob},
			syncable: syncable,
		}
	}
	return &Provider{delegate: delegate, prob: prob}
}

// EntityName satisfies operations.DataSource.
func (p *Provider) EntityName() string { return p.delegate.EntityName() }

// Schema satisfies operations.DataSource.
func (p *Provider) Schema() *types.Schema { return p.delegate.Schema() }

// Get satisfies operations.DataSource, failing with ErrChaos before
// reaching the delegate with probability prob.
func (p *Provider) Get(ctx context.Context, id string) (*types.StorageEntity, bool, error) {
	if rand.Float32() < p.prob {
		return nil, false, doChaos("Get")
	}
	return p.delegate.Get(ctx, id)
}

// Query satisfies operations.DataSource.
func (p *Provider) Query(ctx context.Context, filter types.Filter) ([]*types.StorageEntity, error) {
	if rand.Float32() < p.prob {
		return nil, doChaos("Query")
	}
	return p.delegate.Query(ctx, filter)
}

// Insert satisfies operations.CrudOperations.
func (p *Provider) Insert(ctx context.Context, entity *types.StorageEntity) error {
	if rand.Float32() < p.prob {
		return doChaos("Insert")
	}
	return p.delegate.Insert(ctx, entity)
}

// Update satisfies operations.CrudOperations.
func (p *Provider) Update(ctx context.Context, id string, fields *types.StorageEntity) error {
	if rand.Float32() < p.prob {
		return doChaos("Update")
	}
	return p.delegate.Update(ctx, id, fields)
}

// Delete satisfies operations.CrudOperations.
func (p *Provider) Delete(ctx context.Context, id string) error {
	if rand.Float32() < p.prob {
		return doChaos("Delete")
	}
	return p.delegate.Delete(ctx, id)
}

// syncableProvider layers operations.SyncableProvider onto Provider
// when the wrapped delegate supports it, the same way a
// chaosBackfiller layers Backfiller onto chaosDialect only when the
// wrapped Dialect implements it.
type syncableProvider struct {
	Provider
	syncable operations.SyncableProvider
}

var _ operations.SyncableProvider = (*syncableProvider)(nil)

// ProviderName satisfies operations.SyncableProvider.
func (s *syncableProvider) ProviderName() string { return s.syncable.ProviderName() }

// Sync satisfies operations.SyncableProvider, failing with ErrChaos
// before reaching the delegate with probability prob.
func (s *syncableProvider) Sync(ctx context.Context) error {
	if rand.Float32() < s.prob {
		return doChaos("Sync")
	}
	return s.syncable.Sync(ctx)
}
