package operations

import (
	"sync"

	"github.com/nightscape/holon/internal/types"
)

// Registry is the Operation Metadata Registry (C5): it aggregates the
// OperationEntry values every registered OperationProvider exposes,
// keyed by entity name, plus the wildcard ("*") entries that apply to
// any entity lacking a more specific match.
type Registry struct {
	mu       sync.RWMutex
	byEntity map[string]map[string]types.OperationEntry
	wildcard map[string]types.OperationEntry
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byEntity: make(map[string]map[string]types.OperationEntry),
		wildcard: make(map[string]types.OperationEntry),
	}
}

// RegisterProvider folds every OperationEntry a provider exposes into
// the registry, entity-specific entries into their own entity's bucket
// and EntityName=="*" entries into the wildcard bucket.
func (r *Registry) RegisterProvider(p OperationProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range p.Operations() {
		if entry.Descriptor.IsWildcard() {
			r.wildcard[entry.Descriptor.Name] = entry
			continue
		}
		bucket, ok := r.byEntity[entry.Descriptor.EntityName]
		if !ok {
			bucket = make(map[string]types.OperationEntry)
			r.byEntity[entry.Descriptor.EntityName] = bucket
		}
		bucket[entry.Descriptor.Name] = entry
	}
}

// Lookup resolves (entityName, opName) to its registered entry,
// preferring an entity-specific registration over a wildcard one.
func (r *Registry) Lookup(entityName, opName string) (types.OperationEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bucket, ok := r.byEntity[entityName]; ok {
		if entry, ok := bucket[opName]; ok {
			return entry, true
		}
	}
	entry, ok := r.wildcard[opName]
	return entry, ok
}

// Descriptors returns every descriptor registered for entityName
// (entity-specific union wildcard), for introspection/UI purposes.
func (r *Registry) Descriptors(entityName string) []types.OperationDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.OperationDescriptor
	for _, entry := range r.byEntity[entityName] {
		out = append(out, entry.Descriptor)
	}
	for _, entry := range r.wildcard {
		out = append(out, entry.Descriptor)
	}
	return out
}
