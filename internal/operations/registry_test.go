package operations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/types"
)

type staticOperationProvider struct {
	entries []types.OperationEntry
}

func (p staticOperationProvider) Operations() []types.OperationEntry { return p.entries }

func noopFn(_ context.Context, params *types.StorageEntity) (types.UndoAction, error) {
	return types.Irreversible, nil
}

func entityEntry(entityName, opName string) types.OperationEntry {
	return types.OperationEntry{
		Descriptor: types.OperationDescriptor{EntityName: entityName, Name: opName},
		Fn:         noopFn,
	}
}

func wildcardEntry(opName string) types.OperationEntry {
	return types.OperationEntry{
		Descriptor: types.OperationDescriptor{EntityName: "*", Name: opName},
		Fn:         noopFn,
	}
}

func TestRegistryPrefersEntitySpecificOverWildcard(t *testing.T) {
	r := operations.NewRegistry()
	r.RegisterProvider(staticOperationProvider{entries: []types.OperationEntry{
		wildcardEntry("archive"),
		entityEntry("blocks", "archive"),
	}})

	entry, ok := r.Lookup("blocks", "archive")
	require.True(t, ok)
	require.Equal(t, "blocks", entry.Descriptor.EntityName)

	// an entity with no specific registration still finds the wildcard.
	entry, ok = r.Lookup("tasks", "archive")
	require.True(t, ok)
	require.True(t, entry.Descriptor.IsWildcard())
}

func TestRegistryLookupMiss(t *testing.T) {
	r := operations.NewRegistry()
	_, ok := r.Lookup("blocks", "nonexistent")
	require.False(t, ok)
}

func TestRegistryDescriptorsUnionsEntityAndWildcard(t *testing.T) {
	r := operations.NewRegistry()
	r.RegisterProvider(staticOperationProvider{entries: []types.OperationEntry{
		entityEntry("blocks", "indent"),
		wildcardEntry("archive"),
	}})

	descriptors := r.Descriptors("blocks")
	require.Len(t, descriptors, 2)
	names := map[string]bool{}
	for _, d := range descriptors {
		names[d.Name] = true
	}
	require.True(t, names["indent"])
	require.True(t, names["archive"])
}
