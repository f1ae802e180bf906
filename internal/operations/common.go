package operations

import (
	"context"

	"github.com/nightscape/holon/internal/types"
)

// SetFieldEntry builds the `set_field` OperationEntry any
// CrudOperations-backed provider can register to get scenario S1's
// single-field update with a proper inverse: it reads the row's
// current value for the named field before applying the write so the
// returned UndoAction can restore it exactly.
func SetFieldEntry(entityName string, crud CrudOperations) types.OperationEntry {
	return types.OperationEntry{
		Descriptor: types.OperationDescriptor{
			EntityName:  entityName,
			Name:        "set_field",
			DisplayName: "Set field",
			Description: "Set a single field to a new value.",
			RequiredParams: []types.ParamHint{
				{Name: "id", TypeHint: "reference"},
				{Name: "field", TypeHint: "string"},
				{Name: "value", TypeHint: "any"},
			},
		},
		Fn: func(ctx context.Context, params *types.StorageEntity) (types.UndoAction, error) {
			id := params.ID()
			field, _ := params.Get("field")
			value, _ := params.Get("value")
			if field.Str() == "" {
				return types.Irreversible, types.NewInvalidOperation("set_field requires a non-empty field name")
			}

			current, found, err := crud.Get(ctx, id)
			if err != nil {
				return types.Irreversible, err
			}
			if !found {
				return types.Irreversible, types.NewBlockNotFound(id)
			}
			previous := current.MustGet(field.Str())

			update := types.NewStorageEntity().Set(types.ReservedID, types.NewString(id)).Set(field.Str(), value)
			if err := crud.Update(ctx, id, update); err != nil {
				return types.Irreversible, err
			}

			inverse := types.NewStorageEntity().Set(types.ReservedID, types.NewString(id)).
				Set("field", field).Set("value", previous)
			return types.Undo(types.Operation{EntityName: entityName, OpName: "set_field", Params: inverse}), nil
		},
	}
}
