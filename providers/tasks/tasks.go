// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package tasks is an example entity provider exercising set_field
// with its inverse, plus task-specific convenience operations:
// set_completion, set_priority, and set_due_date, each a thin
// specialization of the shared set_field contract grounded on
// internal/operations.SetFieldEntry.
package tasks

import (
	"context"

	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/storage"
	"github.com/nightscape/holon/internal/types"
)

// EntityName is the table/entity name this provider serves.
const EntityName = "tasks"

// Schema describes the tasks table.
var Schema = &types.Schema{
	TableName:  EntityName,
	PrimaryKey: "id",
	Fields: []types.FieldDescriptor{
		{Name: "id", Type: types.FieldString, PrimaryKey: true, Required: true},
		{Name: "content", Type: types.FieldString},
		{Name: "completed", Type: types.FieldBoolean, Required: true, Indexed: true},
		{Name: "priority", Type: types.FieldInteger, Indexed: true},
		{Name: "due_date", Type: types.FieldDateTime, Indexed: true},
	},
}

// Provider is the tasks entity's DataSource/CrudOperations/
// OperationProvider implementation.
type Provider struct {
	pool *storage.Pool
}

// New materializes the tasks table and returns a ready Provider.
func New(ctx context.Context, pool *storage.Pool) (*Provider, error) {
	if err := pool.CreateEntity(ctx, Schema); err != nil {
		return nil, err
	}
	return &Provider{pool: pool}, nil
}

// EntityName satisfies operations.DataSource.
func (p *Provider) EntityName() string { return EntityName }

// Schema satisfies operations.DataSource.
func (p *Provider) Schema() *types.Schema { return Schema }

// Get satisfies operations.DataSource.
func (p *Provider) Get(ctx context.Context, id string) (*types.StorageEntity, bool, error) {
	return p.pool.Get(ctx, EntityName, id)
}

// Query satisfies operations.DataSource.
func (p *Provider) Query(ctx context.Context, filter types.Filter) ([]*types.StorageEntity, error) {
	return p.pool.Query(ctx, EntityName, filter)
}

// Insert satisfies operations.CrudOperations.
func (p *Provider) Insert(ctx context.Context, entity *types.StorageEntity) error {
	return p.pool.Insert(ctx, EntityName, entity)
}

// Update satisfies operations.CrudOperations.
func (p *Provider) Update(ctx context.Context, id string, fields *types.StorageEntity) error {
	return p.pool.Update(ctx, EntityName, id, fields)
}

// Delete satisfies operations.CrudOperations.
func (p *Provider) Delete(ctx context.Context, id string) error {
	return p.pool.Delete(ctx, EntityName, id)
}

// Operations satisfies operations.OperationProvider: set_field plus
// the task-specific single-field convenience wrappers.
func (p *Provider) Operations() []types.OperationEntry {
	return []types.OperationEntry{
		operations.SetFieldEntry(EntityName, p),
		p.fieldShortcut("set_completion", "completed", "boolean"),
		p.fieldShortcut("set_priority", "priority", "integer"),
		p.fieldShortcut("set_due_date", "due_date", "datetime"),
	}
}

// fieldShortcut builds a single-field convenience operation (e.g.
// set_completion(id, value)) that delegates to the same inverse-
// building logic as set_field, fixing the target field name so callers
// don't need to pass it explicitly.
func (p *Provider) fieldShortcut(opName, field, typeHint string) types.OperationEntry {
	setField := operations.SetFieldEntry(EntityName, p)
	return types.OperationEntry{
		Descriptor: types.OperationDescriptor{
			EntityName:  EntityName,
			Name:        opName,
			DisplayName: opName,
			Description: "Sets the " + field + " field.",
			RequiredParams: []types.ParamHint{
				{Name: "id", TypeHint: "reference"},
				{Name: "value", TypeHint: typeHint},
			},
		},
		Fn: func(ctx context.Context, params *types.StorageEntity) (types.UndoAction, error) {
			value, _ := params.Get("value")
			wrapped := types.NewStorageEntity().
				Set(types.ReservedID, types.NewString(params.ID())).
				Set("field", types.NewString(field)).
				Set("value", value)
			action, err := setField.Fn(ctx, wrapped)
			if err != nil {
				return types.Irreversible, err
			}
			if !action.IsReversible() {
				return action, nil
			}
			action.Operation.OpName = opName
			inverseValue := action.Operation.Params.MustGet("value")
			action.Operation.Params = types.NewStorageEntity().
				Set(types.ReservedID, types.NewString(params.ID())).
				Set("value", inverseValue)
			return action, nil
		},
	}
}

var _ operations.DataSource = (*Provider)(nil)
var _ operations.CrudOperations = (*Provider)(nil)
var _ operations.OperationProvider = (*Provider)(nil)
